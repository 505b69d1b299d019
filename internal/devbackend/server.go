package devbackend

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/farmauth/internal/rate"
	"github.com/MrEthical07/farmauth/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Config tunes the dev backend.
type Config struct {
	CodeTTL         time.Duration
	CodeDigits      int
	MaxAttempts     int
	UserEmailHeader string
}

// DefaultConfig mirrors the production backend: six-digit codes valid for ten minutes.
func DefaultConfig() Config {
	return Config{
		CodeTTL:         10 * time.Minute,
		CodeDigits:      6,
		MaxAttempts:     5,
		UserEmailHeader: "X-User-Email",
	}
}

// Deps groups the collaborators of a [Server]. Credentials may be nil, which
// disables federated login. Nil limiters leave the endpoint unbudgeted.
type Deps struct {
	Codes        *CodeStore
	Users        UserStore
	Tokens       *TokenIssuer
	Mailer       Mailer
	Credentials  CredentialVerifier
	SendLimiter  *rate.Limiter
	LoginLimiter *rate.Limiter
	Logger       logrus.FieldLogger
}

// Server implements the FarmTrak auth endpoints.
type Server struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Codes == nil || deps.Tokens == nil {
		return nil, errors.New("devbackend: code store and token issuer are required")
	}
	if cfg.CodeTTL <= 0 || cfg.MaxAttempts <= 0 {
		return nil, errors.New("devbackend: CodeTTL and MaxAttempts must be > 0")
	}
	if cfg.UserEmailHeader == "" {
		cfg.UserEmailHeader = "X-User-Email"
	}
	if deps.Users == nil {
		deps.Users = NewMemoryUsers()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Mailer == nil {
		deps.Mailer = LogMailer{Logger: deps.Logger}
	}
	return &Server{cfg: cfg, deps: deps, now: time.Now}, nil
}

// Handler returns the router with panic recovery applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Recover(s.deps.Logger))

	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/verify-and-create", s.handleVerifyAndCreate).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/google-login", s.handleFederatedLogin).Methods(http.MethodPost)
	r.Handle("/me", s.authenticated(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)

	return r
}

/*
====================================
AUTH ENDPOINTS
====================================
*/

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)
	if email == "" {
		writeMessage(w, http.StatusBadRequest, "Email is required!")
		return
	}

	if _, exists, err := s.deps.Users.Get(r.Context(), email); err != nil {
		s.internal(w, r, "user lookup failed", err)
		return
	} else if exists {
		writeMessage(w, http.StatusBadRequest, "Email already used!")
		return
	}
	if !s.allow(w, r, s.deps.SendLimiter, email) {
		return
	}

	code, err := newCode(s.cfg.CodeDigits)
	if err != nil {
		s.internal(w, r, "code generation failed", err)
		return
	}
	rec := &PendingRegistration{
		Username:  strings.TrimSpace(req.Username),
		CodeHash:  hashCode(code),
		ExpiresAt: s.now().Add(s.cfg.CodeTTL).Unix(),
	}
	if err := s.deps.Codes.Save(r.Context(), email, rec, s.cfg.CodeTTL); err != nil {
		s.internal(w, r, "code save failed", err)
		return
	}
	if err := s.deps.Mailer.SendCode(r.Context(), email, rec.Username, code); err != nil {
		s.internal(w, r, "code delivery failed", err)
		return
	}

	writeMessage(w, http.StatusOK, "Code sent to your email!")
}

type verifyRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Username string `json:"username"`
}

func (s *Server) handleVerifyAndCreate(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)

	rec, err := s.deps.Codes.Consume(r.Context(), email, req.Code, s.cfg.MaxAttempts)
	switch {
	case errors.Is(err, ErrCodeAttemptsExceeded):
		writeFailure(w, http.StatusBadRequest, "Too many attempts, request a new code!")
		return
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeMismatch):
		writeFailure(w, http.StatusBadRequest, "Wrong code!")
		return
	case err != nil:
		s.internal(w, r, "code consume failed", err)
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = rec.Username
	}
	err = s.deps.Users.Create(r.Context(), User{
		Email:     email,
		Username:  username,
		Provider:  "email",
		CreatedAt: s.now(),
	})
	if errors.Is(err, ErrEmailTaken) {
		writeFailure(w, http.StatusBadRequest, "Email already used!")
		return
	}
	if err != nil {
		s.internal(w, r, "user create failed", err)
		return
	}

	s.writeSession(w, r, email)
}

type loginRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)
	if !s.allow(w, r, s.deps.LoginLimiter, email) {
		return
	}

	u, ok, err := s.deps.Users.Get(r.Context(), email)
	if err != nil {
		s.internal(w, r, "user lookup failed", err)
		return
	}
	if !ok {
		writeFailure(w, http.StatusBadRequest, "No account for this email!")
		return
	}
	if err := s.deps.LoginLimiter.Reset(r.Context(), email); err != nil {
		s.deps.Logger.WithError(err).Warn("login budget reset failed")
	}
	s.writeSession(w, r, u.Email)
}

type federatedRequest struct {
	Credential string `json:"credential"`
}

func (s *Server) handleFederatedLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Credentials == nil {
		writeMessage(w, http.StatusServiceUnavailable, "Google login is not configured")
		return
	}
	var req federatedRequest
	if !decode(w, r, &req) {
		return
	}

	email, name, err := s.deps.Credentials.Verify(r.Context(), req.Credential)
	if err != nil {
		s.deps.Logger.WithError(err).Debug("federated credential rejected")
		writeMessage(w, http.StatusUnauthorized, "Invalid Google token")
		return
	}
	email = normalizeEmail(email)

	err = s.deps.Users.Create(r.Context(), User{
		Email:     email,
		Username:  name,
		Provider:  "google",
		CreatedAt: s.now(),
	})
	if err != nil && !errors.Is(err, ErrEmailTaken) {
		s.internal(w, r, "user create failed", err)
		return
	}

	s.writeSession(w, r, email)
}

/*
====================================
PROTECTED ENDPOINTS
====================================
*/

type claimsKey struct{}

// authenticated rejects requests without a valid bearer token with 401 and a
// JSON {"error": ...} body. A present user email header must match the token.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}

		claims, err := s.deps.Tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		if hdr := r.Header.Get(s.cfg.UserEmailHeader); hdr != "" && normalizeEmail(hdr) != normalizeEmail(claims.Email) {
			writeError(w, http.StatusUnauthorized, "Token does not match user")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := r.Context().Value(claimsKey{}).(*Claims)
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	u, ok, err := s.deps.Users.Get(r.Context(), claims.Email)
	if err != nil {
		s.internal(w, r, "user lookup failed", err)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unknown user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

/*
====================================
HELPERS
====================================
*/

func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, email string) {
	token, err := s.deps.Tokens.Issue(email)
	if err != nil {
		s.internal(w, r, "token issue failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"email":  email,
		"token":  token,
	})
}

// allow charges one attempt against l and writes 429 when the budget is spent.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, l *rate.Limiter, id string) bool {
	err := l.Allow(r.Context(), id, clientIP(r))
	switch {
	case err == nil:
		return true
	case errors.Is(err, rate.ErrRateLimited):
		writeFailure(w, http.StatusTooManyRequests, "Too many requests, try again later!")
	default:
		s.internal(w, r, "rate limiter failed", err)
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) internal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.deps.Logger.WithError(err).WithField("path", r.URL.Path).Error(msg)
	writeMessage(w, http.StatusInternalServerError, "Something went wrong, try again!")
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
