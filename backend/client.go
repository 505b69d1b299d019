package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/farmauth"
	"github.com/sirupsen/logrus"
)

const maxResponseBytes = 1 << 20

// StatusSuccess is the envelope status of a successful call.
const StatusSuccess = "success"

// Envelope is the backend response body. Error is read as a fallback for
// Message because some endpoints answer {"error": "..."}.
type Envelope struct {
	Status  string `json:"status,omitempty"`
	Token   string `json:"token,omitempty"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (e Envelope) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// Client calls the auth endpoints described by a [farmauth.BackendConfig].
type Client struct {
	baseURL string
	cfg     farmauth.BackendConfig
	http    *http.Client
	metrics *farmauth.Metrics
	logger  logrus.FieldLogger
	now     func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Auth calls are never made with a
// bearer token, so the plain client is the usual choice.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithMetrics(m *farmauth.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// New returns a Client for cfg. cfg.Timeout of zero leaves calls unbounded
// unless ctx carries a deadline.
func New(cfg farmauth.BackendConfig, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

type verifyRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Username string `json:"username"`
}

type loginRequest struct {
	Email string `json:"email"`
}

type federatedRequest struct {
	Credential string `json:"credential"`
}

// Register asks the backend to deliver a verification code to email. Any 2xx
// answer is an acknowledgement; the body is only read for an error status.
func (c *Client) Register(ctx context.Context, email, username string) error {
	status, env, err := c.post(ctx, c.cfg.RegisterPath, &registerRequest{Email: email, Username: username})
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return rejection(status, env)
	}
	if env.Status != "" && env.Status != StatusSuccess {
		return rejection(status, env)
	}
	return nil
}

// VerifyAndCreate confirms the code and creates the account.
func (c *Client) VerifyAndCreate(ctx context.Context, email, code, username string) (farmauth.IdentityAssertion, error) {
	return c.session(ctx, c.cfg.VerifyPath, &verifyRequest{Email: email, Code: code, Username: username}, farmauth.ProviderBackendOTP)
}

// Login signs in a registered email.
func (c *Client) Login(ctx context.Context, email string) (farmauth.IdentityAssertion, error) {
	return c.session(ctx, c.cfg.LoginPath, &loginRequest{Email: email}, farmauth.ProviderBackendOTP)
}

// FederatedLogin exchanges the provider's identity token for a session.
func (c *Client) FederatedLogin(ctx context.Context, credential string) (farmauth.IdentityAssertion, error) {
	return c.session(ctx, c.cfg.FederatedLoginPath, &federatedRequest{Credential: credential}, farmauth.ProviderFederated)
}

func (c *Client) session(ctx context.Context, path string, body any, provider farmauth.ProviderKind) (farmauth.IdentityAssertion, error) {
	status, env, err := c.post(ctx, path, body)
	if err != nil {
		return farmauth.IdentityAssertion{}, err
	}
	if status < 200 || status > 299 || env.Status != StatusSuccess {
		return farmauth.IdentityAssertion{}, rejection(status, env)
	}

	a := farmauth.IdentityAssertion{
		SubjectEmail: env.Email,
		OpaqueToken:  env.Token,
		Provider:     provider,
		IssuedAt:     c.now(),
	}
	if err := a.Validate(); err != nil {
		return farmauth.IdentityAssertion{}, &farmauth.RejectionError{
			StatusCode: status,
			Status:     env.Status,
			Message:    "backend returned an incomplete session",
		}
	}
	return a, nil
}

func rejection(status int, env Envelope) error {
	return &farmauth.RejectionError{
		StatusCode: status,
		Status:     env.Status,
		Message:    env.text(),
	}
}

func (c *Client) post(ctx context.Context, path string, body any) (int, Envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, Envelope{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, Envelope{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.metrics.LatencyEnabled() {
		c.metrics.Observe(farmauth.MetricBackendLatency, time.Since(start))
	}
	if err != nil {
		return 0, Envelope{}, fmt.Errorf("backend %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, Envelope{}, fmt.Errorf("backend %s: read response: %w", path, err)
	}

	var env Envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.WithError(err).WithField("path", path).Debug("backend: response is not an envelope")
			env = Envelope{}
		}
	}
	return resp.StatusCode, env, nil
}
