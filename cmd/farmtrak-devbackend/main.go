// Command farmtrak-devbackend serves the FarmTrak auth endpoints locally.
// Without a Redis address it runs an embedded miniredis.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/farmauth"
	"github.com/MrEthical07/farmauth/internal/devbackend"
	"github.com/MrEthical07/farmauth/internal/rate"
)

func main() {
	var (
		addr         = flag.String("addr", "127.0.0.1:8081", "listen address")
		redisAddr    = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		secret       = flag.String("secret", "", "HS256 secret (>= 32 bytes); random when empty")
		tokenTTL     = flag.Duration("token-ttl", 24*time.Hour, "session token lifetime")
		codeTTL      = flag.Duration("code-ttl", 10*time.Minute, "verification code lifetime")
		oidcIssuer   = flag.String("oidc-issuer", "https://accounts.google.com", "issuer for /google-login credentials")
		oidcClientID = flag.String("oidc-client-id", os.Getenv("FARMTRAK_OIDC_CLIENT_ID"), "audience for /google-login; disabled when empty")
		sendLimit    = flag.Int("send-limit", 5, "verification codes per email per 15 minutes; 0 disables")
		loginLimit   = flag.Int("login-limit", 20, "sign-in attempts per email per 15 minutes; 0 disables")
		logLevel     = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger := farmauth.NewLogger(farmauth.LoggingConfig{Level: *logLevel, Format: "text"}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, options{
		addr:         *addr,
		redisAddr:    *redisAddr,
		secret:       *secret,
		tokenTTL:     *tokenTTL,
		codeTTL:      *codeTTL,
		oidcIssuer:   *oidcIssuer,
		oidcClientID: *oidcClientID,
		sendLimit:    *sendLimit,
		loginLimit:   *loginLimit,
	}); err != nil {
		logger.WithError(err).Error("devbackend stopped")
		os.Exit(1)
	}
}

type options struct {
	addr         string
	redisAddr    string
	secret       string
	tokenTTL     time.Duration
	codeTTL      time.Duration
	oidcIssuer   string
	oidcClientID string
	sendLimit    int
	loginLimit   int
}

func run(ctx context.Context, logger *logrus.Logger, opts options) error {
	client, cleanup, err := openRedis(opts.redisAddr, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	secret := []byte(opts.secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		logger.Warn("using a random token secret; tokens will not survive a restart")
	}
	tokens, err := devbackend.NewTokenIssuer(devbackend.TokenConfig{
		Secret: secret,
		TTL:    opts.tokenTTL,
		Issuer: "farmtrak-devbackend",
	})
	if err != nil {
		return err
	}

	var creds devbackend.CredentialVerifier
	if opts.oidcClientID != "" {
		p, err := oidc.NewProvider(ctx, opts.oidcIssuer)
		if err != nil {
			return fmt.Errorf("discover oidc issuer: %w", err)
		}
		creds = devbackend.OIDCCredentials{Verifier: p.Verifier(&oidc.Config{ClientID: opts.oidcClientID})}
	} else {
		logger.Info("no oidc client id; /google-login disabled")
	}

	sendLimiter, err := rate.New(client, rate.Config{
		Scope:    "send",
		Limit:    opts.sendLimit,
		Window:   15 * time.Minute,
		PerIP:    true,
		Disabled: opts.sendLimit <= 0,
	})
	if err != nil {
		return err
	}
	loginLimiter, err := rate.New(client, rate.Config{
		Scope:    "login",
		Limit:    opts.loginLimit,
		Window:   15 * time.Minute,
		Disabled: opts.loginLimit <= 0,
	})
	if err != nil {
		return err
	}

	cfg := devbackend.DefaultConfig()
	cfg.CodeTTL = opts.codeTTL
	srv, err := devbackend.NewServer(cfg, devbackend.Deps{
		Codes:        devbackend.NewCodeStore(client, ""),
		Tokens:       tokens,
		Mailer:       devbackend.LogMailer{Logger: logger},
		Credentials:  creds,
		SendLimiter:  sendLimiter,
		LoginLimiter: loginLimiter,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              opts.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", opts.addr).Info("devbackend listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func openRedis(addr string, logger logrus.FieldLogger) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.WithField("addr", mr.Addr()).Info("using miniredis")
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	logger.WithField("addr", addr).Info("using redis")
	return client, func() { _ = client.Close() }, nil
}
