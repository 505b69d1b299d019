package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/farmauth"
	"github.com/MrEthical07/farmauth/backend"
	"github.com/MrEthical07/farmauth/loginflow"
	"github.com/MrEthical07/farmauth/provider"
)

var (
	configPath string
	logLevel   string
	profile    string
)

var rootCmd = &cobra.Command{
	Use:           "farmtrak",
	Short:         "Sign in to FarmTrak and manage the local session.",
	Long:          "Sign in to FarmTrak with Google or an email verification code, inspect or end the session, and host the dashboard locally.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context) int {
	bindFlags()
	bindSubcommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func bindFlags() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("FARMTRAK_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "session profile to use")
}

func bindSubcommands() {
	rootCmd.AddCommand(loginCmd, signupCmd, logoutCmd, whoamiCmd, serveCmd)
}

// runtime is everything a subcommand needs, assembled from one config.
type runtime struct {
	cfg     farmauth.Config
	logger  *logrus.Logger
	engine  *farmauth.Engine
	backend *backend.Client

	federated loginflow.FederatedProvider
	otp       loginflow.OTPProvider
}

func (rt *runtime) Close() {
	rt.engine.Close()
}

// newFlow returns a fresh login flow bound to the runtime's engine and adapters.
func (rt *runtime) newFlow() *loginflow.Flow {
	return loginflow.New(rt.engine, rt.federated, rt.otp,
		loginflow.WithLogger(rt.logger),
		loginflow.WithMetrics(rt.engine.Metrics()),
		loginflow.WithAudit(rt.engine),
		loginflow.WithCloseGrace(rt.cfg.Flow.CloseGrace),
	)
}

func loadConfig() (farmauth.Config, error) {
	cfg, err := farmauth.LoadConfig(configPath)
	if err != nil {
		return farmauth.Config{}, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if profile != "" {
		cfg.Session.Profile = profile
	}

	// A memory session would not outlive this process.
	if cfg.Store.Driver == farmauth.StoreMemory {
		cfg.Store.Driver = farmauth.StoreSQLite
	}
	if cfg.Store.Driver == farmauth.StoreSQLite && cfg.Store.SQLitePath == farmauth.DefaultConfig().Store.SQLitePath {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.Store.SQLitePath = filepath.Join(dir, "farmtrak", cfg.Session.Profile+".db")
			if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o700); err != nil {
				return farmauth.Config{}, fmt.Errorf("create profile dir: %w", err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return farmauth.Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := farmauth.NewLogger(cfg.Logging, os.Stderr)

	engine, err := farmauth.New().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		return nil, err
	}

	client := backend.New(cfg.Backend,
		backend.WithLogger(logger),
		backend.WithMetrics(engine.Metrics()),
	)

	var federated loginflow.FederatedProvider
	if cfg.Federated.Enabled {
		popup, err := provider.NewOIDCPopup(ctx, cfg.Federated,
			provider.WithPopupLogger(logger),
			provider.WithOpener(printOpener),
		)
		if err != nil {
			engine.Close()
			return nil, err
		}
		opts := []provider.FederatedOption{provider.WithFederatedLogger(logger)}
		if cfg.Federated.VerifyIDToken {
			opts = append(opts, provider.WithVerifier(popup.Verifier()))
		}
		federated = provider.NewFederated(popup, client, opts...)
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		engine:    engine,
		backend:   client,
		federated: federated,
		otp:       provider.NewBackendOTP(client),
	}, nil
}

func printOpener(authURL string) error {
	fmt.Fprintf(os.Stderr, "Open this URL in your browser to continue:\n\n  %s\n\n", authURL)
	return nil
}
