package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/farmauth/transport"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the signed-in user as the backend sees it",
	Long: "Print the signed-in user. The backend is asked through the authenticated client, " +
		"so a session the backend no longer accepts is cleared and reported as signed out.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if !rt.engine.IsActive(cmd.Context()) {
			return errors.New("not signed in; run \"farmtrak login\"")
		}

		client, err := transport.NewClient(rt.engine, rt.cfg,
			transport.WithLogger(rt.logger),
			transport.WithMetrics(rt.engine.Metrics()),
		)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
			strings.TrimRight(rt.cfg.Backend.BaseURL, "/")+"/me", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			return errors.New("session expired; run \"farmtrak login\"")
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("backend answered %s", resp.Status)
		}

		var me struct {
			Email    string `json:"email"`
			Username string `json:"username"`
			Provider string `json:"provider"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&me); err != nil {
			return fmt.Errorf("decode /me: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Email:    %s\n", me.Email)
		if me.Username != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Username: %s\n", me.Username)
		}
		if me.Provider != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Provider: %s\n", me.Provider)
		}
		return nil
	},
}
