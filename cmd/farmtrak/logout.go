package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session of the current profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		user, active := rt.engine.CurrentUser(cmd.Context())
		if err := rt.engine.Terminate(cmd.Context()); err != nil {
			return err
		}
		if active {
			fmt.Fprintf(cmd.OutOrStdout(), "Signed out %s\n", user)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "No active session")
		}
		return nil
	},
}
