package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/farmauth/loginflow"
)

var (
	loginEmail  string
	loginGoogle bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with Google or an existing FarmTrak email",
	Long: "Sign in and store the session for the current profile. " +
		"With --google the provider's sign-in page is opened; otherwise the account email is sent to the backend.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		flow := rt.newFlow()
		flow.Open()
		defer flow.Cancel()

		if loginGoogle {
			err = flow.ChooseFederated(cmd.Context())
		} else {
			email := strings.TrimSpace(loginEmail)
			if email == "" {
				if email, err = prompt(cmd, "Email: "); err != nil {
					return err
				}
			}
			if err = flow.ChooseBackend(loginflow.ViewSignIn); err != nil {
				return err
			}
			flow.SetEmail(email)
			err = flow.SubmitSignIn(cmd.Context())
		}
		return reportOutcome(cmd, rt, flow, err)
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().BoolVar(&loginGoogle, "google", false, "sign in with the federated provider")
}

// reportOutcome prints the flow result the way the login dialog shows it.
func reportOutcome(cmd *cobra.Command, rt *runtime, flow *loginflow.Flow, err error) error {
	snap := flow.Snapshot()
	if err == nil && snap.State == loginflow.StateSuccess {
		user, _ := rt.engine.CurrentUser(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user)
		return nil
	}
	if err == nil {
		err = snap.Err
	}
	if err == nil {
		return errors.New("sign-in did not complete")
	}
	return errors.New(loginflow.Message(err))
}
