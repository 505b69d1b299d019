package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/farmauth/loginflow"
)

const maxCodePrompts = 3

var (
	signupEmail    string
	signupUsername string
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create a FarmTrak account with an email verification code",
	Long: "Request a verification code for a new account, then enter it to finish sign-up. " +
		"Type \"resend\" at the code prompt to request a new code.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		in := bufio.NewReader(cmd.InOrStdin())
		email := strings.TrimSpace(signupEmail)
		if email == "" {
			if email, err = readLine(cmd, in, "Email: "); err != nil {
				return err
			}
		}
		username := strings.TrimSpace(signupUsername)
		if username == "" {
			if username, err = readLine(cmd, in, "Username: "); err != nil {
				return err
			}
		}

		flow := rt.newFlow()
		flow.Open()
		defer flow.Cancel()

		if err := flow.ChooseBackend(loginflow.ViewSignUp); err != nil {
			return err
		}
		flow.SetEmail(email)
		flow.SetUsername(username)
		if err := flow.RequestCode(cmd.Context()); err != nil {
			return errors.New(loginflow.Message(err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "A verification code was sent to %s.\n", email)

		var lastErr error
		for i := 0; i < maxCodePrompts; i++ {
			code, err := readLine(cmd, in, "Code: ")
			if err != nil {
				return err
			}
			if strings.EqualFold(code, "resend") {
				if err := flow.RequestCode(cmd.Context()); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), loginflow.Message(err))
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "A new code was sent.")
				}
				i--
				continue
			}

			flow.SetCode(code)
			lastErr = flow.SubmitCode(cmd.Context())
			if lastErr == nil {
				return reportOutcome(cmd, rt, flow, nil)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), loginflow.Message(lastErr))
		}
		return reportOutcome(cmd, rt, flow, lastErr)
	},
}

func init() {
	signupCmd.Flags().StringVar(&signupEmail, "email", "", "account email")
	signupCmd.Flags().StringVar(&signupUsername, "username", "", "display name for the new account")
}

func readLine(cmd *cobra.Command, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	return readLine(cmd, bufio.NewReader(cmd.InOrStdin()), label)
}
