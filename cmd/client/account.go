package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var errLocalMode = errors.New("account commands need a server; drop --local")

var signupCmd = &cobra.Command{
	Use:     "signup <email>",
	GroupID: "account",
	Short:   "Create an account and sign in",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if a.local != nil {
			return errLocalMode
		}
		password, err := passwordFlag(cmd, "password")
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")

		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		u, err := a.auth.SignUp(ctx, args[0], password, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Welcome, %s! You are signed in.\n", displayName(u.DisplayName, u.Email))
		return nil
	}),
}

var loginCmd = &cobra.Command{
	Use:     "login <email>",
	GroupID: "account",
	Short:   "Sign in",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if a.local != nil {
			return errLocalMode
		}
		password, err := passwordFlag(cmd, "password")
		if err != nil {
			return err
		}

		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		u, err := a.auth.SignIn(ctx, args[0], password)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Signed in as %s\n", u.Email)
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "Sign out",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		if a.local != nil {
			return errLocalMode
		}
		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		if err := a.auth.SignOut(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Signed out")
		return nil
	}),
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "account",
	Short:   "Show the signed-in user",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		if a.local != nil {
			fmt.Fprintln(a.out, "Local mode, no account")
			return nil
		}
		if a.auth.CurrentUser() == nil {
			return errNotSignedIn
		}

		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		u, err := a.auth.Verify(ctx)
		if err != nil {
			// The access token may simply have expired.
			if rerr := a.auth.Refresh(ctx); rerr != nil {
				return err
			}
			if u, err = a.auth.Verify(ctx); err != nil {
				return err
			}
		}
		fmt.Fprintf(a.out, "%s <%s>\n", displayName(u.DisplayName, u.Email), u.Email)
		return nil
	}),
}

var resetPasswordCmd = &cobra.Command{
	Use:     "reset-password [email]",
	GroupID: "account",
	Short:   "Email a password reset link, or set a new password with --token",
	Args:    cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if a.local != nil {
			return errLocalMode
		}
		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()

		token, _ := cmd.Flags().GetString("token")
		if token != "" {
			password, err := passwordFlag(cmd, "new-password")
			if err != nil {
				return err
			}
			if err := a.auth.ConfirmPasswordReset(ctx, token, password); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Password changed. Sign in with the new password.")
			return nil
		}

		if len(args) == 0 {
			return errors.New("an email address is required")
		}
		if err := a.auth.ResetPassword(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "If an account exists for that address, a reset link is on its way.")
		return nil
	}),
}

// passwordFlag returns the named flag, or reads a line from stdin when the
// flag is empty.
func passwordFlag(cmd *cobra.Command, name string) (string, error) {
	if p, _ := cmd.Flags().GetString(name); p != "" {
		return p, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	return email
}

func init() {
	signupCmd.Flags().String("password", "", "password (prompted when empty)")
	signupCmd.Flags().String("name", "", "display name")
	loginCmd.Flags().String("password", "", "password (prompted when empty)")
	resetPasswordCmd.Flags().String("token", "", "reset token from the email")
	resetPasswordCmd.Flags().String("new-password", "", "new password (prompted when empty)")

	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd, whoamiCmd, resetPasswordCmd)
}
