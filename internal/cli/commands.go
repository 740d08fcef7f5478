package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/panyam/authsession"
)

// errNotSignedIn is returned by whoami when there is no session.
var errNotSignedIn = errors.New("not signed in")

type credentials struct {
	email    string
	password string
}

func (c *credentials) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&c.password, "password", "p", "", "account password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("email")
}

// resolve reads the password from in when it was not given as a flag.
func (c *credentials) resolve(in io.Reader) error {
	if c.password != "" {
		return nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	c.password = strings.TrimRight(line, "\r\n")
	if c.password == "" {
		return errors.New("a password is required")
	}
	return nil
}

// withSession runs fn against an open session and closes it afterwards.
func (a *app) withSession(cmd *cobra.Command, fn func(*session) error) error {
	s, err := a.openSession(cmd.Context())
	if err != nil {
		return err
	}
	return errors.Join(fn(s), s.Close())
}

func loginCmd(a *app) *cobra.Command {
	var creds credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := creds.resolve(cmd.InOrStdin()); err != nil {
				return err
			}
			return a.withSession(cmd, func(s *session) error {
				if _, err := s.hook.SignIn(cmd.Context(), creds.email, creds.password); err != nil {
					return errors.New(authsession.Message(err))
				}
				printUser(cmd.OutOrStdout(), "Signed in as", s.hook.State().User)
				return nil
			})
		},
	}
	creds.register(cmd)

	return cmd
}

func signupCmd(a *app) *cobra.Command {
	var creds credentials

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := creds.resolve(cmd.InOrStdin()); err != nil {
				return err
			}
			return a.withSession(cmd, func(s *session) error {
				grant, err := s.hook.SignUp(cmd.Context(), creds.email, creds.password)
				if err != nil {
					return errors.New(authsession.Message(err))
				}
				if grant.Token == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Account created for %s. Confirm your email, then run login.\n", creds.email)
					return nil
				}
				printUser(cmd.OutOrStdout(), "Signed up as", s.hook.State().User)
				return nil
			})
		},
	}
	creds.register(cmd)

	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(s *session) error {
				// Local state is cleared even when the remote sign-out fails.
				if err := s.hook.SignOut(cmd.Context()); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", authsession.Message(err))
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(s *session) error {
				st := s.hook.State()
				if !st.IsAuthenticated {
					return errNotSignedIn
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(st.User)
				}
				printUser(cmd.OutOrStdout(), "Signed in as", st.User)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the user record as JSON")

	return cmd
}

func resetPasswordCmd(a *app) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Request a password reset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(s *session) error {
				if err := s.hook.ResetPassword(cmd.Context(), email); err != nil {
					return errors.New(authsession.Message(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "If an account exists for %s, a reset link is on its way.\n", email)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func printUser(w io.Writer, prefix string, u *authsession.UserRecord) {
	if u == nil {
		return
	}
	name := u.Email
	if u.DisplayName != "" {
		name = fmt.Sprintf("%s <%s>", u.DisplayName, u.Email)
	}
	if u.Role != "" {
		fmt.Fprintf(w, "%s %s (%s)\n", prefix, name, u.Role)
		return
	}
	fmt.Fprintf(w, "%s %s\n", prefix, name)
}
