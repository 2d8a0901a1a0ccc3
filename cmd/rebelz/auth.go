package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/KobaKhit/rebelzapp-sub001/internal/apiclient"
	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/guard"
	"github.com/KobaKhit/rebelzapp-sub001/internal/navigation"
	"github.com/KobaKhit/rebelzapp-sub001/internal/tokenstore"
)

var public = guard.Requirement{Public: true}

type credentials struct {
	email         string
	passwordStdin bool
}

func (a *app) readLine(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(a.errOut, prompt)
	}
	line, err := a.input().ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo when stdin is a terminal.
func (a *app) readPassword(fromStdin bool) (string, error) {
	if f, ok := a.in.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.errOut, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.errOut)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	prompt := "Password: "
	if fromStdin {
		prompt = ""
	}
	return a.readLine(prompt)
}

func (a *app) credentials(c credentials) (string, string, error) {
	email := c.email
	if email == "" && !c.passwordStdin {
		var err error
		if email, err = a.readLine("Email: "); err != nil {
			return "", "", err
		}
	}
	if email == "" {
		return "", "", errors.New("--email is required")
	}
	password, err := a.readPassword(c.passwordStdin)
	if err != nil {
		return "", "", err
	}
	return email, password, nil
}

// signIn exchanges credentials for a token, stores it and returns the
// verified profile.
func (a *app) signIn(ctx context.Context, email, password string) (*domain.User, error) {
	tok, err := a.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	rec := tokenstore.Record{
		AccessToken: tok.AccessToken,
		TokenType:   fallback(tok.TokenType, "bearer"),
		APIURL:      a.api.BaseURL(),
		IssuedAt:    time.Now().UTC(),
	}
	if err := a.tokens.SetRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	return a.api.Me(ctx)
}

func (a *app) welcome(ctx context.Context, user *domain.User) error {
	if a.flags.jsonOut {
		return printJSON(a.out, user)
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", user.DisplayName())

	view, _ := a.views.View(a.evaluator.For(user))
	fmt.Fprintf(a.out, "Landing: %s (rebelz dashboard)\n", view.Landing)

	next, err := a.prefs.TakeReturn()
	if err == nil && next != "" {
		fmt.Fprintf(a.out, "Continue with: %s\n", next)
	}
	return nil
}

func newLoginCmd(a *app) *cobra.Command {
	var c credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store a token",
		Args:  cobra.NoArgs,
		RunE: a.route(public, func(ctx context.Context, res guard.Result, _ []string) error {
			if res.Session.User != nil {
				fmt.Fprintf(a.errOut, "Currently signed in as %s; signing in again replaces that session.\n", res.Session.User.DisplayName())
			}
			email, password, err := a.credentials(c)
			if err != nil {
				return err
			}
			user, err := a.signIn(ctx, email, password)
			if errors.Is(err, apiclient.ErrInvalidCredentials) {
				return errors.New("invalid email or password")
			}
			if err != nil {
				return err
			}
			return a.welcome(ctx, user)
		}),
	}
	cmd.Flags().StringVar(&c.email, "email", "", "account email")
	cmd.Flags().BoolVar(&c.passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newSignupCmd(a *app) *cobra.Command {
	var (
		c        credentials
		fullName string
	)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: a.route(public, func(ctx context.Context, _ guard.Result, _ []string) error {
			email, password, err := a.credentials(c)
			if err != nil {
				return err
			}
			req := domain.SignupRequest{Email: email, Password: password}
			if fullName != "" {
				req.FullName = &fullName
			}
			if _, err := a.api.Signup(ctx, req); err != nil {
				return err
			}
			user, err := a.signIn(ctx, email, password)
			if err != nil {
				return fmt.Errorf("account created but sign-in failed: %w", err)
			}
			return a.welcome(ctx, user)
		}),
	}
	cmd.Flags().StringVar(&c.email, "email", "", "account email")
	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	cmd.Flags().BoolVar(&c.passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := a.tokens.Get(); !ok {
				fmt.Fprintln(a.out, "Not signed in.")
				return nil
			}
			if err := a.tokens.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			fmt.Fprintln(a.out, "Signed out.")
			return nil
		},
	}
}

func newWhoAmICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "whoami",
		Aliases: []string{"me", "profile"},
		Short:   "Show the signed-in user and effective permissions",
		Args:    cobra.NoArgs,
		RunE: a.route(guard.Requirement{}, func(_ context.Context, res guard.Result, _ []string) error {
			u := res.Session.User
			view, _ := a.views.View(res.Grants)
			if a.flags.jsonOut {
				return printJSON(a.out, map[string]any{
					"user":        u,
					"permissions": res.Grants.Permissions(),
					"view":        view.Mode,
					"can_switch":  view.CanSwitch,
				})
			}

			heading(a.out, "Signed in")
			fmt.Fprintf(a.out, "Name:        %s\n", u.DisplayName())
			fmt.Fprintf(a.out, "Email:       %s\n", u.Email)
			fmt.Fprintf(a.out, "Active:      %s\n", yesNo(u.IsActive))
			fmt.Fprintf(a.out, "Roles:       %s\n", fallback(strings.Join(u.Roles, ", "), "(none)"))
			fmt.Fprintf(a.out, "Permissions: %s\n", fallback(strings.Join(res.Grants.Permissions(), ", "), "(none)"))
			mode := string(view.Mode)
			if !view.CanSwitch {
				mode += " (fixed)"
			} else if view.Mode == navigation.ModeConsumer {
				mode += " (switch with: rebelz view set admin)"
			}
			fmt.Fprintf(a.out, "View:        %s\n", mode)
			return nil
		}),
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version info",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipSetup: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rebelz %s (commit: %s, built: %s)\n", version, gitCommit, buildDate)
		},
	}
}
