package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sabarim/kitectl/internal/apierr"
	"github.com/sabarim/kitectl/internal/auth"
)

func newAuthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log in, log out and inspect the session",
	}

	var requestToken string
	var noBrowser bool
	login := &cobra.Command{
		Use:   "login",
		Short: "Log in through the Kite login page",
		Long:  `Opens the Kite login page and waits for the request_token from the redirect URL. Pass --request-token to skip the browser.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var session auth.Session
			var err error
			if requestToken != "" {
				session, err = a.auth.Login(cmd.Context(), requestToken)
			} else {
				var browser auth.BrowserOpener = systemBrowser{}
				if noBrowser {
					browser = nil
				}
				session, err = a.auth.InteractiveLogin(cmd.Context(), browser, &stdinPrompt{in: cmd.InOrStdin(), out: cmd.ErrOrStderr()})
			}
			if err != nil {
				return err
			}
			return a.print(map[string]any{
				"status":  "authenticated",
				"user_id": session.UserID,
				"expiry":  session.Expiry.Format(time.RFC3339),
			})
		},
	}
	login.Flags().StringVar(&requestToken, "request-token", "", "Request token from the login redirect")
	login.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the login URL instead of opening a browser")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the session and clear it locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.auth.Logout(cmd.Context()); err != nil {
				return err
			}
			return a.print(map[string]string{"status": "logged out"})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the authentication state without contacting the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := a.auth.Status()
			out := map[string]any{"state": st.State.String()}
			if !st.Expiry.IsZero() {
				out["expiry"] = st.Expiry.Format(time.RFC3339)
			}
			if uid := a.auth.Session().UserID; uid != "" {
				out["user_id"] = uid
			}
			return a.print(out)
		},
	}

	loginURL := &cobra.Command{
		Use:   "url",
		Short: "Print the login URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(a.out, a.auth.LoginURL())
			return err
		},
	}

	cmd.AddCommand(login, logout, status, loginURL)
	return cmd
}

func newProfileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the user profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := a.client.Profile(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(profile)
		},
	}
}

// systemBrowser opens URLs with the platform's default handler.
type systemBrowser struct{}

func (systemBrowser) Open(u string) error {
	var c *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		c = exec.Command("open", u)
	case "windows":
		c = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	default:
		c = exec.Command("xdg-open", u)
	}
	c.Stdout, c.Stderr = nil, nil
	return c.Start()
}

// stdinPrompt reads the request token, or the whole redirect URL, from a line of input.
type stdinPrompt struct {
	in  io.Reader
	out io.Writer
}

func (p *stdinPrompt) RequestToken(ctx context.Context, loginURL string) (string, error) {
	if p.out == nil {
		p.out = os.Stderr
	}
	fmt.Fprintf(p.out, "Open this URL and log in:\n\n  %s\n\nPaste the redirect URL or request_token: ", loginURL)

	type result struct {
		line string
		err  error
	}
	lines := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		lines <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-lines:
		if r.err != nil {
			return "", r.err
		}
		return extractRequestToken(r.line)
	}
}

// extractRequestToken accepts either a bare token or a redirect URL carrying request_token.
func extractRequestToken(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", apierr.New(apierr.KindAuth, "no request token entered")
	}
	if !strings.Contains(input, "request_token=") {
		return input, nil
	}

	query := input
	if u, err := url.Parse(input); err == nil && u.RawQuery != "" {
		query = u.RawQuery
	} else if _, after, ok := strings.Cut(input, "?"); ok {
		query = after
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return "", apierr.Wrap(apierr.KindAuth, err, "parse redirect URL")
	}
	if status := values.Get("status"); status != "" && status != "success" {
		return "", apierr.New(apierr.KindAuth, "login was not successful: status=%s", status)
	}
	token := values.Get("request_token")
	if token == "" {
		return "", apierr.New(apierr.KindAuth, "redirect URL has no request_token")
	}
	return token, nil
}
