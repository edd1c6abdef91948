package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/sabarim/kitectl/internal/transport"
)

// Credentials identify the Kite Connect app. They are immutable for the process lifetime.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Session is the current access token and its expiry. Zero values mean absent.
type Session struct {
	AccessToken string
	Expiry      time.Time
	UserID      string
}

// Valid reports whether the session carries a token whose expiry is strictly after now.
func (s Session) Valid(now time.Time) bool {
	return s.AccessToken != "" && !s.Expiry.IsZero() && s.Expiry.After(now)
}

// ExpiryString formats the expiry for persistence; empty when absent.
func (s Session) ExpiryString() string {
	if s.Expiry.IsZero() {
		return ""
	}
	return s.Expiry.UTC().Format(time.RFC3339)
}

// ParseSession rebuilds a persisted session. An expiry that is not RFC 3339 is dropped,
// which leaves the session invalid.
func ParseSession(accessToken, expiry string) Session {
	s := Session{AccessToken: accessToken}
	if expiry == "" {
		return s
	}
	if t, err := time.Parse(time.RFC3339, expiry); err == nil {
		s.Expiry = t
	}
	return s
}

// State is a position in the login state machine.
type State int

const (
	StateNotAuthenticated State = iota
	StateLoginInitiated
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNotAuthenticated:
		return "not authenticated"
	case StateLoginInitiated:
		return "login initiated"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is the result of AuthManager.Status. Expiry is set only when State is Authenticated
// or Expired with a known expiry.
type Status struct {
	State  State
	Expiry time.Time
}

// SessionStore persists the session. It is the Config collaborator as seen from auth.
type SessionStore interface {
	SaveSession(Session) error
}

// Executor sends one API request. transport.Executor satisfies it.
type Executor interface {
	Do(ctx context.Context, req transport.Request, authHeader string, out any) error
}

// BrowserOpener launches the login page for the user.
type BrowserOpener interface {
	Open(url string) error
}

// TokenPrompt obtains the request_token the user copies from the redirect URL.
type TokenPrompt interface {
	RequestToken(ctx context.Context, loginURL string) (string, error)
}

// ExpiryPolicy computes the expiry for a session created at now.
type ExpiryPolicy func(now time.Time) time.Time

// Rolling expires a session a fixed duration after login.
func Rolling(d time.Duration) ExpiryPolicy {
	return func(now time.Time) time.Time { return now.Add(d) }
}

// DailyReset expires a session at the next occurrence of hour:00 in loc. Kite Connect
// invalidates every session at 06:00 IST regardless of login time.
func DailyReset(hour int, loc *time.Location) ExpiryPolicy {
	return func(now time.Time) time.Time {
		local := now.In(loc)
		reset := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
		if !reset.After(local) {
			reset = reset.AddDate(0, 0, 1)
		}
		return reset
	}
}
