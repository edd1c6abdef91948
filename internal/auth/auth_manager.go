package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"github.com/sabarim/kitectl/internal/apierr"
	"github.com/sabarim/kitectl/internal/transport"
)

const (
	sessionTokenPath = "/session/token"
	// DefaultSessionTTL approximates the upstream daily reset.
	DefaultSessionTTL = 24 * time.Hour
)

// AuthManager owns the OAuth exchange and the current session. Session reads take a read
// lock, login and logout take the write lock.
type AuthManager struct {
	creds  Credentials
	exec   Executor
	store  SessionStore
	expiry ExpiryPolicy
	log    zerolog.Logger
	now    func() time.Time

	mu           sync.RWMutex
	session      Session
	loginPending bool
}

// Option customises an AuthManager.
type Option func(*AuthManager)

// WithExpiryPolicy replaces the default rolling 24h expiry.
func WithExpiryPolicy(p ExpiryPolicy) Option {
	return func(am *AuthManager) {
		if p != nil {
			am.expiry = p
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(am *AuthManager) { am.now = now }
}

// NewAuthManager creates a manager seeded with a previously persisted session, which may be
// empty.
func NewAuthManager(creds Credentials, session Session, exec Executor, store SessionStore, log zerolog.Logger, opts ...Option) *AuthManager {
	am := &AuthManager{
		creds:   creds,
		exec:    exec,
		store:   store,
		expiry:  Rolling(DefaultSessionTTL),
		log:     log.With().Str("component", "auth").Logger(),
		now:     time.Now,
		session: session,
	}
	for _, opt := range opts {
		opt(am)
	}
	return am
}

// Checksum proves possession of the api secret without sending it.
func Checksum(apiKey, requestToken, apiSecret string) string {
	sum := sha256.Sum256([]byte(apiKey + requestToken + apiSecret))
	return hex.EncodeToString(sum[:])
}

// LoginURL returns the Kite login page for the configured api key. It never includes the
// secret. Unless a valid session exists, the state moves to LoginInitiated.
func (am *AuthManager) LoginURL() string {
	am.mu.Lock()
	if !am.session.Valid(am.now()) {
		am.loginPending = true
	}
	am.mu.Unlock()

	return kiteconnect.New(am.creds.APIKey).GetLoginURL()
}

// Login exchanges a request token for an access token and persists the new session. A
// failure to persist is returned, but the in-memory session stays usable.
func (am *AuthManager) Login(ctx context.Context, requestToken string) (Session, error) {
	requestToken = strings.TrimSpace(requestToken)
	if requestToken == "" {
		return Session{}, apierr.New(apierr.KindAuth, "request token cannot be empty")
	}
	if am.creds.APIKey == "" || am.creds.APISecret == "" {
		return Session{}, apierr.New(apierr.KindAuth, "api key and api secret must be configured before login")
	}

	req := transport.Request{
		Method: http.MethodPost,
		Path:   sessionTokenPath,
		Form: url.Values{
			"api_key":       {am.creds.APIKey},
			"request_token": {requestToken},
			"checksum":      {Checksum(am.creds.APIKey, requestToken, am.creds.APISecret)},
		},
	}

	var resp kiteconnect.UserSession
	if err := am.exec.Do(ctx, req, "", &resp); err != nil {
		// Transient failures keep their kind so the caller can retry.
		if apierr.IsRetryable(err) {
			return Session{}, err
		}
		return Session{}, apierr.Wrap(apierr.KindAuth, err, "token exchange rejected")
	}
	if resp.AccessToken == "" {
		return Session{}, apierr.New(apierr.KindAuth, "token exchange returned no access token")
	}

	session := Session{
		AccessToken: resp.AccessToken,
		Expiry:      am.expiry(am.now()),
		UserID:      resp.UserID,
	}

	am.mu.Lock()
	am.session = session
	am.loginPending = false
	am.mu.Unlock()

	am.log.Info().
		Str("user_id", session.UserID).
		Time("expiry", session.Expiry).
		Msg("Login successful")

	if err := am.store.SaveSession(session); err != nil {
		return session, err
	}
	return session, nil
}

// InteractiveLogin opens the login page, waits for the pasted request token and completes
// Login. A browser that fails to open is not fatal; the prompt still receives the URL.
func (am *AuthManager) InteractiveLogin(ctx context.Context, browser BrowserOpener, prompt TokenPrompt) (Session, error) {
	loginURL := am.LoginURL()

	if browser != nil {
		if err := browser.Open(loginURL); err != nil {
			am.log.Warn().Err(err).Msg("Could not open browser, continuing with manual login")
		}
	}

	token, err := prompt.RequestToken(ctx, loginURL)
	if err != nil {
		return Session{}, apierr.Wrap(apierr.KindAuth, err, "read request token")
	}
	return am.Login(ctx, token)
}

// Status reports the authentication state from the stored session alone. It makes no
// network call.
func (am *AuthManager) Status() Status {
	am.mu.RLock()
	session := am.session
	am.mu.RUnlock()

	return statusOf(session, am.now())
}

// State is Status extended with LoginInitiated.
func (am *AuthManager) State() State {
	am.mu.RLock()
	session, pending := am.session, am.loginPending
	am.mu.RUnlock()

	st := statusOf(session, am.now()).State
	if pending && st != StateAuthenticated {
		return StateLoginInitiated
	}
	return st
}

// Session returns a copy of the stored session.
func (am *AuthManager) Session() Session {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.session
}

// Logout invalidates the session upstream when one exists, then clears and persists the
// local session whatever the remote call returned. Errors from both steps are joined.
func (am *AuthManager) Logout(ctx context.Context) error {
	am.mu.RLock()
	token := am.session.AccessToken
	am.mu.RUnlock()

	var remoteErr error
	if token != "" {
		req := transport.Request{
			Method: http.MethodDelete,
			Path:   sessionTokenPath,
			Query: url.Values{
				"api_key":      {am.creds.APIKey},
				"access_token": {token},
			},
			RequiresAuth: true,
		}
		if err := am.exec.Do(ctx, req, am.header(token), nil); err != nil {
			am.log.Warn().Err(err).Msg("Upstream session invalidation failed, clearing local session anyway")
			remoteErr = err
		}
	}

	am.mu.Lock()
	am.session = Session{}
	am.loginPending = false
	am.mu.Unlock()

	saveErr := am.store.SaveSession(Session{})
	if saveErr == nil {
		am.log.Info().Msg("Logged out")
	}
	return errors.Join(remoteErr, saveErr)
}

// AuthHeader returns the Authorization header value for an authenticated session.
func (am *AuthManager) AuthHeader() (string, error) {
	am.mu.RLock()
	session := am.session
	am.mu.RUnlock()

	if !session.Valid(am.now()) {
		return "", apierr.New(apierr.KindAuth, "not authenticated")
	}
	return am.header(session.AccessToken), nil
}

func (am *AuthManager) header(token string) string {
	return "token " + am.creds.APIKey + ":" + token
}

func statusOf(s Session, now time.Time) Status {
	switch {
	case s.AccessToken == "":
		return Status{State: StateNotAuthenticated}
	case s.Valid(now):
		return Status{State: StateAuthenticated, Expiry: s.Expiry}
	default:
		return Status{State: StateExpired, Expiry: s.Expiry}
	}
}
