// Package transport sends single authenticated, throttled HTTP exchanges to the Kite
// Connect API and decodes its response envelope.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/sabarim/kitectl/internal/apierr"
)

const (
	DefaultBaseURL = "https://api.kite.trade"
	// APIVersion is sent as X-Kite-Version on every request.
	APIVersion = "3"
	UserAgent  = "kitectl/0.1.0"

	defaultTimeout      = 30 * time.Second
	defaultRetryWait    = 500 * time.Millisecond
	defaultMaxRetryWait = 10 * time.Second
)

// Request describes one API call. It is built per call and never persisted.
type Request struct {
	Method       string
	Path         string
	Query        url.Values
	Form         url.Values
	RequiresAuth bool
}

// Limiter is the process-wide throttle acquired before every send.
type Limiter interface {
	Acquire(ctx context.Context, timeout time.Duration) error
}

// Options configures an Executor. Zero values fall back to defaults.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RateLimitWait time.Duration
	// MaxRetries applies to idempotent methods only.
	MaxRetries   int
	RetryWait    time.Duration
	MaxRetryWait time.Duration
	// Secrets are scrubbed from any upstream message before it is returned.
	Secrets []string
}

// Executor is safe for concurrent use.
type Executor struct {
	client  *resty.Client
	limiter Limiter
	opts    Options
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// envelope is the {status, data, message} wrapper used by every JSON response.
type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
}

// NewExecutor creates an executor that acquires limiter before every outbound request.
func NewExecutor(limiter Limiter, opts Options, log zerolog.Logger) *Executor {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	if opts.MaxRetryWait <= 0 {
		opts.MaxRetryWait = defaultMaxRetryWait
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	log = log.With().Str("component", "transport").Logger()
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("X-Kite-Version", APIVersion).
		SetHeader("User-Agent", UserAgent).
		SetLogger(restyLogger{log: log})

	return &Executor{
		client:  client,
		limiter: limiter,
		opts:    opts,
		log:     log,
		sleep:   sleepContext,
	}
}

// Do performs req and decodes the envelope's data into out. out may be nil when the caller
// only needs to know the call succeeded.
func (e *Executor) Do(ctx context.Context, req Request, authHeader string, out any) error {
	body, err := e.send(ctx, req, authHeader)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apierr.Wrap(apierr.KindParse, err, "decode response envelope for %s %s", req.Method, req.Path)
	}
	if env.Status != "success" {
		msg := e.redact(env.Message, authHeader)
		if msg == "" {
			msg = fmt.Sprintf("unexpected envelope status %q", env.Status)
		}
		return &apierr.Error{Kind: apierr.KindValidation, Status: http.StatusOK, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apierr.Wrap(apierr.KindParse, err, "decode data for %s %s", req.Method, req.Path)
	}
	return nil
}

// DoRaw performs req and returns the raw body of a successful response. Used for endpoints
// that answer with CSV instead of the JSON envelope.
func (e *Executor) DoRaw(ctx context.Context, req Request, authHeader string) ([]byte, error) {
	return e.send(ctx, req, authHeader)
}

// send runs the exchange, retrying retryable failures of idempotent requests with backoff.
// Every attempt acquires the limiter again.
func (e *Executor) send(ctx context.Context, req Request, authHeader string) ([]byte, error) {
	attempts := 1
	if idempotent(req.Method) {
		attempts += e.opts.MaxRetries
	}

	for attempt := 0; ; attempt++ {
		body, retryAfter, err := e.exchange(ctx, req, authHeader)
		if err == nil {
			return body, nil
		}
		if attempt+1 >= attempts || !retryable(err) || ctx.Err() != nil {
			return nil, err
		}

		wait := e.backoff(attempt, retryAfter)
		e.log.Warn().
			Err(err).
			Str("method", req.Method).
			Str("path", req.Path).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Msg("Request failed, retrying")

		if err := e.sleep(ctx, wait); err != nil {
			return nil, apierr.Wrap(apierr.KindNetwork, err, "%s %s cancelled while waiting to retry", req.Method, req.Path)
		}
	}
}

func (e *Executor) exchange(ctx context.Context, req Request, authHeader string) ([]byte, time.Duration, error) {
	if err := e.limiter.Acquire(ctx, e.opts.RateLimitWait); err != nil {
		return nil, 0, err
	}

	r := e.client.R().SetContext(ctx)
	if authHeader != "" {
		r.SetHeader("Authorization", authHeader)
	}
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	if len(req.Form) > 0 {
		r.SetFormDataFromValues(req.Form)
	}

	started := time.Now()
	resp, err := r.Execute(req.Method, req.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, apierr.Wrap(apierr.KindNetwork, ctxErr, "%s %s cancelled", req.Method, req.Path)
		}
		return nil, 0, apierr.Wrap(apierr.KindNetwork, err, "send %s %s", req.Method, req.Path)
	}

	status := resp.StatusCode()
	e.log.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", status).
		Dur("took", time.Since(started)).
		Msg("Request completed")

	if status >= 200 && status < 300 {
		return resp.Body(), 0, nil
	}
	return nil, parseRetryAfter(resp.Header().Get("Retry-After")), e.statusError(status, resp.Body(), authHeader)
}

// statusError maps a non-2xx response onto the error taxonomy.
func (e *Executor) statusError(status int, body []byte, authHeader string) error {
	msg := http.StatusText(status)
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		msg = env.Message
	}
	msg = e.redact(msg, authHeader)

	var kind apierr.Kind
	switch {
	case env.ErrorType == "TokenException":
		kind = apierr.KindAuth
	case status == http.StatusBadRequest:
		kind = apierr.KindValidation
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = apierr.KindAuth
	case status == http.StatusTooManyRequests:
		kind = apierr.KindRateLimit
	case status >= 500:
		kind = apierr.KindServer
	case status >= 400:
		kind = apierr.KindValidation
	default:
		kind = apierr.KindServer
		msg = fmt.Sprintf("unexpected status %d: %s", status, msg)
	}
	return &apierr.Error{Kind: kind, Status: status, Message: msg}
}

func (e *Executor) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > e.opts.MaxRetryWait {
			return e.opts.MaxRetryWait
		}
		return retryAfter
	}
	wait := e.opts.RetryWait << uint(attempt)
	if wait <= 0 || wait > e.opts.MaxRetryWait {
		wait = e.opts.MaxRetryWait
	}
	return wait
}

// redact scrubs configured secrets and the access token carried in authHeader.
func (e *Executor) redact(msg, authHeader string) string {
	secrets := e.opts.Secrets
	if _, creds, ok := strings.Cut(authHeader, " "); ok {
		if _, token, ok := strings.Cut(creds, ":"); ok {
			secrets = append(secrets[:len(secrets):len(secrets)], token)
		}
	}
	for _, s := range secrets {
		if s != "" {
			msg = strings.ReplaceAll(msg, s, "***")
		}
	}
	return msg
}

func idempotent(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return false
}

func retryable(err error) bool {
	switch apierr.KindOf(err) {
	case apierr.KindNetwork, apierr.KindServer, apierr.KindRateLimit:
		return true
	}
	return false
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// restyLogger routes resty's internal warnings into zerolog.
type restyLogger struct {
	log zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
