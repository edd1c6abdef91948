// Package kite exposes the Kite Connect endpoints as typed methods over a single generic
// request path.
package kite

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"

	"github.com/sabarim/kitectl/internal/apierr"
	"github.com/sabarim/kitectl/internal/transport"
)

// Authenticator supplies the Authorization header. auth.AuthManager satisfies it.
type Authenticator interface {
	AuthHeader() (string, error)
}

// Executor sends one request. transport.Executor satisfies it; it acquires the shared rate
// limiter before every attempt.
type Executor interface {
	Do(ctx context.Context, req transport.Request, authHeader string, out any) error
	DoRaw(ctx context.Context, req transport.Request, authHeader string) ([]byte, error)
}

// Client is the API facade used by the command layer.
type Client struct {
	exec Executor
	auth Authenticator
	log  zerolog.Logger
}

// NewClient composes the executor and the session owner.
func NewClient(exec Executor, auth Authenticator, log zerolog.Logger) *Client {
	return &Client{
		exec: exec,
		auth: auth,
		log:  log.With().Str("component", "kite").Logger(),
	}
}

// Do sends req through c and decodes the envelope data into T. An authenticated request
// without a valid session fails before anything reaches the network.
func Do[T any](ctx context.Context, c *Client, req transport.Request) (T, error) {
	var out T
	header, err := c.header(req)
	if err != nil {
		return out, err
	}
	if err := c.exec.Do(ctx, req, header, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) header(req transport.Request) (string, error) {
	if !req.RequiresAuth {
		return "", nil
	}
	return c.auth.AuthHeader()
}

func get(path string, q url.Values) transport.Request {
	return transport.Request{Method: http.MethodGet, Path: path, Query: q, RequiresAuth: true}
}

func send(method, path string, form url.Values) transport.Request {
	return transport.Request{Method: method, Path: path, Form: form, RequiresAuth: true}
}

// encodeForm turns a url-tagged params struct into a form body.
func encodeForm(params any) (url.Values, error) {
	v, err := query.Values(params)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "encode request parameters")
	}
	return v, nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return apierr.New(apierr.KindValidation, "%s is required", name)
	}
	return nil
}

// FetchInstruments downloads the CSV instrument dump for exchange. It satisfies
// instruments.Fetcher.
func (c *Client) FetchInstruments(ctx context.Context, exchange string) ([]byte, error) {
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	if err := required("exchange", exchange); err != nil {
		return nil, err
	}

	req := get("/instruments/"+url.PathEscape(exchange), nil)
	header, err := c.header(req)
	if err != nil {
		return nil, err
	}
	return c.exec.DoRaw(ctx, req, header)
}
