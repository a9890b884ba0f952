// Package gateway decorates outbound requests with the persisted access credential.
//
// The gateway is stateless: it reads the credential from storage on every
// request, never retries, and never writes to storage.
package gateway

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/wanderwave-session/credstore"
)

const RequestIDHeader = "X-Request-ID"

// Attach sets "Authorization: Bearer <access>" on req when an access credential
// is persisted. Without one the request is left untouched.
func Attach(ctx context.Context, creds credstore.Store, req *http.Request) error {
	access, err := creds.Get(ctx, credstore.AccessKey)
	if err != nil {
		return errors.Wrap(err, "[gateway.Attach] read access credential")
	}
	if access == "" {
		return nil
	}
	(&oauth2.Token{AccessToken: access, TokenType: "Bearer"}).SetAuthHeader(req)
	return nil
}

var _ http.RoundTripper = (*Transport)(nil)

// Transport is an http.RoundTripper that passes every request through Attach.
type Transport struct {
	Base        http.RoundTripper
	Credentials credstore.Store
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	if err := Attach(req.Context(), t.Credentials, out); err != nil {
		closeBody(req)
		return nil, err
	}
	if out.Header.Get(RequestIDHeader) == "" {
		out.Header.Set(RequestIDHeader, uuid.NewString())
	}
	return t.base().RoundTrip(out)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func closeBody(r *http.Request) {
	if r.Body != nil {
		r.Body.Close()
	}
}

// Option configures the client returned by NewClient.
type Option func(*http.Client)

func WithBase(base http.RoundTripper) Option {
	return func(c *http.Client) {
		c.Transport.(*Transport).Base = base
	}
}

func WithHTTPClient(template *http.Client) Option {
	return func(c *http.Client) {
		c.Timeout = template.Timeout
		c.Jar = template.Jar
		c.CheckRedirect = template.CheckRedirect
		if template.Transport != nil {
			c.Transport.(*Transport).Base = template.Transport
		}
	}
}

// NewClient returns an *http.Client whose every request is decorated by Attach.
func NewClient(creds credstore.Store, opts ...Option) *http.Client {
	c := &http.Client{
		Transport: &Transport{Credentials: creds},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
