// Package api is the WanderWave backend REST client used by the session store.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/wanderwave-session/credstore"
	"github.com/jrsteele09/wanderwave-session/gateway"
	ierrors "github.com/jrsteele09/wanderwave-session/internal/errors"
)

// Endpoint paths, relative to the API base URL.
const (
	TokenPath        = "user/token/"
	TokenRefreshPath = "user/token/refresh/"
	TokenVerifyPath  = "user/token/verify/"
	RegisterPath     = "user/register/"
	LogoutPath       = "user/logout/"
	MyProfilePath    = "user/my_profile/"
)

// Client talks to the backend through two HTTP clients: a public one for the
// credential exchanges and a gateway decorated one for authenticated calls.
type Client struct {
	baseURL *url.URL
	public  *http.Client
	authed  *http.Client
	logger  zerolog.Logger
}

type clientSettings struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*clientSettings)

// WithHTTPClient sets the client used for public calls and as the template for
// the gateway client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(s *clientSettings) {
		s.httpClient = c
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(s *clientSettings) {
		s.timeout = timeout
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(s *clientSettings) {
		s.logger = logger
	}
}

// New builds a Client for the API rooted at baseURL. creds is read by the
// gateway on every authenticated request.
func New(baseURL string, creds credstore.Store, options ...ClientOption) (*Client, error) {
	if creds == nil {
		return nil, errors.New("[api.New] credential store is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Wrapf(ierrors.ErrInvalidConfig, "[api.New] base url %q", baseURL)
	}
	if u.Path == "" || u.Path[len(u.Path)-1] != '/' {
		u.Path += "/"
	}

	s := &clientSettings{
		httpClient: &http.Client{},
		timeout:    15 * time.Second,
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}

	public := *s.httpClient
	if public.Timeout == 0 {
		public.Timeout = s.timeout
	}
	authed := gateway.NewClient(creds, gateway.WithHTTPClient(&public))

	return &Client{
		baseURL: u,
		public:  &public,
		authed:  authed,
		logger:  s.logger.With().Str("component", "api").Logger(),
	}, nil
}

// HTTPClient returns the gateway decorated client for feature code that needs
// to make its own authenticated calls.
func (c *Client) HTTPClient() *http.Client {
	return c.authed
}

// ObtainToken exchanges an identifier (the account email) and password for a
// credential pair.
func (c *Client) ObtainToken(ctx context.Context, identifier, password string) (*TokenPair, error) {
	var pair TokenPair
	if err := c.postJSON(ctx, c.public, TokenPath, tokenRequest{Email: identifier, Password: password}, &pair); err != nil {
		return nil, err
	}
	if pair.Access == "" || pair.Refresh == "" {
		return nil, errors.Wrap(ierrors.ErrMissingToken, "[Client.ObtainToken]")
	}
	return &pair, nil
}

// RefreshToken mints a new access credential. The returned pair carries a new
// refresh credential only when the backend rotates it.
func (c *Client) RefreshToken(ctx context.Context, refresh string) (*TokenPair, error) {
	var pair TokenPair
	if err := c.postJSON(ctx, c.public, TokenRefreshPath, refreshRequest{Refresh: refresh}, &pair); err != nil {
		return nil, err
	}
	if pair.Access == "" {
		return nil, errors.Wrap(ierrors.ErrMissingToken, "[Client.RefreshToken]")
	}
	return &pair, nil
}

// VerifyToken asks the backend whether raw is a valid, unexpired token.
func (c *Client) VerifyToken(ctx context.Context, raw string) error {
	return c.postJSON(ctx, c.public, TokenVerifyPath, verifyRequest{Token: raw}, nil)
}

// Logout notifies the backend that refresh should be invalidated.
func (c *Client) Logout(ctx context.Context, refresh string) error {
	return c.postJSON(ctx, c.authed, LogoutPath, refreshRequest{Refresh: refresh}, nil)
}

// MyProfile fetches the authenticated user's profile.
func (c *Client) MyProfile(ctx context.Context) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(MyProfilePath), nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.MyProfile] NewRequest")
	}
	req.Header.Set("Accept", "application/json")

	var profile Profile
	if err := c.do(c.authed, MyProfilePath, req, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Register creates an account with a multipart form body.
func (c *Client) Register(ctx context.Context, fields RegisterFields) (*Profile, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, kv := range fields.formValues() {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return nil, errors.Wrap(err, "[Client.Register] WriteField")
		}
	}
	if fields.Avatar != nil && fields.Avatar.Content != nil {
		part, err := mw.CreateFormFile("avatar", fields.Avatar.Filename)
		if err != nil {
			return nil, errors.Wrap(err, "[Client.Register] CreateFormFile")
		}
		if _, err := io.Copy(part, fields.Avatar.Content); err != nil {
			return nil, errors.Wrap(err, "[Client.Register] copy avatar")
		}
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "[Client.Register] Close")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(RegisterPath), body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Register] NewRequest")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var profile Profile
	if err := c.do(c.public, RegisterPath, req, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.ResolveReference(&url.URL{Path: path}).String()
}

func (c *Client) postJSON(ctx context.Context, hc *http.Client, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "[Client.postJSON] Marshal")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "[Client.postJSON] NewRequest")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(hc, path, req, out)
}

func (c *Client) do(hc *http.Client, path string, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("endpoint", path).Msg("request failed")
		return errors.Wrapf(ierrors.ErrTransport, "[Client.do] %s: %v", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().Str("endpoint", path).Int("status", resp.StatusCode).Msg("backend response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	// An empty 2xx body leaves out at its zero value.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrapf(ierrors.ErrDecodeResponse, "[Client.do] %s: %v", path, err)
	}
	return nil
}
