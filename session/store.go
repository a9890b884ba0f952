// Package session owns the client-side authentication state: the access and
// refresh credentials, the identity flag, the credential expiry and the status
// of outstanding exchanges with the backend.
//
// Every credential write goes through a Store; the HTTP gateway only reads the
// persisted access credential.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/jrsteele09/wanderwave-session/api"
	"github.com/jrsteele09/wanderwave-session/credstore"
	"github.com/jrsteele09/wanderwave-session/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ChangedTopic is published on the event bus with a Session after every state
// transition.
const ChangedTopic = "session:changed"

const (
	DefaultRefreshInterval = time.Minute
	DefaultRefreshLeeway   = 30 * time.Second
)

const (
	opLogin       = "login"
	opRefresh     = "refresh"
	opRegister    = "register"
	opLogout      = "logout"
	opCheckStatus = "check_status"
)

// Session is the observable authentication state.
type Session struct {
	AccessToken   string
	RefreshToken  string
	Authenticated bool   // identity confirmed; implies AccessToken != ""
	ExpiresAt     *int64 // exp claim of AccessToken, unix seconds
	Pending       bool   // a login, refresh, register or logout is outstanding
	LastError     string
}

func (s Session) clone() Session {
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		s.ExpiresAt = &exp
	}
	return s
}

// Backend is the credential exchange surface of the remote API.
type Backend interface {
	ObtainToken(ctx context.Context, identifier, password string) (*api.TokenPair, error)
	RefreshToken(ctx context.Context, refresh string) (*api.TokenPair, error)
	Register(ctx context.Context, fields api.RegisterFields) (*api.Profile, error)
	Logout(ctx context.Context, refresh string) error
}

var _ Backend = (*api.Client)(nil)

// ProfileFetcher loads the signed-in user's profile once identity is confirmed.
type ProfileFetcher interface {
	Fetch(ctx context.Context) error
}

type Store struct {
	backend Backend
	creds   credstore.Store
	profile ProfileFetcher
	bus     EventBus.Bus
	metrics *Metrics
	logger  zerolog.Logger
	nowFunc func() time.Time
	leeway  time.Duration

	mu         sync.Mutex
	state      Session
	inflight   int
	generation uint64 // bumped whenever the credential pair is replaced or cleared
}

type Option func(*Store)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithProfileFetcher(fetcher ProfileFetcher) Option {
	return func(s *Store) {
		s.profile = fetcher
	}
}

func WithEventBus(bus EventBus.Bus) Option {
	return func(s *Store) {
		s.bus = bus
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// WithRefreshLeeway sets how long before expiry the watcher refreshes.
func WithRefreshLeeway(leeway time.Duration) Option {
	return func(s *Store) {
		s.leeway = leeway
	}
}

// New creates a Store seeded with whatever credentials are persisted in creds.
// The identity stays unconfirmed until CheckStatus, Login or Register succeeds.
func New(backend Backend, creds credstore.Store, opts ...Option) (*Store, error) {
	if backend == nil || creds == nil {
		return nil, errors.New("[session.New] backend and credential store are required")
	}

	s := &Store{
		backend: backend,
		creds:   creds,
		logger:  log.Logger,
		nowFunc: time.Now,
		leeway:  DefaultRefreshLeeway,
	}
	for _, opt := range opts {
		opt(s)
	}

	stored, err := credstore.Load(context.Background(), creds)
	if err != nil {
		return nil, errors.Wrap(err, "[session.New] load credentials")
	}
	s.state.AccessToken = stored.Access
	s.state.RefreshToken = stored.Refresh
	return s, nil
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Authenticated reports whether the identity is confirmed.
func (s *Store) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Authenticated
}

// Login exchanges identifier and password for a credential pair.
func (s *Store) Login(ctx context.Context, identifier, password string) error {
	s.begin()
	return s.finish(opLogin, s.login(ctx, identifier, password))
}

func (s *Store) login(ctx context.Context, identifier, password string) error {
	pair, err := s.backend.ObtainToken(ctx, identifier, password)
	if err != nil {
		s.revokeIdentity()
		return classify(err, ErrInvalidCredentials)
	}
	if err := s.establish(ctx, pair); err != nil {
		return errors.Wrap(err, "[Store.Login] establish session")
	}
	s.fetchProfile(ctx)
	return nil
}

// Register creates an account and then signs in with its email and password.
func (s *Store) Register(ctx context.Context, fields api.RegisterFields) error {
	s.begin()
	return s.finish(opRegister, s.register(ctx, fields))
}

func (s *Store) register(ctx context.Context, fields api.RegisterFields) error {
	if _, err := s.backend.Register(ctx, fields); err != nil {
		s.revokeIdentity()
		return validationFailure(err)
	}
	pair, err := s.backend.ObtainToken(ctx, fields.Email, fields.Password)
	if err != nil {
		s.revokeIdentity()
		return classify(err, ErrInvalidCredentials)
	}
	if err := s.establish(ctx, pair); err != nil {
		return errors.Wrap(err, "[Store.Register] establish session")
	}
	s.fetchProfile(ctx)
	return nil
}

// Refresh trades the refresh credential for a new access credential. A
// rejected refresh destroys the session.
func (s *Store) Refresh(ctx context.Context) error {
	s.begin()
	return s.finish(opRefresh, s.refresh(ctx))
}

func (s *Store) refresh(ctx context.Context) error {
	s.mu.Lock()
	generation := s.generation
	refresh := s.state.RefreshToken
	s.mu.Unlock()

	stored, err := s.creds.Get(ctx, credstore.RefreshKey)
	if err != nil {
		return errors.Wrap(err, "[Store.Refresh] read refresh credential")
	}
	if stored != "" {
		refresh = stored
	}
	if refresh == "" {
		return ErrNoRefreshCredential
	}

	pair, err := s.backend.RefreshToken(ctx, refresh)
	if err != nil {
		err = classify(err, ErrRefreshRejected)
		if errors.Is(err, ErrRefreshRejected) {
			return s.destroy(ctx, generation, err)
		}
		return err
	}

	exp := s.expiry(pair.Access)
	return s.update(func(state *Session) error {
		if s.generation != generation {
			s.logger.Debug().Msg("discarding refresh result for a replaced session")
			return nil
		}
		values := map[credstore.Key]string{credstore.AccessKey: pair.Access}
		if pair.Refresh != "" {
			values[credstore.RefreshKey] = pair.Refresh
		}
		if err := s.creds.Save(ctx, values); err != nil {
			return errors.Wrap(err, "[Store.Refresh] persist credentials")
		}
		state.AccessToken = pair.Access
		if pair.Refresh != "" {
			state.RefreshToken = pair.Refresh
		}
		state.ExpiresAt = exp
		return nil
	})
}

// Logout asks the backend to invalidate the refresh credential and then clears
// the local session regardless of the outcome.
func (s *Store) Logout(ctx context.Context) error {
	s.begin()
	return s.finish(opLogout, s.logout(ctx))
}

func (s *Store) logout(ctx context.Context) error {
	s.mu.Lock()
	refresh := s.state.RefreshToken
	s.mu.Unlock()
	if stored, err := s.creds.Get(ctx, credstore.RefreshKey); err == nil && stored != "" {
		refresh = stored
	}

	if refresh != "" {
		if err := s.backend.Logout(ctx, refresh); err != nil {
			s.logger.Warn().Err(err).Msg("server logout failed, clearing local session anyway")
		}
	}

	return s.update(func(state *Session) error {
		s.generation++
		err := s.creds.Delete(ctx, credstore.AllKeys...)
		state.reset()
		return errors.Wrap(err, "[Store.Logout] clear credentials")
	})
}

// CheckStatus restores the session from storage. A live access credential is
// trusted without contacting the token endpoints; an expired one is refreshed
// exactly once before the identity is confirmed.
func (s *Store) CheckStatus(ctx context.Context) error {
	s.setLastError(nil)
	err := s.checkStatus(ctx)
	if err != nil {
		s.setLastError(err)
	}
	s.metrics.observe(opCheckStatus, err)
	return err
}

func (s *Store) checkStatus(ctx context.Context) error {
	stored, err := credstore.Load(ctx, s.creds)
	if err != nil {
		return errors.Wrap(err, "[Store.CheckStatus] load credentials")
	}

	if stored.Access == "" {
		return s.update(func(state *Session) error {
			state.reset()
			return nil
		})
	}

	exp, err := token.DecodeExpiry(stored.Access)
	if err != nil {
		s.logger.Warn().Err(err).Msg("discarding malformed access credential")
		return s.update(func(state *Session) error {
			s.generation++
			state.reset()
			return errors.Wrap(s.creds.Delete(ctx, credstore.AllKeys...), "[Store.CheckStatus] remove malformed credentials")
		})
	}

	live := !token.Expired(exp, s.nowFunc())
	_ = s.update(func(state *Session) error {
		state.AccessToken = stored.Access
		state.RefreshToken = stored.Refresh
		state.ExpiresAt = &exp
		state.Authenticated = live
		return nil
	})
	if live {
		s.fetchProfile(ctx)
		return nil
	}

	if err := s.Refresh(ctx); err != nil {
		return err
	}

	var confirmed bool
	_ = s.update(func(state *Session) error {
		if state.AccessToken != "" {
			state.Authenticated = true
			confirmed = true
		}
		return nil
	})
	if confirmed {
		s.fetchProfile(ctx)
	}
	return nil
}

func (s *Session) reset() {
	s.AccessToken = ""
	s.RefreshToken = ""
	s.Authenticated = false
	s.ExpiresAt = nil
}

// establish persists a fresh credential pair and confirms the identity.
func (s *Store) establish(ctx context.Context, pair *api.TokenPair) error {
	exp := s.expiry(pair.Access)
	return s.update(func(state *Session) error {
		err := s.creds.Save(ctx, map[credstore.Key]string{
			credstore.AccessKey:  pair.Access,
			credstore.RefreshKey: pair.Refresh,
		})
		if err != nil {
			state.Authenticated = false
			return err
		}
		s.generation++
		state.AccessToken = pair.Access
		state.RefreshToken = pair.Refresh
		state.ExpiresAt = exp
		state.Authenticated = true
		return nil
	})
}

// destroy clears the session after the backend rejected the refresh
// credential captured at generation. A session replaced in the meantime is
// left alone.
func (s *Store) destroy(ctx context.Context, generation uint64, cause error) error {
	var superseded bool
	err := s.update(func(state *Session) error {
		if s.generation != generation {
			superseded = true
			return nil
		}
		s.generation++
		state.reset()
		return s.creds.Delete(ctx, credstore.AllKeys...)
	})
	if superseded {
		s.logger.Debug().Msg("ignoring refresh rejection for a replaced session")
		return nil
	}
	if err != nil {
		s.logger.Err(err).Msg("failed to remove rejected credentials")
	}
	return cause
}

func (s *Store) revokeIdentity() {
	_ = s.update(func(state *Session) error {
		state.Authenticated = false
		return nil
	})
}

// update applies mutate under the lock and publishes the resulting state.
// mutate may touch credential storage so that storage and memory change in
// the same order.
func (s *Store) update(mutate func(state *Session) error) error {
	s.mu.Lock()
	err := mutate(&s.state)
	snapshot := s.state.clone()
	s.mu.Unlock()

	s.metrics.setAuthenticated(snapshot.Authenticated)
	s.publish(snapshot)
	return err
}

// setLastError records the reason for err, or clears it when err is nil.
func (s *Store) setLastError(err error) {
	_ = s.update(func(state *Session) error {
		state.LastError = ""
		if err != nil {
			state.LastError = reason(err)
		}
		return nil
	})
}

func (s *Store) begin() {
	_ = s.update(func(state *Session) error {
		s.inflight++
		state.Pending = true
		state.LastError = ""
		return nil
	})
}

func (s *Store) finish(operation string, err error) error {
	_ = s.update(func(state *Session) error {
		s.inflight--
		state.Pending = s.inflight > 0
		if err != nil {
			state.LastError = reason(err)
		}
		return nil
	})
	s.metrics.observe(operation, err)
	if err != nil {
		s.logger.Err(err).Str("operation", operation).Msg("session operation failed")
	}
	return err
}

func (s *Store) publish(snapshot Session) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ChangedTopic, snapshot)
}

func (s *Store) fetchProfile(ctx context.Context) {
	if s.profile == nil {
		return
	}
	if err := s.profile.Fetch(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("profile fetch failed")
	}
}

func (s *Store) expiry(raw string) *int64 {
	exp, err := token.DecodeExpiry(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("access credential carries no readable expiry")
		return nil
	}
	return &exp
}
