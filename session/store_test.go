package session_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/wanderwave-session/api"
	"github.com/jrsteele09/wanderwave-session/credstore"
	"github.com/jrsteele09/wanderwave-session/session"
)

var testNow = time.Unix(1_700_000_000, 0)

func signAccess(t *testing.T, exp time.Time) string {
	t.Helper()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"token_type": "access",
		"user_id":    1,
		"exp":        exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

// stubBackend scripts the backend responses and counts calls.
type stubBackend struct {
	mu       sync.Mutex
	calls    map[string]int
	obtain   func(identifier, password string) (*api.TokenPair, error)
	refresh  func(refresh string) (*api.TokenPair, error)
	register func(fields api.RegisterFields) (*api.Profile, error)
	logout   func(refresh string) error
}

func newStubBackend() *stubBackend {
	return &stubBackend{calls: make(map[string]int)}
}

func (b *stubBackend) count(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[name]++
}

func (b *stubBackend) Calls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *stubBackend) ObtainToken(_ context.Context, identifier, password string) (*api.TokenPair, error) {
	b.count("obtain")
	if b.obtain == nil {
		return nil, errors.New("obtain not scripted")
	}
	return b.obtain(identifier, password)
}

func (b *stubBackend) RefreshToken(_ context.Context, refresh string) (*api.TokenPair, error) {
	b.count("refresh")
	if b.refresh == nil {
		return nil, errors.New("refresh not scripted")
	}
	return b.refresh(refresh)
}

func (b *stubBackend) Register(_ context.Context, fields api.RegisterFields) (*api.Profile, error) {
	b.count("register")
	if b.register == nil {
		return &api.Profile{Username: fields.Username, Email: fields.Email}, nil
	}
	return b.register(fields)
}

func (b *stubBackend) Logout(_ context.Context, refresh string) error {
	b.count("logout")
	if b.logout == nil {
		return nil
	}
	return b.logout(refresh)
}

type fakeProfile struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakeProfile) Fetch(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakeProfile) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fixture struct {
	backend *stubBackend
	creds   *credstore.MemoryStore
	profile *fakeProfile
	store   *session.Store
}

func setup(t *testing.T, seed map[credstore.Key]string, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		backend: newStubBackend(),
		creds:   credstore.NewMemory(),
		profile: &fakeProfile{},
	}
	if len(seed) > 0 {
		require.NoError(t, f.creds.Save(context.Background(), seed))
	}
	f.store = f.newStore(t, opts...)
	return f
}

func (f *fixture) newStore(t *testing.T, opts ...session.Option) *session.Store {
	t.Helper()
	opts = append([]session.Option{
		session.WithNowFunc(func() time.Time { return testNow }),
		session.WithLogger(zerolog.Nop()),
		session.WithProfileFetcher(f.profile),
	}, opts...)
	s, err := session.New(f.backend, f.creds, opts...)
	require.NoError(t, err)
	return s
}

func (f *fixture) stored(t *testing.T) credstore.Credentials {
	t.Helper()
	c, err := credstore.Load(context.Background(), f.creds)
	require.NoError(t, err)
	return c
}

func (f *fixture) grantLogin(access, refresh string) {
	f.backend.obtain = func(string, string) (*api.TokenPair, error) {
		return &api.TokenPair{Access: access, Refresh: refresh}, nil
	}
}

func rejected(status int, detail string) error {
	return &api.StatusError{Endpoint: "test", StatusCode: status, Detail: detail}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := session.New(nil, credstore.NewMemory())
	require.Error(t, err)
	_, err = session.New(newStubBackend(), nil)
	require.Error(t, err)
}

func TestNewSeedsCredentialsWithoutIdentity(t *testing.T) {
	access := signAccess(t, testNow.Add(time.Hour))
	f := setup(t, map[credstore.Key]string{credstore.AccessKey: access, credstore.RefreshKey: "r1"})

	snap := f.store.Snapshot()
	require.Equal(t, access, snap.AccessToken)
	require.Equal(t, "r1", snap.RefreshToken)
	require.False(t, snap.Authenticated)
	require.False(t, f.store.Authenticated())
}

func TestLoginEstablishesSession(t *testing.T) {
	f := setup(t, nil)
	exp := testNow.Add(time.Hour)
	tok1 := signAccess(t, exp)
	f.grantLogin(tok1, "rtok1")

	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))

	snap := f.store.Snapshot()
	require.Equal(t, tok1, snap.AccessToken)
	require.Equal(t, "rtok1", snap.RefreshToken)
	require.True(t, snap.Authenticated)
	require.NotNil(t, snap.ExpiresAt)
	require.Equal(t, exp.Unix(), *snap.ExpiresAt)
	require.False(t, snap.Pending)
	require.Empty(t, snap.LastError)

	require.Equal(t, credstore.Credentials{Access: tok1, Refresh: "rtok1"}, f.stored(t))
	require.Equal(t, 1, f.profile.Calls())
}

func TestLoginSucceedsWhenProfileFetchFails(t *testing.T) {
	f := setup(t, nil)
	f.profile.err = errors.New("profile unavailable")
	f.grantLogin(signAccess(t, testNow.Add(time.Hour)), "r1")

	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))
	require.True(t, f.store.Authenticated())
}

func TestLoginThenRestartRestoresWithoutNetwork(t *testing.T) {
	f := setup(t, nil)
	f.grantLogin(signAccess(t, testNow.Add(time.Hour)), "r1")
	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))

	restarted := f.newStore(t)
	require.False(t, restarted.Authenticated())
	require.NoError(t, restarted.CheckStatus(context.Background()))
	require.True(t, restarted.Authenticated())

	require.Equal(t, 1, f.backend.Calls("obtain"))
	require.Zero(t, f.backend.Calls("refresh"))
}

func TestLoginInvalidCredentials(t *testing.T) {
	seed := map[credstore.Key]string{credstore.AccessKey: "old-access", credstore.RefreshKey: "old-refresh"}
	f := setup(t, seed)
	f.backend.obtain = func(string, string) (*api.TokenPair, error) {
		return nil, rejected(http.StatusUnauthorized, "No active account found with the given credentials")
	}

	err := f.store.Login(context.Background(), "a@b.com", "wrong")
	require.ErrorIs(t, err, session.ErrInvalidCredentials)
	require.NotErrorIs(t, err, session.ErrNetworkFailure)

	snap := f.store.Snapshot()
	require.False(t, snap.Authenticated)
	require.Equal(t, "No active account found with the given credentials", snap.LastError)
	require.Equal(t, "old-access", snap.AccessToken)
	require.Equal(t, credstore.Credentials{Access: "old-access", Refresh: "old-refresh"}, f.stored(t))
	require.Zero(t, f.profile.Calls())
}

func TestLoginNetworkFailure(t *testing.T) {
	cases := map[string]error{
		"transport":    errors.New("dial tcp: connection refused"),
		"server error": rejected(http.StatusInternalServerError, ""),
	}
	for name, backendErr := range cases {
		t.Run(name, func(t *testing.T) {
			f := setup(t, nil)
			f.backend.obtain = func(string, string) (*api.TokenPair, error) {
				return nil, backendErr
			}

			err := f.store.Login(context.Background(), "a@b.com", "pw")
			require.ErrorIs(t, err, session.ErrNetworkFailure)
			require.NotErrorIs(t, err, session.ErrInvalidCredentials)

			snap := f.store.Snapshot()
			require.False(t, snap.Authenticated)
			require.Equal(t, session.ReasonNetworkFailure, snap.LastError)
		})
	}
}

func TestLoginClearsPreviousError(t *testing.T) {
	f := setup(t, nil)
	f.backend.obtain = func(string, string) (*api.TokenPair, error) {
		return nil, rejected(http.StatusUnauthorized, "")
	}
	require.Error(t, f.store.Login(context.Background(), "a@b.com", "wrong"))
	require.Equal(t, session.ReasonInvalidCredentials, f.store.Snapshot().LastError)

	f.grantLogin(signAccess(t, testNow.Add(time.Hour)), "r1")
	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))
	require.Empty(t, f.store.Snapshot().LastError)
}

func TestPendingWhileExchangeOutstanding(t *testing.T) {
	f := setup(t, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	access := signAccess(t, testNow.Add(time.Hour))
	f.backend.obtain = func(string, string) (*api.TokenPair, error) {
		close(entered)
		<-release
		return &api.TokenPair{Access: access, Refresh: "r1"}, nil
	}

	done := make(chan error, 1)
	go func() {
		done <- f.store.Login(context.Background(), "a@b.com", "pw")
	}()

	<-entered
	require.True(t, f.store.Snapshot().Pending)
	require.False(t, f.store.Authenticated())
	close(release)

	require.NoError(t, <-done)
	require.False(t, f.store.Snapshot().Pending)
}

func TestRefreshWithoutCredential(t *testing.T) {
	access := signAccess(t, testNow.Add(time.Hour))
	f := setup(t, map[credstore.Key]string{credstore.AccessKey: access})

	err := f.store.Refresh(context.Background())
	require.ErrorIs(t, err, session.ErrNoRefreshCredential)
	require.Zero(t, f.backend.Calls("refresh"))

	snap := f.store.Snapshot()
	require.Equal(t, access, snap.AccessToken)
	require.Equal(t, session.ReasonNoRefreshCredential, snap.LastError)
}

func TestRefreshReplacesAccess(t *testing.T) {
	f := setup(t, nil)
	f.grantLogin(signAccess(t, testNow.Add(time.Minute)), "r1")
	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))

	exp := testNow.Add(2 * time.Hour)
	fresh := signAccess(t, exp)
	var presented string
	f.backend.refresh = func(refresh string) (*api.TokenPair, error) {
		presented = refresh
		return &api.TokenPair{Access: fresh}, nil
	}

	require.NoError(t, f.store.Refresh(context.Background()))
	require.Equal(t, "r1", presented)

	snap := f.store.Snapshot()
	require.Equal(t, fresh, snap.AccessToken)
	require.Equal(t, "r1", snap.RefreshToken)
	require.Equal(t, exp.Unix(), *snap.ExpiresAt)
	require.True(t, snap.Authenticated)
	require.Equal(t, credstore.Credentials{Access: fresh, Refresh: "r1"}, f.stored(t))
}

func TestRefreshStoresRotatedCredential(t *testing.T) {
	f := setup(t, map[credstore.Key]string{credstore.AccessKey: "a0", credstore.RefreshKey: "r1"})
	fresh := signAccess(t, testNow.Add(time.Hour))
	f.backend.refresh = func(string) (*api.TokenPair, error) {
		return &api.TokenPair{Access: fresh, Refresh: "r2"}, nil
	}

	require.NoError(t, f.store.Refresh(context.Background()))
	require.Equal(t, "r2", f.store.Snapshot().RefreshToken)
	require.Equal(t, credstore.Credentials{Access: fresh, Refresh: "r2"}, f.stored(t))
}

func TestRefreshFallsBackToMemoryCredential(t *testing.T) {
	f := setup(t, nil)
	f.grantLogin(signAccess(t, testNow.Add(time.Hour)), "r1")
	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))
	require.NoError(t, f.creds.Delete(context.Background(), credstore.RefreshKey))

	var presented string
	f.backend.refresh = func(refresh string) (*api.TokenPair, error) {
		presented = refresh
		return &api.TokenPair{Access: signAccess(t, testNow.Add(2*time.Hour))}, nil
	}
	require.NoError(t, f.store.Refresh(context.Background()))
	require.Equal(t, "r1", presented)
}

func TestRefreshRejectedDestroysSession(t *testing.T) {
	f := setup(t, nil)
	f.grantLogin(signAccess(t, testNow.Add(time.Hour)), "r1")
	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))
	f.backend.refresh = func(string) (*api.TokenPair, error) {
		return nil, rejected(http.StatusUnauthorized, "Token is invalid or expired")
	}

	err := f.store.Refresh(context.Background())
	require.ErrorIs(t, err, session.ErrRefreshRejected)

	snap := f.store.Snapshot()
	require.False(t, snap.Authenticated)
	require.Empty(t, snap.AccessToken)
	require.Empty(t, snap.RefreshToken)
	require.Nil(t, snap.ExpiresAt)
	require.Equal(t, "RefreshRejected", snap.LastError)
	require.Equal(t, credstore.Credentials{}, f.stored(t))
}

func TestRefreshNetworkFailureKeepsSession(t *testing.T) {
	f := setup(t, nil)
	access := signAccess(t, testNow.Add(time.Hour))
	f.grantLogin(access, "r1")
	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))
	f.backend.refresh = func(string) (*api.TokenPair, error) {
		return nil, rejected(http.StatusBadGateway, "")
	}

	err := f.store.Refresh(context.Background())
	require.ErrorIs(t, err, session.ErrNetworkFailure)

	snap := f.store.Snapshot()
	require.True(t, snap.Authenticated)
	require.Equal(t, access, snap.AccessToken)
	require.Equal(t, credstore.Credentials{Access: access, Refresh: "r1"}, f.stored(t))
}

func TestRefreshResultDiscardedAfterLogout(t *testing.T) {
	f := setup(t, nil)
	f.grantLogin(signAccess(t, testNow.Add(time.Hour)), "r1")
	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))

	entered := make(chan struct{})
	release := make(chan struct{})
	fresh := signAccess(t, testNow.Add(2*time.Hour))
	f.backend.refresh = func(string) (*api.TokenPair, error) {
		close(entered)
		<-release
		return &api.TokenPair{Access: fresh, Refresh: "r2"}, nil
	}

	done := make(chan error, 1)
	go func() {
		done <- f.store.Refresh(context.Background())
	}()
	<-entered
	require.NoError(t, f.store.Logout(context.Background()))
	close(release)
	require.NoError(t, <-done)

	snap := f.store.Snapshot()
	require.False(t, snap.Authenticated)
	require.Empty(t, snap.AccessToken)
	require.Empty(t, snap.RefreshToken)
	require.Equal(t, credstore.Credentials{}, f.stored(t))
}

func TestLogoutClearsEvenWhenServerFails(t *testing.T) {
	f := setup(t, nil)
	f.grantLogin(signAccess(t, testNow.Add(time.Hour)), "r1")
	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))

	var presented string
	f.backend.logout = func(refresh string) error {
		presented = refresh
		return rejected(http.StatusInternalServerError, "")
	}

	require.NoError(t, f.store.Logout(context.Background()))
	require.Equal(t, "r1", presented)

	snap := f.store.Snapshot()
	require.False(t, snap.Authenticated)
	require.Empty(t, snap.AccessToken)
	require.Empty(t, snap.RefreshToken)
	require.Empty(t, snap.LastError)
	require.Equal(t, credstore.Credentials{}, f.stored(t))
}

func TestLogoutWithoutRefreshSkipsServer(t *testing.T) {
	f := setup(t, map[credstore.Key]string{credstore.AccessKey: "a0"})

	require.NoError(t, f.store.Logout(context.Background()))
	require.Zero(t, f.backend.Calls("logout"))
	require.Empty(t, f.store.Snapshot().AccessToken)
	require.Equal(t, credstore.Credentials{}, f.stored(t))
}

func TestCheckStatusLiveCredential(t *testing.T) {
	exp := testNow.Add(time.Hour)
	access := signAccess(t, exp)
	f := setup(t, map[credstore.Key]string{credstore.AccessKey: access, credstore.RefreshKey: "r1"})

	require.NoError(t, f.store.CheckStatus(context.Background()))

	snap := f.store.Snapshot()
	require.True(t, snap.Authenticated)
	require.Equal(t, exp.Unix(), *snap.ExpiresAt)
	require.Zero(t, f.backend.Calls("refresh"))
	require.Zero(t, f.backend.Calls("obtain"))
	require.Equal(t, 1, f.profile.Calls())
}

func TestCheckStatusExpiredRefreshesExactlyOnce(t *testing.T) {
	expired := signAccess(t, testNow.Add(-time.Second))
	f := setup(t, map[credstore.Key]string{credstore.AccessKey: expired, credstore.RefreshKey: "r1"})

	fresh := signAccess(t, testNow.Add(time.Hour))
	var authenticatedDuringRefresh bool
	f.backend.refresh = func(string) (*api.TokenPair, error) {
		authenticatedDuringRefresh = f.store.Authenticated()
		return &api.TokenPair{Access: fresh}, nil
	}

	require.NoError(t, f.store.CheckStatus(context.Background()))

	require.Equal(t, 1, f.backend.Calls("refresh"))
	require.False(t, authenticatedDuringRefresh)
	snap := f.store.Snapshot()
	require.True(t, snap.Authenticated)
	require.Equal(t, fresh, snap.AccessToken)
	require.Equal(t, 1, f.profile.Calls())
}

func TestCheckStatusExpiredRefreshRejected(t *testing.T) {
	expired := signAccess(t, testNow.Add(-time.Second))
	f := setup(t, map[credstore.Key]string{credstore.AccessKey: expired, credstore.RefreshKey: "r1"})
	f.backend.refresh = func(string) (*api.TokenPair, error) {
		return nil, rejected(http.StatusUnauthorized, "Token is invalid or expired")
	}

	err := f.store.CheckStatus(context.Background())
	require.ErrorIs(t, err, session.ErrRefreshRejected)

	snap := f.store.Snapshot()
	require.False(t, snap.Authenticated)
	require.Equal(t, "RefreshRejected", snap.LastError)
	require.Equal(t, credstore.Credentials{}, f.stored(t))
	require.Zero(t, f.profile.Calls())
}

func TestCheckStatusWithoutCredential(t *testing.T) {
	f := setup(t, nil)

	require.NoError(t, f.store.CheckStatus(context.Background()))
	require.Equal(t, session.Session{}, f.store.Snapshot())
	require.Zero(t, f.backend.Calls("refresh"))
}

func TestCheckStatusMalformedCredential(t *testing.T) {
	f := setup(t, map[credstore.Key]string{credstore.AccessKey: "not-a-jwt", credstore.RefreshKey: "r1"})

	require.NoError(t, f.store.CheckStatus(context.Background()))
	require.False(t, f.store.Authenticated())
	require.Empty(t, f.store.Snapshot().AccessToken)
	require.Equal(t, credstore.Credentials{}, f.stored(t))
	require.Zero(t, f.backend.Calls("refresh"))
}

func TestCheckStatusClearsPreviousError(t *testing.T) {
	access := signAccess(t, testNow.Add(time.Hour))
	f := setup(t, map[credstore.Key]string{credstore.AccessKey: access})

	require.ErrorIs(t, f.store.Refresh(context.Background()), session.ErrNoRefreshCredential)
	require.Equal(t, session.ReasonNoRefreshCredential, f.store.Snapshot().LastError)

	require.NoError(t, f.store.CheckStatus(context.Background()))
	snap := f.store.Snapshot()
	require.True(t, snap.Authenticated)
	require.Empty(t, snap.LastError)
}

// unreadableCreds fails every read once broken is set.
type unreadableCreds struct {
	*credstore.MemoryStore
	broken bool
}

func (c *unreadableCreds) Get(ctx context.Context, key credstore.Key) (string, error) {
	if c.broken {
		return "", errors.New("disk unavailable")
	}
	return c.MemoryStore.Get(ctx, key)
}

func TestCheckStatusRecordsStorageFailure(t *testing.T) {
	creds := &unreadableCreds{MemoryStore: credstore.NewMemory()}
	store, err := session.New(newStubBackend(), creds,
		session.WithNowFunc(func() time.Time { return testNow }),
		session.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	creds.broken = true

	err = store.CheckStatus(context.Background())
	require.Error(t, err)
	require.Contains(t, store.Snapshot().LastError, "disk unavailable")
	require.False(t, store.Snapshot().Pending)
}

func TestRegisterSignsIn(t *testing.T) {
	f := setup(t, nil)
	access := signAccess(t, testNow.Add(time.Hour))
	var identifier string
	f.backend.obtain = func(id, _ string) (*api.TokenPair, error) {
		identifier = id
		return &api.TokenPair{Access: access, Refresh: "r1"}, nil
	}

	err := f.store.Register(context.Background(), api.RegisterFields{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "pw",
	})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", identifier)
	require.True(t, f.store.Authenticated())
	require.Equal(t, access, f.stored(t).Access)
}

func TestRegisterValidationFailure(t *testing.T) {
	f := setup(t, nil)
	f.backend.register = func(api.RegisterFields) (*api.Profile, error) {
		return nil, &api.StatusError{
			Endpoint:   api.RegisterPath,
			StatusCode: http.StatusBadRequest,
			Fields:     map[string][]string{"email": {"user with this email already exists."}},
		}
	}

	err := f.store.Register(context.Background(), api.RegisterFields{Email: "a@b.com", Password: "pw"})
	require.ErrorIs(t, err, session.ErrValidationFailed)

	var ve *session.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, []string{"user with this email already exists."}, ve.Fields["email"])
	require.True(t, strings.Contains(err.Error(), "email"))

	require.Zero(t, f.backend.Calls("obtain"))
	require.False(t, f.store.Authenticated())
	require.Equal(t, session.ReasonValidationFailed, f.store.Snapshot().LastError)
}

func TestRegisterServerFailure(t *testing.T) {
	f := setup(t, nil)
	f.backend.register = func(api.RegisterFields) (*api.Profile, error) {
		return nil, rejected(http.StatusInternalServerError, "")
	}

	err := f.store.Register(context.Background(), api.RegisterFields{Email: "a@b.com"})
	require.ErrorIs(t, err, session.ErrNetworkFailure)
	require.NotErrorIs(t, err, session.ErrValidationFailed)
}

func TestRegisterFailureRevokesIdentity(t *testing.T) {
	f := setup(t, nil)
	f.grantLogin(signAccess(t, testNow.Add(time.Hour)), "r1")
	require.NoError(t, f.store.Login(context.Background(), "alice@example.com", "pw"))
	require.True(t, f.store.Authenticated())

	f.backend.register = func(api.RegisterFields) (*api.Profile, error) {
		return nil, &api.StatusError{
			Endpoint:   api.RegisterPath,
			StatusCode: http.StatusBadRequest,
			Fields:     map[string][]string{"email": {"user with this email already exists."}},
		}
	}

	err := f.store.Register(context.Background(), api.RegisterFields{Email: "alice@example.com", Password: "pw"})
	require.ErrorIs(t, err, session.ErrValidationFailed)
	require.False(t, f.store.Authenticated())
	require.Equal(t, 1, f.backend.Calls("obtain"))
}

func TestChangesPublishedOnEventBus(t *testing.T) {
	bus := EventBus.New()
	var (
		mu        sync.Mutex
		snapshots []session.Session
	)
	require.NoError(t, bus.Subscribe(session.ChangedTopic, func(s session.Session) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, s)
	}))

	f := setup(t, nil, session.WithEventBus(bus))
	f.grantLogin(signAccess(t, testNow.Add(time.Hour)), "r1")
	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))
	require.NoError(t, f.store.Logout(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snapshots)
	require.True(t, snapshots[0].Pending)

	var sawAuthenticated bool
	for _, s := range snapshots {
		if s.Authenticated {
			sawAuthenticated = true
			require.NotEmpty(t, s.AccessToken)
		}
	}
	require.True(t, sawAuthenticated)

	last := snapshots[len(snapshots)-1]
	require.False(t, last.Authenticated)
	require.False(t, last.Pending)
}

func TestMetricsRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := session.NewMetrics(reg)
	require.NoError(t, err)

	f := setup(t, nil, session.WithMetrics(metrics))
	f.backend.obtain = func(string, string) (*api.TokenPair, error) {
		return nil, rejected(http.StatusUnauthorized, "")
	}
	require.Error(t, f.store.Login(context.Background(), "a@b.com", "wrong"))

	f.grantLogin(signAccess(t, testNow.Add(time.Hour)), "r1")
	require.NoError(t, f.store.Login(context.Background(), "a@b.com", "pw"))

	expected := `
# HELP wanderwave_session_authenticated 1 while the session identity is confirmed.
# TYPE wanderwave_session_authenticated gauge
wanderwave_session_authenticated 1
# HELP wanderwave_session_operations_total Session operations by operation and outcome.
# TYPE wanderwave_session_operations_total counter
wanderwave_session_operations_total{operation="login",outcome="invalid_credentials"} 1
wanderwave_session_operations_total{operation="login",outcome="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"wanderwave_session_authenticated", "wanderwave_session_operations_total"))

	_, err = session.NewMetrics(reg)
	require.Error(t, err)
}
