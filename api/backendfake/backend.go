// Package backendfake is an in-process stand-in for the WanderWave REST
// backend. It issues real HS256 access credentials so clients exercise the
// same decoding paths they use in production.
package backendfake

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const apiPrefix = "/api/"

// Backend serves the user/token endpoints under /api/.
type Backend struct {
	users      *userRepo
	refreshes  *refreshRepo
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	rotate     bool
	nowFunc    func() time.Time
	logger     zerolog.Logger

	mu     sync.Mutex
	calls  map[string]int
	forced map[string]int
	hooks  map[string]func()

	server *httptest.Server
}

type Option func(*Backend)

func WithNowFunc(now func() time.Time) Option {
	return func(b *Backend) {
		b.nowFunc = now
	}
}

func WithTokenExpiry(accessTTL, refreshTTL time.Duration) Option {
	return func(b *Backend) {
		b.accessTTL = accessTTL
		b.refreshTTL = refreshTTL
	}
}

// WithRefreshRotation makes the refresh endpoint return a new refresh credential
// and invalidate the presented one.
func WithRefreshRotation(rotate bool) Option {
	return func(b *Backend) {
		b.rotate = rotate
	}
}

// WithLogger logs every request the backend serves at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

func WithSecret(secret []byte) Option {
	return func(b *Backend) {
		b.secret = secret
	}
}

func New(options ...Option) *Backend {
	b := &Backend{
		users:      newUserRepo(),
		refreshes:  newRefreshRepo(),
		secret:     []byte("backendfake-secret"),
		accessTTL:  5 * time.Minute,
		refreshTTL: 24 * time.Hour,
		nowFunc:    time.Now,
		logger:     zerolog.Nop(),
		calls:      make(map[string]int),
		forced:     make(map[string]int),
		hooks:      make(map[string]func()),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Start serves the backend on a loopback httptest server.
func (b *Backend) Start() *Backend {
	b.server = httptest.NewServer(b.Handler())
	return b
}

// URL is the API base URL, e.g. http://127.0.0.1:1234/api/.
func (b *Backend) URL() string {
	return b.server.URL + apiPrefix
}

func (b *Backend) Close() {
	if b.server != nil {
		b.server.Close()
	}
}

func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	routes := map[string]http.HandlerFunc{
		"POST " + apiPrefix + "user/token/":         b.TokenHandler(),
		"POST " + apiPrefix + "user/token/refresh/": b.RefreshHandler(),
		"POST " + apiPrefix + "user/token/verify/":  b.VerifyHandler(),
		"POST " + apiPrefix + "user/register/":      b.RegisterHandler(),
		"POST " + apiPrefix + "user/logout/":        b.LogoutHandler(),
		"GET " + apiPrefix + "user/my_profile/":     ChainMiddleware(b.MyProfileHandler(), b.RequireAuth),
	}
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, ChainMiddleware(handler, b.LoggingMiddleware, b.CountingMiddleware, b.ForcedStatusMiddleware))
	}
	return mux
}

// AddUser creates an account directly, bypassing the register endpoint.
func (b *Backend) AddUser(email, password string) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.AddUser] HashPassword")
	}
	username := strings.SplitN(email, "@", 2)[0]
	return b.users.Insert(&User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		DateJoined:   b.nowFunc(),
	})
}

// IssueAccess signs an access credential for userID that expires at exp.
func (b *Backend) IssueAccess(userID int64, exp time.Time) (string, error) {
	claims := jwtlib.MapClaims{
		"token_type": "access",
		"user_id":    userID,
		"iat":        b.nowFunc().Unix(),
		"exp":        exp.Unix(),
		"jti":        uuid.New().String(),
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(b.secret)
}

// IssueRefresh stores and returns a new opaque refresh credential for userID.
func (b *Backend) IssueRefresh(userID int64) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", errors.Wrap(err, "[Backend.IssueRefresh] rand.Read")
	}
	tokenStr := hex.EncodeToString(tokenBytes)
	b.refreshes.Upsert(&refreshRecord{Token: tokenStr, UserID: userID, Iat: b.nowFunc()})
	return tokenStr, nil
}

// RevokeRefresh blacklists a refresh credential.
func (b *Backend) RevokeRefresh(token string) {
	b.refreshes.Delete(token)
}

// RefreshValid reports whether token is still accepted by the refresh endpoint.
func (b *Backend) RefreshValid(token string) bool {
	rt, err := b.refreshes.Get(token)
	return err == nil && b.nowFunc().Sub(rt.Iat) <= b.refreshTTL
}

// Calls returns how many requests reached path (relative to the API root,
// e.g. "user/token/refresh/").
func (b *Backend) Calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

// ForceStatus makes path answer with status until cleared with status 0.
func (b *Backend) ForceStatus(path string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.forced, path)
		return
	}
	b.forced[path] = status
}

// OnRequest registers fn to run before path is handled; nil removes the hook.
// Hooks may block, which lets tests hold a response in flight.
func (b *Backend) OnRequest(path string, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn == nil {
		delete(b.hooks, path)
		return
	}
	b.hooks[path] = fn
}

func (b *Backend) issuePair(userID int64) (map[string]string, error) {
	access, err := b.IssueAccess(userID, b.nowFunc().Add(b.accessTTL))
	if err != nil {
		return nil, err
	}
	refresh, err := b.IssueRefresh(userID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"access": access, "refresh": refresh}, nil
}

func (b *Backend) parseAccess(raw string) (int64, error) {
	token, err := jwtlib.Parse(raw, func(*jwtlib.Token) (interface{}, error) {
		return b.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithTimeFunc(b.nowFunc))
	if err != nil || !token.Valid {
		return 0, errors.New("token is invalid or expired")
	}
	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return 0, errors.New("error extracting claims")
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, errors.New("token contained no recognizable user identification")
	}
	return int64(userID), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
