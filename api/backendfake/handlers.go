package backendfake

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeyUserID stores the authenticated user ID
const ContextKeyUserID ContextKey = "user_id"

const (
	noActiveAccount  = "No active account found with the given credentials"
	tokenNotValid    = "Token is invalid or expired"
	notAuthenticated = "Authentication credentials were not provided."
	minPasswordLen   = 8
)

func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func relativePath(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, apiPrefix)
}

func (b *Backend) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("backendfake request")
		next(w, r)
	}
}

func (b *Backend) CountingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := relativePath(r)
		b.mu.Lock()
		b.calls[path]++
		hook := b.hooks[path]
		b.mu.Unlock()

		if hook != nil {
			hook()
		}
		next(w, r)
	}
}

func (b *Backend) ForcedStatusMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status := b.forced[relativePath(r)]
		b.mu.Unlock()

		if status != 0 {
			writeDetail(w, status, http.StatusText(status))
			return
		}
		next(w, r)
	}
}

// RequireAuth validates the Bearer access credential.
func (b *Backend) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeDetail(w, http.StatusUnauthorized, notAuthenticated)
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
			writeDetail(w, http.StatusUnauthorized, tokenNotValid)
			return
		}
		userID, err := b.parseAccess(parts[1])
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, tokenNotValid)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ContextKeyUserID, userID)))
	}
}

func (b *Backend) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeDetail(w, http.StatusBadRequest, "JSON parse error")
			return
		}
		fields := map[string][]string{}
		if body.Email == "" {
			fields["email"] = []string{"This field may not be blank."}
		}
		if body.Password == "" {
			fields["password"] = []string{"This field may not be blank."}
		}
		if len(fields) > 0 {
			writeJSON(w, http.StatusBadRequest, fields)
			return
		}

		user, err := b.users.GetByEmail(body.Email)
		if err != nil || !CheckPasswordHash(body.Password, user.PasswordHash) {
			writeDetail(w, http.StatusUnauthorized, noActiveAccount)
			return
		}
		pair, err := b.issuePair(user.ID)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, pair)
	}
}

func (b *Backend) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Refresh string `json:"refresh"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Refresh == "" {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
			return
		}

		if !b.RefreshValid(body.Refresh) {
			b.refreshes.Delete(body.Refresh)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": tokenNotValid, "code": "token_not_valid"})
			return
		}
		rt, _ := b.refreshes.Get(body.Refresh)

		access, err := b.IssueAccess(rt.UserID, b.nowFunc().Add(b.accessTTL))
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := map[string]string{"access": access}
		if b.rotate {
			b.refreshes.Delete(body.Refresh)
			refresh, err := b.IssueRefresh(rt.UserID)
			if err != nil {
				writeDetail(w, http.StatusInternalServerError, err.Error())
				return
			}
			resp["refresh"] = refresh
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (b *Backend) VerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"token": {"This field is required."}})
			return
		}
		if _, err := b.parseAccess(body.Token); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": tokenNotValid, "code": "token_not_valid"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{})
	}
}

func (b *Backend) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			writeDetail(w, http.StatusBadRequest, "Multipart form parse error")
			return
		}
		user := &User{
			Username:  r.FormValue("username"),
			Email:     r.FormValue("email"),
			FirstName: r.FormValue("first_name"),
			LastName:  r.FormValue("last_name"),
			Status:    r.FormValue("status"),
			AboutMe:   r.FormValue("about_me"),
		}
		password := r.FormValue("password")

		fields := map[string][]string{}
		switch {
		case user.Username == "":
			fields["username"] = []string{"This field may not be blank."}
		case b.users.UsernameTaken(user.Username):
			fields["username"] = []string{"A user with that username already exists."}
		}
		switch {
		case user.Email == "":
			fields["email"] = []string{"This field may not be blank."}
		case !strings.Contains(user.Email, "@"):
			fields["email"] = []string{"Enter a valid email address."}
		default:
			if _, err := b.users.GetByEmail(user.Email); err == nil {
				fields["email"] = []string{"user with this email address already exists."}
			}
		}
		if len(password) < minPasswordLen {
			fields["password"] = []string{"Ensure this field has at least 8 characters."}
		}
		if len(fields) > 0 {
			writeJSON(w, http.StatusBadRequest, fields)
			return
		}

		if file, header, err := r.FormFile("avatar"); err == nil {
			_, _ = io.Copy(io.Discard, file)
			file.Close()
			user.Avatar = "/media/avatars/" + header.Filename
		}

		hash, err := HashPassword(password)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		user.PasswordHash = hash
		user.DateJoined = b.nowFunc()
		if _, err := b.users.Insert(user); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"email": {"user with this email address already exists."}})
			return
		}
		writeJSON(w, http.StatusCreated, profileBody(user))
	}
}

func (b *Backend) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Refresh string `json:"refresh"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Refresh == "" {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
			return
		}
		b.refreshes.Delete(body.Refresh)
		w.WriteHeader(http.StatusResetContent)
	}
}

func (b *Backend) MyProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := r.Context().Value(ContextKeyUserID).(int64)
		user, err := b.users.GetByID(userID)
		if err != nil {
			writeDetail(w, http.StatusNotFound, "User not found")
			return
		}
		writeJSON(w, http.StatusOK, profileBody(user))
	}
}

func profileBody(u *User) map[string]any {
	body := map[string]any{
		"id":            u.ID,
		"status":        u.Status,
		"username":      u.Username,
		"email":         u.Email,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"full_name":     u.FullName(),
		"about_me":      u.AboutMe,
		"date_joined":   u.DateJoined.UTC().Format("2006-01-02T15:04:05Z"),
		"subscribers":   0,
		"subscriptions": 0,
	}
	if u.Avatar != "" {
		body["avatar"] = u.Avatar
	}
	return body
}
