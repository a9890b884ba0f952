package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	ierrors "github.com/jrsteele09/wanderwave-session/internal/errors"
	"github.com/jrsteele09/wanderwave-session/token"
)

// TokenPair is the body returned by the token and refresh endpoints.
// The refresh endpoint only includes Refresh when the backend rotates it.
type TokenPair struct {
	// Access is the short-lived bearer credential (a JWT).
	Access string `json:"access"`

	// Refresh mints new access credentials.
	Refresh string `json:"refresh,omitempty"`
}

// OAuth2Token converts the pair to an oauth2.Token with Expiry decoded from
// the access credential. An undecodable access credential yields a zero Expiry.
func (p TokenPair) OAuth2Token() *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  p.Access,
		RefreshToken: p.Refresh,
		TokenType:    "Bearer",
	}
	if exp, err := token.DecodeExpiry(p.Access); err == nil {
		t.Expiry = time.Unix(exp, 0)
	}
	return t
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

// Avatar is an optional image uploaded with a registration.
type Avatar struct {
	Filename string
	Content  io.Reader
}

// RegisterFields are the profile fields accepted by the register endpoint.
type RegisterFields struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Status    string
	AboutMe   string
	Avatar    *Avatar
}

func (f RegisterFields) formValues() [][2]string {
	return [][2]string{
		{"username", f.Username},
		{"email", f.Email},
		{"password", f.Password},
		{"first_name", f.FirstName},
		{"last_name", f.LastName},
		{"status", f.Status},
		{"about_me", f.AboutMe},
	}
}

// Profile is the authenticated user's profile as returned by my_profile.
type Profile struct {
	ID            int64   `json:"id"`
	Avatar        *string `json:"avatar,omitempty"`
	Status        string  `json:"status,omitempty"`
	Username      string  `json:"username"`
	Email         string  `json:"email"`
	FirstName     string  `json:"first_name,omitempty"`
	LastName      string  `json:"last_name,omitempty"`
	FullName      string  `json:"full_name,omitempty"`
	AboutMe       string  `json:"about_me,omitempty"`
	DateJoined    string  `json:"date_joined,omitempty"`
	Subscribers   int     `json:"subscribers"`
	Subscriptions int     `json:"subscriptions"`
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Detail     string              // "detail" message, if any
	Fields     map[string][]string // field level messages, if any
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if len(e.Fields) > 0 {
		names := make([]string, 0, len(e.Fields))
		for name := range e.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		msg += " (fields: " + strings.Join(names, ", ") + ")"
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return ierrors.ErrUnexpectedStatus
}

// Rejected reports an explicit client-side rejection (4xx) as opposed to a
// server fault.
func (e *StatusError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// newStatusError decodes a simplejwt/DRF style error body:
// {"detail": "..."} or {"field": ["msg", ...], ...}.
func newStatusError(endpoint string, resp *http.Response) *StatusError {
	se := &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(body) == 0 {
		return se
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return se
	}
	for name, value := range raw {
		switch name {
		case "detail":
			_ = json.Unmarshal(value, &se.Detail)
		case "code", "messages":
			// simplejwt metadata
		default:
			if msgs := decodeMessages(value); len(msgs) > 0 {
				if se.Fields == nil {
					se.Fields = make(map[string][]string)
				}
				se.Fields[name] = msgs
			}
		}
	}
	return se
}

func decodeMessages(value json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(value, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(value, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}
