package token

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/wanderwave-session/internal/errors"
)

// Claims is the subset of an access credential payload the client reads.
// Nothing here is trusted: signature verification is the backend's job.
type Claims struct {
	Exp    *int64 `json:"exp,omitempty"`     // Expiration, seconds since epoch
	UserID *int64 `json:"user_id,omitempty"` // simplejwt user id claim
}

// Decode parses the payload of rawToken without verifying its signature.
func Decode(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, ierrors.ErrMalformedToken
	}

	unverifiedToken, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Wrap(ierrors.ErrMalformedToken, err.Error())
	}

	mapClaims, ok := unverifiedToken.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.Wrap(ierrors.ErrMalformedToken, "error extracting claims")
	}

	claims := &Claims{}
	if exp, ok := mapClaims["exp"].(float64); ok {
		expInt := int64(exp)
		claims.Exp = &expInt
	}
	if userID, ok := mapClaims["user_id"].(float64); ok {
		id := int64(userID)
		claims.UserID = &id
	}
	return claims, nil
}

// DecodeExpiry returns the exp claim of rawToken in seconds since epoch.
func DecodeExpiry(rawToken string) (int64, error) {
	claims, err := Decode(rawToken)
	if err != nil {
		return 0, err
	}
	if claims.Exp == nil {
		return 0, ierrors.ErrMissingExpiry
	}
	return *claims.Exp, nil
}

// Expired reports whether exp is at or before now.
func Expired(exp int64, now time.Time) bool {
	return now.Unix() >= exp
}

// ExpiresWithin reports whether exp falls inside the leeway window ending now+leeway.
func ExpiresWithin(exp int64, now time.Time, leeway time.Duration) bool {
	return !now.Add(leeway).Before(time.Unix(exp, 0))
}
