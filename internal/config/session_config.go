package config

import "time"

type SessionConfig interface {
	GetRefreshInterval() time.Duration
	GetRefreshLeeway() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetRefreshInterval is how often a live session checks its access credential expiry.
func (Session) GetRefreshInterval() time.Duration {
	return GetDurationEnv("REFRESH_INTERVAL", time.Minute)
}

// GetRefreshLeeway is how long before expiry a proactive refresh is attempted.
func (Session) GetRefreshLeeway() time.Duration {
	return GetDurationEnv("REFRESH_LEEWAY", 30*time.Second)
}
