// Package profile keeps the signed-in user's profile in step with the session.
package profile

import (
	"context"
	"sync"

	"github.com/asaskevich/EventBus"
	"github.com/jrsteele09/wanderwave-session/api"
	"github.com/jrsteele09/wanderwave-session/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Source loads the profile of whoever the gateway is authenticated as.
type Source interface {
	MyProfile(ctx context.Context) (*api.Profile, error)
}

var _ Source = (*api.Client)(nil)

type Service struct {
	source Source
	logger zerolog.Logger

	mu      sync.RWMutex
	current *api.Profile
}

var _ session.ProfileFetcher = (*Service)(nil)

type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(source Source, opts ...Option) *Service {
	s := &Service{source: source, logger: log.Logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch loads the profile and keeps it as the current one.
func (s *Service) Fetch(ctx context.Context) error {
	p, err := s.source.MyProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "[Service.Fetch] MyProfile")
	}
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	s.logger.Debug().Int64("id", p.ID).Str("username", p.Username).Msg("profile loaded")
	return nil
}

// Current returns a copy of the loaded profile, if any.
func (s *Service) Current() (api.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return api.Profile{}, false
	}
	return *s.current, true
}

func (s *Service) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// Subscribe drops the profile whenever the session loses its identity.
func (s *Service) Subscribe(bus EventBus.Bus) error {
	return errors.Wrap(bus.Subscribe(session.ChangedTopic, s.sessionChanged), "[Service.Subscribe]")
}

func (s *Service) sessionChanged(snapshot session.Session) {
	if snapshot.Authenticated {
		return
	}
	s.Clear()
}
