package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/wanderwave-session/token"
)

// Watch refreshes the access credential shortly before it expires, checking
// every interval until ctx is cancelled. Network failures are retried on the
// next tick. A rejected or missing refresh credential ends the watch with that
// error. Cancellation returns nil.
func (s *Store) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := s.refreshIfExpiring(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrRefreshRejected), errors.Is(err, ErrNoRefreshCredential):
				return err
			case ctx.Err() != nil:
				return nil
			default:
				s.logger.Warn().Err(err).Msg("scheduled refresh failed, retrying next tick")
			}
		}
	}
}

func (s *Store) refreshIfExpiring(ctx context.Context) error {
	snapshot := s.Snapshot()
	if !snapshot.Authenticated || snapshot.ExpiresAt == nil {
		return nil
	}
	if !token.ExpiresWithin(*snapshot.ExpiresAt, s.nowFunc(), s.leeway) {
		return nil
	}
	return s.Refresh(ctx)
}

// Watcher runs Watch in the background.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// StartWatcher launches Watch tied to ctx. Stop cancels it and waits for the
// goroutine to exit.
func (s *Store) StartWatcher(ctx context.Context, interval time.Duration) *Watcher {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		err := s.Watch(ctx, interval)
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
	}()
	return w
}

func (w *Watcher) Stop() error {
	w.cancel()
	<-w.done
	return w.Err()
}

// Done is closed once the watch has ended.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
