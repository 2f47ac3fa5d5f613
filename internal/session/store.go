// Package session keeps wizard controllers in memory, keyed by session id.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tryon/internal/wizard"
)

// ErrNotFound is returned for unknown or evicted sessions.
var ErrNotFound = errors.New("session not found")

const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Factory builds the controller for a new session.
type Factory func(id, locale string) *wizard.Controller

// Options configures a Store.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Factory       Factory
	Logger        zerolog.Logger
	// OnSizeChange receives the session count after every create, delete
	// and sweep.
	OnSizeChange func(n int)
	Now          func() time.Time
}

// Store is an in-memory session registry with idle eviction.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*wizard.Controller

	ttl      time.Duration
	interval time.Duration
	factory  Factory
	logger   zerolog.Logger
	onSize   func(int)
	now      func() time.Time
}

// NewStore constructs an empty store.
func NewStore(opts Options) *Store {
	s := &Store{
		sessions: make(map[string]*wizard.Controller),
		ttl:      opts.TTL,
		interval: opts.SweepInterval,
		factory:  opts.Factory,
		logger:   opts.Logger,
		onSize:   opts.OnSizeChange,
		now:      opts.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.interval <= 0 {
		s.interval = DefaultSweepInterval
	}
	if s.factory == nil {
		s.factory = func(id, _ string) *wizard.Controller {
			return wizard.NewController(wizard.Options{SessionID: id})
		}
	}
	if s.onSize == nil {
		s.onSize = func(int) {}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Create starts a new session in the initial wizard state.
func (s *Store) Create(locale string) *wizard.Controller {
	id := uuid.NewString()
	ctrl := s.factory(id, locale)

	s.mu.Lock()
	s.sessions[id] = ctrl
	n := len(s.sessions)
	s.mu.Unlock()

	s.onSize(n)
	s.logger.Debug().Str("session_id", id).Msg("session: created")
	return ctrl
}

// Get returns the controller for id.
func (s *Store) Get(id string) (*wizard.Controller, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	ctrl, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return ctrl, nil
}

// Delete removes the session and cancels its in-flight generation.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	ctrl, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	n := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	ctrl.Close()
	s.onSize(n)
	return nil
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep evicts sessions idle for longer than the TTL and returns how many
// were removed. Sessions with a generation in flight are kept.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	var evicted []*wizard.Controller
	s.mu.Lock()
	for id, ctrl := range s.sessions {
		if !ctrl.LastUpdated().Before(cutoff) {
			continue
		}
		if ctrl.Snapshot().Step == wizard.Generating {
			continue
		}
		delete(s.sessions, id)
		evicted = append(evicted, ctrl)
	}
	n := len(s.sessions)
	s.mu.Unlock()

	for _, ctrl := range evicted {
		ctrl.Close()
	}
	if len(evicted) > 0 {
		s.logger.Info().Int("evicted", len(evicted)).Int("remaining", n).Msg("session: sweep")
		s.onSize(n)
	}
	return len(evicted)
}

// Run sweeps on the configured interval until ctx is done, then cancels
// every remaining session's generation.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Store) closeAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ctrl := range s.sessions {
		ctrl.Close()
	}
}
