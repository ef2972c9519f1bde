package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/scheme-qna/backend/pkg/logger"
)

const (
	// DefaultIdleTimeout is how long an unused session stays in memory.
	// Its history remains readable from the store afterwards.
	DefaultIdleTimeout = 30 * time.Minute
	evictionInterval   = 5 * time.Minute
)

type liveSession struct {
	session  *Session
	lastUsed atomic.Int64
}

// Registry holds live sessions in memory, keyed by ID. Sessions unused for
// the idle timeout are evicted until Stop is called.
type Registry struct {
	mu             sync.RWMutex
	sessions       map[string]*liveSession
	store          HistoryStore
	defaultBackend string
	idleTimeout    time.Duration
	now            func() time.Time

	cleanupTicker *time.Ticker
	done          chan struct{}
	stopOnce      sync.Once
}

func NewRegistry(store HistoryStore, defaultBackend string) *Registry {
	r := &Registry{
		sessions:       make(map[string]*liveSession),
		store:          store,
		defaultBackend: defaultBackend,
		idleTimeout:    DefaultIdleTimeout,
		now:            time.Now,
		cleanupTicker:  time.NewTicker(evictionInterval),
		done:           make(chan struct{}),
	}

	go r.cleanup()

	return r
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	live, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}
	live.lastUsed.Store(r.now().UnixNano())
	return live.session, true
}

// GetOrCreate returns the session for id, creating it when missing. An
// empty id always creates a new session with a generated ID.
func (r *Registry) GetOrCreate(id string) *Session {
	if id != "" {
		if s, ok := r.Get(id); ok {
			return s
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if live, ok := r.sessions[id]; ok && id != "" {
		live.lastUsed.Store(r.now().UnixNano())
		return live.session
	}
	live := &liveSession{session: New(id, r.defaultBackend, r.store)}
	live.lastUsed.Store(r.now().UnixNano())
	r.sessions[live.session.ID] = live
	return live.session
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// History returns the last limit entries of a session, from memory when the
// session is live and from the store otherwise.
func (r *Registry) History(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	if s, ok := r.Get(id); ok {
		h := s.History()
		if len(h) > limit {
			h = h[len(h)-limit:]
		}
		return h, nil
	}

	if r.store == nil {
		return []HistoryEntry{}, nil
	}
	return r.store.LoadHistory(ctx, id, limit)
}

// Feedback records feedback for an entry of a live or persisted session.
func (r *Registry) Feedback(ctx context.Context, sessionID, entryID string, helpful bool) error {
	if s, ok := r.Get(sessionID); ok {
		return s.Feedback(ctx, entryID, helpful)
	}
	if r.store == nil {
		return ErrEntryNotFound
	}
	return New(sessionID, r.defaultBackend, r.store).Feedback(ctx, entryID, helpful)
}

func (r *Registry) cleanup() {
	for {
		select {
		case <-r.done:
			return
		case <-r.cleanupTicker.C:
			r.evictIdle(r.idleTimeout)
		}
	}
}

func (r *Registry) evictIdle(idle time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle).UnixNano()
	evicted := 0
	for id, live := range r.sessions {
		if live.lastUsed.Load() < cutoff {
			delete(r.sessions, id)
			evicted++
		}
	}

	if evicted > 0 {
		logger.Debug("Evicted idle sessions",
			zap.Int("evicted", evicted),
			zap.Int("remaining", len(r.sessions)),
		)
	}
}

func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.cleanupTicker.Stop()
		close(r.done)
	})
}
