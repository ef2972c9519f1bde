// Package session keeps per-user question history and applies the ministry
// filter policy on top of plain retrieval.
package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scheme-qna/backend/internal/metrics"
	"github.com/scheme-qna/backend/internal/rag"
	"github.com/scheme-qna/backend/pkg/logger"
)

const (
	// AllMinistries disables the ministry filter.
	AllMinistries = "All"

	NoResultsAnswer = "I couldn't find relevant information in the provided data to answer your question."

	DefaultHistoryLimit = 50
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrEntryNotFound = errors.New("history entry not found")
)

type HistoryEntry struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	Question       string            `json:"question"`
	Answer         string            `json:"answer"`
	Backend        string            `json:"backend"`
	Ministry       string            `json:"ministry,omitempty"`
	FilterFallback bool              `json:"filter_fallback"`
	Sources        []rag.QueryResult `json:"sources"`
	Helpful        *bool             `json:"helpful,omitempty"`
	LatencyMS      int               `json:"latency_ms"`
	CreatedAt      time.Time         `json:"created_at"`
}

// System is the part of rag.System a session needs.
type System interface {
	Retrieve(ctx context.Context, question string, topK int) []rag.QueryResult
	Generate(ctx context.Context, question, passages, backend string) string
}

// HistoryStore persists history beyond the life of the process.
type HistoryStore interface {
	SaveEntry(ctx context.Context, entry *HistoryEntry) error
	SaveFeedback(ctx context.Context, entryID string, helpful bool) error
	LoadHistory(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error)
}

// FilterByMinistry keeps results from ministry. An empty ministry or
// AllMinistries leaves results unchanged. When nothing matches, the
// unfiltered results come back with fellBack set.
func FilterByMinistry(results []rag.QueryResult, ministry string) (filtered []rag.QueryResult, fellBack bool) {
	if ministry == "" || ministry == AllMinistries {
		return results, false
	}

	filtered = make([]rag.QueryResult, 0, len(results))
	for _, r := range results {
		if r.Metadata.Ministry == ministry {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return results, len(results) > 0
	}
	return filtered, false
}

type Session struct {
	ID string

	mu         sync.Mutex
	ministry   string
	backend    string
	history    []HistoryEntry
	store      HistoryStore
	maxHistory int
}

func New(id, backend string, store HistoryStore) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:         id,
		ministry:   AllMinistries,
		backend:    backend,
		store:      store,
		maxHistory: DefaultHistoryLimit,
	}
}

func (s *Session) SetMinistry(ministry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ministry == "" {
		ministry = AllMinistries
	}
	s.ministry = ministry
}

func (s *Session) SetBackend(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = backend
}

func (s *Session) Ministry() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ministry
}

func (s *Session) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// History returns a copy of the in-memory entries, oldest first.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Ask retrieves, applies the ministry filter, generates an answer and
// appends the exchange to history. Only an empty question is an error.
func (s *Session) Ask(ctx context.Context, sys System, question string, topK int) (*HistoryEntry, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	start := time.Now()
	ministry, backend := s.Ministry(), s.Backend()

	results := sys.Retrieve(ctx, question, topK)
	filtered, fellBack := FilterByMinistry(results, ministry)
	if fellBack {
		metrics.MinistryFilterFallbacks.Inc()
		logger.Warn("No results for ministry filter, showing general results",
			zap.String("session_id", s.ID),
			zap.String("ministry", ministry),
		)
	}

	status := "ok"
	var answer string
	if len(filtered) == 0 {
		answer = NoResultsAnswer
		status = "no_results"
	} else {
		answer = sys.Generate(ctx, question, rag.JoinContext(filtered), backend)
		if strings.HasPrefix(answer, "Error") {
			status = "error"
		}
	}

	elapsed := time.Since(start)
	entry := HistoryEntry{
		ID:             uuid.NewString(),
		SessionID:      s.ID,
		Question:       question,
		Answer:         answer,
		Backend:        backend,
		Ministry:       ministry,
		FilterFallback: fellBack,
		Sources:        filtered,
		LatencyMS:      int(elapsed.Milliseconds()),
		CreatedAt:      time.Now(),
	}

	metrics.QueryTotal.WithLabelValues(status).Inc()
	metrics.QueryDuration.WithLabelValues(backend).Observe(elapsed.Seconds())

	s.mu.Lock()
	s.history = append(s.history, entry)
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = append([]HistoryEntry(nil), s.history[over:]...)
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveEntry(ctx, &entry); err != nil {
			logger.Warn("Failed to persist history entry",
				zap.String("session_id", s.ID),
				zap.String("entry_id", entry.ID),
				zap.Error(err),
			)
		}
	}

	logger.Info("Question answered",
		zap.String("session_id", s.ID),
		zap.String("entry_id", entry.ID),
		zap.String("backend", backend),
		zap.String("status", status),
		zap.Int("sources", len(filtered)),
		zap.Duration("latency", elapsed),
	)

	return &entry, nil
}

// Feedback marks an entry helpful or not.
func (s *Session) Feedback(ctx context.Context, entryID string, helpful bool) error {
	s.mu.Lock()
	found := false
	for i := range s.history {
		if s.history[i].ID == entryID {
			v := helpful
			s.history[i].Helpful = &v
			found = true
			break
		}
	}
	s.mu.Unlock()

	if s.store != nil {
		err := s.store.SaveFeedback(ctx, entryID, helpful)
		switch {
		case err == nil:
		case !found:
			return err
		case !errors.Is(err, ErrEntryNotFound):
			logger.Warn("Failed to persist feedback", zap.String("entry_id", entryID), zap.Error(err))
		}
	} else if !found {
		return ErrEntryNotFound
	}

	metrics.Feedback.WithLabelValues(strconv.FormatBool(helpful)).Inc()
	return nil
}
