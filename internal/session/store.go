package session

import (
	"context"
	"errors"

	"github.com/scheme-qna/backend/internal/chunker"
	"github.com/scheme-qna/backend/internal/rag"
	"github.com/scheme-qna/backend/internal/storage/models"
	"github.com/scheme-qna/backend/internal/storage/sqlite"
)

// SQLiteStore keeps history in the query_history, query_sources and
// feedback tables.
type SQLiteStore struct {
	client *sqlite.Client
}

func NewSQLiteStore(client *sqlite.Client) *SQLiteStore {
	return &SQLiteStore{client: client}
}

func (s *SQLiteStore) SaveEntry(ctx context.Context, entry *HistoryEntry) error {
	record := &models.QueryRecord{
		ID:             entry.ID,
		SessionID:      entry.SessionID,
		Question:       entry.Question,
		Answer:         entry.Answer,
		Backend:        entry.Backend,
		Ministry:       entry.Ministry,
		FilterFallback: entry.FilterFallback,
		ResultCount:    len(entry.Sources),
		LatencyMS:      entry.LatencyMS,
		CreatedAt:      entry.CreatedAt,
	}

	sources := make([]models.QuerySource, len(entry.Sources))
	for i, src := range entry.Sources {
		sources[i] = models.QuerySource{
			QueryID:    entry.ID,
			Rank:       i + 1,
			SchemeName: src.Metadata.SchemeName,
			Ministry:   src.Metadata.Ministry,
			Department: src.Metadata.Department,
			Chunk:      src.Chunk,
			Distance:   float64(src.Distance),
		}
	}

	return s.client.InsertQueryRecord(ctx, record, sources)
}

func (s *SQLiteStore) SaveFeedback(ctx context.Context, entryID string, helpful bool) error {
	err := s.client.StoreFeedback(ctx, &models.Feedback{QueryID: entryID, Helpful: helpful})
	if errors.Is(err, sqlite.ErrQueryNotFound) {
		return ErrEntryNotFound
	}
	return err
}

func (s *SQLiteStore) LoadHistory(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error) {
	records, err := s.client.GetQueryHistory(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, r := range records {
		sources, err := s.client.GetQuerySources(ctx, r.ID)
		if err != nil {
			return nil, err
		}

		results := make([]rag.QueryResult, len(sources))
		for i, src := range sources {
			results[i] = rag.QueryResult{
				Chunk: src.Chunk,
				Metadata: chunker.Metadata{
					SchemeName: src.SchemeName,
					Ministry:   src.Ministry,
					Department: src.Department,
				},
				Distance: float32(src.Distance),
			}
		}

		entries = append(entries, HistoryEntry{
			ID:             r.ID,
			SessionID:      r.SessionID,
			Question:       r.Question,
			Answer:         r.Answer,
			Backend:        r.Backend,
			Ministry:       r.Ministry,
			FilterFallback: r.FilterFallback,
			Sources:        results,
			LatencyMS:      r.LatencyMS,
			CreatedAt:      r.CreatedAt,
		})
	}

	return entries, nil
}
