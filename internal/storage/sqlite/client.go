package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/scheme-qna/backend/internal/storage/models"
	"github.com/scheme-qna/backend/pkg/logger"
)

var ErrQueryNotFound = errors.New("query not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		backend TEXT NOT NULL,
		ministry TEXT,
		filter_fallback INTEGER DEFAULT 0,
		result_count INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_session ON query_history(session_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		scheme_name TEXT NOT NULL,
		ministry TEXT,
		department TEXT,
		chunk TEXT NOT NULL,
		distance REAL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_query ON query_sources(query_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);

	CREATE TABLE IF NOT EXISTS corpus_builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		outcome TEXT NOT NULL,
		stage TEXT,
		error TEXT,
		records INTEGER,
		chunks INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_builds_created ON corpus_builds(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertQueryRecord stores a record and its sources in one transaction.
func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord, sources []models.QuerySource) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO query_history (id, session_id, question, answer, backend, ministry,
			filter_fallback, result_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.SessionID,
		record.Question,
		record.Answer,
		record.Backend,
		record.Ministry,
		boolToInt(record.FilterFallback),
		record.ResultCount,
		record.LatencyMS,
		record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	for _, src := range sources {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO query_sources (query_id, rank, scheme_name, ministry, department, chunk, distance)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			record.ID,
			src.Rank,
			src.SchemeName,
			src.Ministry,
			src.Department,
			src.Chunk,
			src.Distance,
		)
		if err != nil {
			return fmt.Errorf("failed to insert query source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("session_id", record.SessionID),
		zap.String("backend", record.Backend),
		zap.Int("sources", len(sources)),
	)

	return nil
}

// GetQueryHistory returns a session's records, oldest first, keeping the
// latest limit entries.
func (c *Client) GetQueryHistory(ctx context.Context, sessionID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, session_id, question, answer, backend, ministry, filter_fallback,
			result_count, latency_ms, created_at
		FROM (
			SELECT rowid AS seq, * FROM query_history
			WHERE session_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := c.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var ministry sql.NullString
		var fallback int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.SessionID, &r.Question, &r.Answer, &r.Backend, &ministry,
			&fallback, &r.ResultCount, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Ministry = ministry.String
		r.FilterFallback = fallback != 0
		r.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) GetQuerySources(ctx context.Context, queryID string) ([]models.QuerySource, error) {
	query := `
		SELECT id, query_id, rank, scheme_name, ministry, department, chunk, distance
		FROM query_sources
		WHERE query_id = ?
		ORDER BY rank ASC
	`

	rows, err := c.db.QueryContext(ctx, query, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get query sources: %w", err)
	}
	defer rows.Close()

	var sources []models.QuerySource
	for rows.Next() {
		var s models.QuerySource
		var ministry, department sql.NullString
		var distance sql.NullFloat64

		err := rows.Scan(&s.ID, &s.QueryID, &s.Rank, &s.SchemeName, &ministry, &department, &s.Chunk, &distance)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		s.Ministry = ministry.String
		s.Department = department.String
		s.Distance = distance.Float64
		sources = append(sources, s)
	}

	return sources, rows.Err()
}

// StoreFeedback records feedback for an existing query. It returns
// ErrQueryNotFound when the query was never recorded.
func (c *Client) StoreFeedback(ctx context.Context, feedback *models.Feedback) error {
	var exists int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM query_history WHERE id = ?`, feedback.QueryID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up query: %w", err)
	}
	if exists == 0 {
		return ErrQueryNotFound
	}

	createdAt := feedback.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO feedback (query_id, helpful, comment, created_at) VALUES (?, ?, ?, ?)`,
		feedback.QueryID,
		boolToInt(feedback.Helpful),
		feedback.Comment,
		createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("query_id", feedback.QueryID),
		zap.Bool("helpful", feedback.Helpful),
	)

	return nil
}

func (c *Client) FeedbackSummary(ctx context.Context) (models.FeedbackSummary, error) {
	var summary models.FeedbackSummary
	err := c.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN helpful = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN helpful = 0 THEN 1 ELSE 0 END), 0)
		FROM feedback`).Scan(&summary.Helpful, &summary.NotHelpful)
	if err != nil {
		return summary, fmt.Errorf("failed to summarize feedback: %w", err)
	}
	return summary, nil
}

func (c *Client) RecordCorpusBuild(ctx context.Context, build *models.CorpusBuild) error {
	createdAt := build.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO corpus_builds (source, outcome, stage, error, records, chunks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		build.Source,
		build.Outcome,
		build.Stage,
		build.Error,
		build.Records,
		build.Chunks,
		createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record corpus build: %w", err)
	}
	return nil
}

// RecentCorpusBuilds returns the latest builds, newest first.
func (c *Client) RecentCorpusBuilds(ctx context.Context, limit int) ([]models.CorpusBuild, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, source, outcome, stage, error, records, chunks, created_at
		FROM corpus_builds
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get corpus builds: %w", err)
	}
	defer rows.Close()

	var builds []models.CorpusBuild
	for rows.Next() {
		var b models.CorpusBuild
		var stage, errText sql.NullString
		var createdAt int64

		if err := rows.Scan(&b.ID, &b.Source, &b.Outcome, &stage, &errText, &b.Records, &b.Chunks, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		b.Stage = stage.String
		b.Error = errText.String
		b.CreatedAt = time.UnixMilli(createdAt)
		builds = append(builds, b)
	}

	return builds, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
