package models

import "time"

// QueryRecord is one answered question.
type QueryRecord struct {
	ID             string
	SessionID      string
	Question       string
	Answer         string
	Backend        string
	Ministry       string
	FilterFallback bool
	ResultCount    int
	LatencyMS      int
	CreatedAt      time.Time
}

// QuerySource is a chunk shown as a source for a QueryRecord, in rank order.
type QuerySource struct {
	ID         int
	QueryID    string
	Rank       int
	SchemeName string
	Ministry   string
	Department string
	Chunk      string
	Distance   float64
}

type Feedback struct {
	ID        int
	QueryID   string
	Helpful   bool
	Comment   string
	CreatedAt time.Time
}

type FeedbackSummary struct {
	Helpful    int
	NotHelpful int
}

// CorpusBuild records one attempt to build the index from a corpus.
type CorpusBuild struct {
	ID        int       `json:"id"`
	Source    string    `json:"source"`
	Outcome   string    `json:"outcome"`
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	Records   int       `json:"records"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}
