package chunker

import (
	"strings"

	"github.com/scheme-qna/backend/internal/corpus"
)

// Metadata identifies the scheme a chunk was derived from.
type Metadata struct {
	SchemeName string `json:"scheme_name"`
	Ministry   string `json:"ministry"`
	Department string `json:"department"`
}

// Chunk derives one text unit per record. The two returned slices always
// have equal length and follow input order; records whose text is empty
// after trimming are skipped.
func Chunk(records []corpus.SchemeRecord) ([]string, []Metadata) {
	chunks := make([]string, 0, len(records))
	metadata := make([]Metadata, 0, len(records))

	for _, rec := range records {
		text := Text(rec)
		if text == "" {
			continue
		}
		chunks = append(chunks, text)
		metadata = append(metadata, Metadata{
			SchemeName: rec.SchemeName,
			Ministry:   rec.Ministry,
			Department: rec.Department,
		})
	}

	return chunks, metadata
}

// Text renders the header lines followed by details, eligibility and
// application process items, newline-joined and trimmed.
func Text(rec corpus.SchemeRecord) string {
	parts := make([]string, 0, 3+len(rec.Details)+len(rec.Eligibility)+len(rec.ApplicationProcess))
	parts = append(parts,
		"Scheme: "+rec.SchemeName,
		"Ministry: "+rec.Ministry,
		"Department: "+rec.Department,
	)
	parts = append(parts, rec.Details...)
	parts = append(parts, rec.Eligibility...)
	parts = append(parts, rec.ApplicationProcess...)

	return strings.TrimSpace(strings.Join(parts, "\n"))
}
