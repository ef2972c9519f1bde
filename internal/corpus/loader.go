// Package corpus turns the raw scheme JSON export into typed SchemeRecords.
package corpus

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/scheme-qna/backend/pkg/logger"
)

const (
	DefaultSchemeName = "Unknown Scheme"
	DefaultMinistry   = "Unknown Ministry"
	DefaultDepartment = "Unknown Department"
)

// SchemeRecord is one government scheme. String fields are never empty and
// list fields never contain empty items.
type SchemeRecord struct {
	SchemeName         string
	Ministry           string
	Department         string
	Details            []string
	Eligibility        []string
	ApplicationProcess []string
}

// CorpusError reports a source that could not be opened or parsed.
type CorpusError struct {
	Source string
	Reason string
	Err    error
}

func (e *CorpusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corpus %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("corpus %s: %s", e.Source, e.Reason)
}

func (e *CorpusError) Unwrap() error {
	return e.Err
}

// Source is where a corpus is read from: a file on disk or an upload.
type Source interface {
	Open() (io.ReadCloser, error)
	String() string
}

type fileSource string

// FileSource reads the corpus from path.
func FileSource(path string) Source {
	return fileSource(path)
}

func (f fileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}

func (f fileSource) String() string {
	return string(f)
}

type bytesSource struct {
	name string
	data []byte
}

// BytesSource serves an in-memory corpus, e.g. an uploaded file.
func BytesSource(name string, data []byte) Source {
	return &bytesSource{name: name, data: data}
}

func (b *bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (b *bytesSource) String() string {
	return b.name
}

// Load reads and parses src. On failure it returns no records and a
// *CorpusError; it never panics on malformed input.
func Load(src Source) ([]SchemeRecord, error) {
	rc, err := src.Open()
	if err != nil {
		cerr := &CorpusError{Source: src.String(), Reason: "cannot open source", Err: err}
		logger.Error("Failed to open corpus", zap.String("source", src.String()), zap.Error(err))
		return nil, cerr
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		logger.Error("Failed to read corpus", zap.String("source", src.String()), zap.Error(err))
		return nil, &CorpusError{Source: src.String(), Reason: "cannot read source", Err: err}
	}

	records, err := Parse(data)
	if err != nil {
		if cerr, ok := err.(*CorpusError); ok {
			cerr.Source = src.String()
		}
		logger.Error("Failed to parse corpus", zap.String("source", src.String()), zap.Error(err))
		return nil, err
	}

	logger.Info("Corpus loaded",
		zap.String("source", src.String()),
		zap.Int("records", len(records)),
	)

	return records, nil
}

// Parse decodes a JSON array of {"data": {...}} objects. Missing fields
// take their defaults; a non-array document or non-object element is a
// *CorpusError.
func Parse(data []byte) ([]SchemeRecord, error) {
	if !gjson.ValidBytes(data) {
		return nil, &CorpusError{Source: "<bytes>", Reason: "invalid JSON"}
	}

	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, &CorpusError{Source: "<bytes>", Reason: "top-level value is not an array"}
	}

	elements := root.Array()
	records := make([]SchemeRecord, 0, len(elements))
	for i, elem := range elements {
		if !elem.IsObject() {
			return nil, &CorpusError{
				Source: "<bytes>",
				Reason: fmt.Sprintf("element %d is not an object", i),
			}
		}

		payload := elem.Get("data")
		if !payload.IsObject() {
			logger.Warn("Scheme element has no data object, using defaults", zap.Int("element", i))
		}

		records = append(records, parseRecord(payload))
	}

	return records, nil
}

func parseRecord(data gjson.Result) SchemeRecord {
	return SchemeRecord{
		SchemeName:         stringOr(data.Get("scheme_name"), DefaultSchemeName),
		Ministry:           stringOr(data.Get("ministry"), DefaultMinistry),
		Department:         stringOr(data.Get("department"), DefaultDepartment),
		Details:            flatten(data.Get("details_content")),
		Eligibility:        flatten(data.Get("eligibility_content")),
		ApplicationProcess: flatten(data.Get("application_process")),
	}
}

func stringOr(v gjson.Result, def string) string {
	if !v.Exists() || v.Type == gjson.Null {
		return def
	}
	var s string
	if v.IsObject() || v.IsArray() {
		s = v.Raw
	} else {
		s = v.String()
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// flatten turns a list field into normalized strings. Arrays are walked
// recursively, a scalar becomes a single item and nulls are skipped.
func flatten(v gjson.Result) []string {
	var out []string
	var walk func(r gjson.Result)
	walk = func(r gjson.Result) {
		switch {
		case !r.Exists() || r.Type == gjson.Null:
		case r.IsArray():
			for _, item := range r.Array() {
				walk(item)
			}
		case r.IsObject():
			if s := normalize(r.Raw); s != "" {
				out = append(out, s)
			}
		default:
			if s := normalize(r.String()); s != "" {
				out = append(out, s)
			}
		}
	}
	walk(v)
	return out
}

var (
	markupPattern     = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

func normalize(s string) string {
	if markupPattern.MatchString(s) {
		s = stripMarkup(s)
	}
	return strings.TrimSpace(s)
}

func stripMarkup(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}

	doc.Find("script, style").Remove()

	return whitespacePattern.ReplaceAllString(doc.Text(), " ")
}
