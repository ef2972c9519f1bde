package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FullRecord(t *testing.T) {
	data := []byte(`[
		{"data": {
			"scheme_name": "Jan Dhan Yojana",
			"ministry": "Finance",
			"department": "Financial Services",
			"details_content": ["Zero balance account", null, 42],
			"eligibility_content": ["Indian citizen", "age 18+"],
			"application_process": ["1. Visit a bank branch", "2. Submit KYC"],
			"tags": ["ignored"]
		}}
	]`)

	records, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "Jan Dhan Yojana", rec.SchemeName)
	assert.Equal(t, "Finance", rec.Ministry)
	assert.Equal(t, "Financial Services", rec.Department)
	assert.Equal(t, []string{"Zero balance account", "42"}, rec.Details)
	assert.Equal(t, []string{"Indian citizen", "age 18+"}, rec.Eligibility)
	assert.Equal(t, []string{"1. Visit a bank branch", "2. Submit KYC"}, rec.ApplicationProcess)
}

func TestParse_DefaultsForMissingFields(t *testing.T) {
	records, err := Parse([]byte(`[{"data": {"scheme_name": "  ", "ministry": null}}, {}]`))
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, rec := range records {
		assert.Equal(t, DefaultSchemeName, rec.SchemeName)
		assert.Equal(t, DefaultMinistry, rec.Ministry)
		assert.Equal(t, DefaultDepartment, rec.Department)
		assert.Empty(t, rec.Details)
		assert.Empty(t, rec.Eligibility)
		assert.Empty(t, rec.ApplicationProcess)
	}
}

func TestParse_ScalarAndNestedFields(t *testing.T) {
	records, err := Parse([]byte(`[{"data": {
		"details_content": "A single paragraph",
		"eligibility_content": [["nested", ["deeper"]], "  ", true],
		"application_process": null
	}}]`))
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, []string{"A single paragraph"}, records[0].Details)
	assert.Equal(t, []string{"nested", "deeper", "true"}, records[0].Eligibility)
	assert.Empty(t, records[0].ApplicationProcess)
}

func TestParse_StripsMarkup(t *testing.T) {
	records, err := Parse([]byte(`[{"data": {"details_content": ["<p>Provides <b>free</b>\n  insurance</p>"]}}]`))
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, []string{"Provides free insurance"}, records[0].Details)
}

func TestParse_EmptyArray(t *testing.T) {
	records, err := Parse([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string]string{
		"invalid json":    `[{"data": `,
		"not an array":    `{"data": {}}`,
		"non-object item": `[{"data": {}}, "oops"]`,
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			records, err := Parse([]byte(input))
			assert.Nil(t, records)

			var cerr *CorpusError
			require.True(t, errors.As(err, &cerr), "expected CorpusError, got %v", err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemes.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"data": {"scheme_name": "PM Kisan"}}]`), 0o644))

	records, err := Load(FileSource(path))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "PM Kisan", records[0].SchemeName)
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	records, err := Load(FileSource(path))
	assert.Nil(t, records)

	var cerr *CorpusError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, path, cerr.Source)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad_BytesSourceReportsName(t *testing.T) {
	_, err := Load(BytesSource("upload.json", []byte(`42`)))

	var cerr *CorpusError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "upload.json", cerr.Source)
}
