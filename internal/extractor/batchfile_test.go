package extractor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/paperdex/pkg/types"
)

func sampleRecords() []Record {
	return []Record{{
		Content: validExtraction,
		Metadata: RecordMetadata{
			SourceFile:  "alps.pdf",
			SummaryType: SummaryComprehensive,
			ProcessedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Prompt:      "Summarize <the> paper",
		},
	}}
}

func TestBatchFilePath_DistinctPerSource(t *testing.T) {
	names := []string{"paper.pdf", "paper.md", "a/paper.pdf", "b/paper.pdf", "a%2Fpaper.pdf"}
	seen := make(map[string]string, len(names))
	for _, name := range names {
		base := filepath.Base(BatchFilePath("out", name))
		assert.True(t, strings.HasSuffix(base, BatchFileSuffix))
		if prev, ok := seen[base]; ok {
			t.Fatalf("%q and %q share batch file %q", prev, name, base)
		}
		seen[base] = name
		assert.Equal(t, name, SourceName(base))
	}
	assert.Equal(t, "a%2Fpaper.pdf_gemini.jsonl", filepath.Base(BatchFilePath("out", "a/paper.pdf")))
}

func TestBatchFile_RoundTrip(t *testing.T) {
	path := BatchFilePath(filepath.Join(t.TempDir(), "out"), "alps.pdf")
	assert.Equal(t, "alps.pdf_gemini.jsonl", filepath.Base(path))

	require.NoError(t, WriteBatchFile(path, sampleRecords()))
	require.NoError(t, ValidateBatchFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"source_file":"alps.pdf"`)
	assert.Contains(t, string(raw), "<the>")

	got, err := ReadBatchFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestWriteBatchFile_Empty(t *testing.T) {
	err := WriteBatchFile(filepath.Join(t.TempDir(), "x_gemini.jsonl"), nil)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestValidateBatchFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	t.Run("missing", func(t *testing.T) {
		err := ValidateBatchFile(filepath.Join(dir, "nope_gemini.jsonl"))
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("empty", func(t *testing.T) {
		err := ValidateBatchFile(write("empty_gemini.jsonl", ""))
		assert.ErrorIs(t, err, types.ErrMalformedOutput)
	})

	t.Run("blank lines only", func(t *testing.T) {
		err := ValidateBatchFile(write("blank_gemini.jsonl", "\n\n"))
		assert.ErrorIs(t, err, types.ErrMalformedOutput)
	})

	t.Run("bad json line", func(t *testing.T) {
		err := ValidateBatchFile(write("bad_gemini.jsonl", "{not json}\n"))
		assert.ErrorIs(t, err, types.ErrMalformedOutput)
	})

	t.Run("missing metadata", func(t *testing.T) {
		err := ValidateBatchFile(write("meta_gemini.jsonl", `{"content":"{}"}`+"\n"))
		assert.ErrorIs(t, err, types.ErrMalformedOutput)
	})

	t.Run("content lacks sections", func(t *testing.T) {
		line := `{"content":"{\"metadata\":{}}","metadata":{"source_file":"a.pdf"}}`
		err := ValidateBatchFile(write("sections_gemini.jsonl", line+"\n"))
		assert.ErrorIs(t, err, types.ErrMalformedOutput)
	})
}

func TestDiscoverBatchFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_gemini.jsonl", "a_gemini.jsonl", "notes.txt", "c.jsonl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	files, err := DiscoverBatchFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a_gemini.jsonl", filepath.Base(files[0]))
	assert.Equal(t, "b", SourceName(files[1]))

	single, err := DiscoverBatchFiles(files[0])
	require.NoError(t, err)
	assert.Equal(t, files[:1], single)

	_, err = DiscoverBatchFiles(filepath.Join(dir, "notes.txt"))
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = DiscoverBatchFiles(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestRecordCategory(t *testing.T) {
	assert.Equal(t, types.CategoryComprehensive, Record{}.Category())
	assert.Equal(t, "method", Record{Metadata: RecordMetadata{SummaryType: "method"}}.Category())
}
