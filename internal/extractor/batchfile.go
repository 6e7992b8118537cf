package extractor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

// BatchFileSuffix names the per-source output file
const BatchFileSuffix = "_gemini.jsonl"

// Record is one line of a batch file
type Record struct {
	Content  string         `json:"content"`
	Metadata RecordMetadata `json:"metadata"`
}

// RecordMetadata describes where a record came from
type RecordMetadata struct {
	SourceFile  string    `json:"source_file"`
	SummaryType string    `json:"summary_type"`
	ProcessedAt time.Time `json:"processed_at"`
	Prompt      string    `json:"prompt"`
}

// batchNameEscaper flattens a slash separated source name into one file name
var batchNameEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

// BatchFilePath returns the batch file for a source in outputDir. The
// source name keeps its extension and directories, so "a/paper.pdf" and
// "b/paper.pdf" get distinct files.
func BatchFilePath(outputDir, sourceName string) string {
	return filepath.Join(outputDir, batchNameEscaper.Replace(filepath.ToSlash(sourceName))+BatchFileSuffix)
}

// WriteBatchFile writes records as JSON Lines. The file is replaced
// atomically, so readers never see a partial batch.
func WriteBatchFile(path string, records []Record) error {
	if len(records) == 0 {
		return goerr.Wrap(types.ErrInvalidParameter, "no records to write", goerr.V("path", path))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return goerr.Wrap(err, "failed to encode record", goerr.V("path", path))
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create output directory", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", dir))
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to write batch file", goerr.V("path", tmpName))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to sync batch file", goerr.V("path", tmpName))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close batch file", goerr.V("path", tmpName))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return goerr.Wrap(err, "failed to replace batch file", goerr.V("path", path))
	}
	return nil
}

// ReadBatchFile parses every record in path. Blank lines are ignored.
func ReadBatchFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(types.ErrNotFound, "batch file not found", goerr.V("path", path))
		}
		return nil, goerr.Wrap(err, "failed to open batch file", goerr.V("path", path))
	}
	defer func() { _ = f.Close() }()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			return nil, goerr.Wrap(types.ErrMalformedOutput, "invalid JSON line",
				goerr.V("path", path), goerr.V("line", line), goerr.V("error", err.Error()))
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read batch file", goerr.V("path", path))
	}
	return records, nil
}

// ValidateBatchFile checks that path exists, is non-empty and that every
// record carries content and metadata, with content holding the metadata,
// study and findings sections.
func ValidateBatchFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return goerr.Wrap(types.ErrNotFound, "batch file not found", goerr.V("path", path))
		}
		return goerr.Wrap(err, "failed to stat batch file", goerr.V("path", path))
	}
	if info.Size() == 0 {
		return goerr.Wrap(types.ErrMalformedOutput, "batch file is empty", goerr.V("path", path))
	}

	records, err := ReadBatchFile(path)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return goerr.Wrap(types.ErrMalformedOutput, "batch file has no records", goerr.V("path", path))
	}

	for i, r := range records {
		if r.Content == "" || r.Metadata.SourceFile == "" {
			return goerr.Wrap(types.ErrMalformedOutput, "record lacks content or metadata",
				goerr.V("path", path), goerr.V("record", i+1))
		}
		if _, err := parseSections(r.Content); err != nil {
			return goerr.Wrap(err, "record content is invalid",
				goerr.V("path", path), goerr.V("record", i+1))
		}
	}
	return nil
}

// Category returns the store category for a record
func (r Record) Category() string {
	if r.Metadata.SummaryType == "" {
		return types.CategoryComprehensive
	}
	return r.Metadata.SummaryType
}

// DiscoverBatchFiles returns the batch files directly under dir, sorted by
// name
func DiscoverBatchFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, goerr.Wrap(types.ErrInvalidParameter, "batch directory not accessible",
			goerr.V("dir", dir), goerr.V("error", err.Error()))
	}
	if !info.IsDir() {
		if strings.HasSuffix(dir, BatchFileSuffix) {
			return []string{dir}, nil
		}
		return nil, goerr.Wrap(types.ErrInvalidParameter, "not a batch file", goerr.V("path", dir))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*"+BatchFileSuffix))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list batch files", goerr.V("dir", dir))
	}
	// Glob returns lexical order
	return matches, nil
}

// batchNameUnescaper reverses batchNameEscaper
var batchNameUnescaper = strings.NewReplacer("%2F", "/", "%25", "%")

// SourceName returns the source name encoded in a batch file name
func SourceName(path string) string {
	return batchNameUnescaper.Replace(strings.TrimSuffix(filepath.Base(path), BatchFileSuffix))
}
