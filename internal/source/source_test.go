package source

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/paperdex/pkg/types"
)

// mockRunner is a test double for CommandRunner
type mockRunner struct {
	output []byte
	err    error
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.args = append([]string{name}, args...)
	return m.output, m.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"), "b")
	writeFile(t, filepath.Join(root, "a.PDF"), "a")
	writeFile(t, filepath.Join(root, "sub", "c.md"), "c")
	writeFile(t, filepath.Join(root, "skip.docx"), "x")
	writeFile(t, filepath.Join(root, ".hidden", "d.txt"), "d")
	writeFile(t, filepath.Join(root, ".e.txt"), "e")

	sources, err := Discover(root, Options{})
	require.NoError(t, err)

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"a.PDF", "b.txt", "sub/c.md"}, names)
	assert.Equal(t, ".pdf", sources[0].Ext)
	assert.Equal(t, int64(1), sources[1].Size)
}

func TestDiscover_Extensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "b.pdf"), "b")

	sources, err := Discover(root, Options{Extensions: []string{"pdf"}})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "b.pdf", sources[0].Name)
}

func TestDiscover_SingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.txt")
	writeFile(t, path, "text")

	sources, err := Discover(path, Options{})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "paper.txt", sources[0].Name)

	_, err = Discover(path, Options{Extensions: []string{".pdf"}})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestDiscover_Missing(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "nope"), Options{})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestPlainReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "Hello.\xff World.")

	text, err := PlainReader{}.Read(context.Background(), Source{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "Hello.� World.", text)
}

func TestPDFReader(t *testing.T) {
	runner := &mockRunner{output: []byte("Page one.\fPage two.")}
	r := NewPDFReaderWithRunner(runner)

	text, err := r.Read(context.Background(), Source{Path: "/docs/a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "Page one.\nPage two.", text)
	assert.Equal(t, []string{"pdftotext", "-layout", "-enc", "UTF-8", "/docs/a.pdf", "-"}, runner.args)
}

func TestPDFReader_ToolMissing(t *testing.T) {
	r := NewPDFReaderWithRunner(&mockRunner{err: exec.ErrNotFound})

	_, err := r.Read(context.Background(), Source{Path: "a.pdf"})
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.ErrorIs(t, err, ErrPDFToolNotFound)
}

func TestPDFReader_OtherError(t *testing.T) {
	boom := errors.New("boom")
	r := NewPDFReaderWithRunner(&mockRunner{err: boom})

	_, err := r.Read(context.Background(), Source{Path: "a.pdf"})
	assert.ErrorIs(t, err, boom)
}

func TestMultiReader(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "a.md")
	writeFile(t, txt, "# Title")

	m := NewMultiReader(NewPDFReaderWithRunner(&mockRunner{output: []byte("pdf text")}))
	ctx := context.Background()

	text, err := m.Read(ctx, Source{Path: txt, Ext: ".md"})
	require.NoError(t, err)
	assert.Equal(t, "# Title", text)

	text, err = m.Read(ctx, Source{Path: "x.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "pdf text", text)

	_, err = m.Read(ctx, Source{Path: "x.docx"})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = NewMultiReader(nil).Read(ctx, Source{Path: "x.pdf"})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}
