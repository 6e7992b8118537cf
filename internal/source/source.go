// Package source finds input documents on disk and turns them into text.
package source

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

// DefaultExtensions are the file types discovered when none are configured
var DefaultExtensions = []string{".txt", ".md", ".pdf"}

// Source is one input document
type Source struct {
	Name string // Path relative to the discovery root, slash separated
	Path string // Path on disk
	Ext  string // Lower-cased extension including the dot
	Size int64
}

// Options controls Discover
type Options struct {
	// Extensions to include, e.g. ".pdf". Empty means DefaultExtensions.
	Extensions []string
}

// Discover walks root and returns every matching file sorted by name.
// Hidden files and directories are skipped. A root that is a single file
// yields just that file.
func Discover(root string, opts Options) ([]Source, error) {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		want[e] = true
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, goerr.Wrap(types.ErrInvalidParameter, "cannot read source path",
			goerr.V("path", root), goerr.V("cause", err.Error()))
	}
	if !info.IsDir() {
		ext := strings.ToLower(filepath.Ext(root))
		if !want[ext] {
			return nil, goerr.Wrap(types.ErrInvalidParameter, "unsupported file type",
				goerr.V("path", root), goerr.V("ext", ext))
		}
		return []Source{{Name: filepath.Base(root), Path: root, Ext: ext, Size: info.Size()}}, nil
	}

	var sources []Source
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(name))
		if !want[ext] {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		sources = append(sources, Source{
			Name: filepath.ToSlash(rel),
			Path: path,
			Ext:  ext,
			Size: fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to walk source directory", goerr.V("root", root))
	}

	slices.SortFunc(sources, func(a, b Source) int { return strings.Compare(a.Name, b.Name) })
	return sources, nil
}

// Reader extracts plain text from a source
type Reader interface {
	Read(ctx context.Context, src Source) (string, error)
}

// PlainReader reads text and markdown files as they are
type PlainReader struct{}

func (PlainReader) Read(ctx context.Context, src Source) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read source", goerr.V("path", src.Path))
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// MultiReader picks a reader by file extension
type MultiReader struct {
	readers map[string]Reader
}

// NewMultiReader returns a reader for .txt, .md and .pdf sources. The pdf
// reader may be nil, in which case PDFs are rejected.
func NewMultiReader(pdf Reader) *MultiReader {
	m := &MultiReader{readers: map[string]Reader{
		".txt": PlainReader{},
		".md":  PlainReader{},
	}}
	if pdf != nil {
		m.readers[".pdf"] = pdf
	}
	return m
}

// Register adds or replaces the reader for ext
func (m *MultiReader) Register(ext string, r Reader) {
	m.readers[strings.ToLower(ext)] = r
}

func (m *MultiReader) Read(ctx context.Context, src Source) (string, error) {
	ext := src.Ext
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(src.Path))
	}
	r, ok := m.readers[ext]
	if !ok {
		return "", goerr.Wrap(types.ErrInvalidParameter, "no reader for file type",
			goerr.V("path", src.Path), goerr.V("ext", ext))
	}
	return r.Read(ctx, src)
}
