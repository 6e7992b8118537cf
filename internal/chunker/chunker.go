package chunker

import (
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

const (
	// DefaultMaxSize is the default maximum chunk length in characters
	DefaultMaxSize = 1000

	// DefaultOverlap is the default overlap between slices of an oversized sentence
	DefaultOverlap = 0
)

// Chunker splits text into bounded-size chunks at sentence boundaries
type Chunker struct {
	maxSize int
	overlap int
}

// New creates a Chunker after validating its parameters
func New(maxSize, overlap int) (*Chunker, error) {
	if err := validate(maxSize, overlap); err != nil {
		return nil, err
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// MaxSize returns the maximum chunk length in characters
func (c *Chunker) MaxSize() int {
	return c.maxSize
}

// Overlap returns the slice overlap in characters
func (c *Chunker) Overlap() int {
	return c.overlap
}

// Segment returns the lazy chunk sequence for text
func (c *Chunker) Segment(text string) iter.Seq[string] {
	return segments(text, c.maxSize, c.overlap)
}

// Chunks materializes every chunk of text
func (c *Chunker) Chunks(text string) []string {
	chunks := make([]string, 0)
	for chunk := range c.Segment(text) {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Count returns the number of chunks text produces
func (c *Chunker) Count(text string) int {
	n := 0
	for range c.Segment(text) {
		n++
	}
	return n
}

// Segment splits text into chunks of at most maxSize characters.
//
// Parameters are validated before any sequence is returned, so an invalid
// maxSize or overlap fails even for empty text. The returned sequence is a
// pure function of its input and may be ranged over any number of times.
func Segment(text string, maxSize, overlap int) (iter.Seq[string], error) {
	if err := validate(maxSize, overlap); err != nil {
		return nil, err
	}
	return segments(text, maxSize, overlap), nil
}

func validate(maxSize, overlap int) error {
	if maxSize <= 0 {
		return goerr.Wrap(types.ErrInvalidParameter, "max chunk size must be positive",
			goerr.V("max_size", maxSize))
	}
	if overlap < 0 {
		return goerr.Wrap(types.ErrInvalidParameter, "overlap must be non-negative",
			goerr.V("overlap", overlap))
	}
	if overlap >= maxSize {
		return goerr.Wrap(types.ErrInvalidParameter, "overlap must be less than max chunk size",
			goerr.V("overlap", overlap), goerr.V("max_size", maxSize))
	}
	return nil
}

func segments(text string, maxSize, overlap int) iter.Seq[string] {
	return func(yield func(string) bool) {
		for sentence := range sentences(text) {
			if utf8.RuneCountInString(sentence) <= maxSize {
				if !yield(sentence) {
					return
				}
				continue
			}
			if !sliceSentence(sentence, maxSize, overlap, yield) {
				return
			}
		}
	}
}

// isTerminator reports whether r closes a sentence
func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}

// sentences yields trimmed, non-empty sentences in input order.
// The terminator stays with the sentence it closes.
func sentences(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := 0
		for i, r := range text {
			if !isTerminator(r) {
				continue
			}
			end := i + utf8.RuneLen(r)
			if s := strings.TrimSpace(text[start:end]); s != "" {
				if !yield(s) {
					return
				}
			}
			start = end
		}
		if s := strings.TrimSpace(text[start:]); s != "" {
			yield(s)
		}
	}
}

// sliceSentence cuts an oversized sentence into windows of maxSize runes,
// each starting maxSize-overlap runes after the previous one. The last
// window ends at the end of the sentence.
func sliceSentence(sentence string, maxSize, overlap int, yield func(string) bool) bool {
	runes := []rune(sentence)
	step := maxSize - overlap

	for start := 0; start < len(runes); start += step {
		end := min(start+maxSize, len(runes))
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			if !yield(s) {
				return false
			}
		}
		if end == len(runes) {
			break
		}
	}
	return true
}
