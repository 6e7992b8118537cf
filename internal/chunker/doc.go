// Package chunker divides document text into bounded-size chunks for embedding.
//
// Text is scanned character by character and split into sentences at '.',
// '!', '?' and newlines. Every trimmed, non-empty sentence becomes one chunk;
// a sentence longer than the maximum size is cut into fixed-width slices.
//
// # Basic Usage
//
//	seq, err := chunker.Segment(text, 1000, 0)
//	if err != nil {
//	    return err // types.ErrInvalidParameter
//	}
//	for chunk := range seq {
//	    fmt.Println(chunk)
//	}
//
// # Overlap
//
// The overlap parameter applies when an oversized sentence is sliced: each
// slice starts maxSize-overlap characters after the previous one, so adjacent
// slices share overlap characters. Sentences that fit are never overlapped.
// With overlap 0 the slices are disjoint and concatenating all chunks
// reproduces the sentences in order.
//
// Lengths are counted in characters (runes), not bytes.
package chunker
