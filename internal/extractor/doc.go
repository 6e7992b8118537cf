// Package extractor produces structured JSON summaries of papers with an
// LLM and reads and writes the JSON Lines batch files that hold them.
package extractor
