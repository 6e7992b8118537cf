// Package embedder turns text into fixed-width fingerprint vectors.
//
// Providers implement Embedder and return raw vectors: Gemini through gollem,
// Jina AI and OpenAI over HTTP, and a local term-hashing embedder that needs
// no network. Adapter wraps any provider and is what the rest of the module
// uses. It guarantees one unit-length vector of the configured dimension per
// input, in input order, and gates calls through a shared throttle.
//
//	emb, err := embedder.New(ctx, embedder.Config{Provider: "local", Dimension: 256})
//	if err != nil {
//	    return err
//	}
//	adapter := embedder.NewAdapter(emb, embedder.WithCache(embedder.NewCache(0)))
//	vectors, err := adapter.Embed(ctx, []string{"Groundwater levels fell."})
//
// # Errors
//
// Provider failures surface as types.ErrEmbeddingFailure. Responses with the
// wrong count or width also match types.ErrMalformedOutput. A vector with no
// magnitude fails with types.ErrZeroVector.
package embedder
