// Package cachecompress is a cache repository that transparently compresses
// values before they reach a key/value store.
//
// Values are serialized with a Codec (JSON by default), raw-deflated when
// compression is enabled and, for drivers that need text-safe values such as
// mongodb, wrapped in base64. Reads run the pipeline in reverse and fall back
// through every other combination, so data written under one setting stays
// readable after the setting changes. Bytes nothing can decode are returned
// unchanged.
//
//	store := cachecompress.NewMemoryStore(ctx)
//	repo := cachecompress.NewRepository(store)
//	_, _ = repo.Put(ctx, "user:1", user, time.Hour)
//
//	// one call, uncompressed
//	_, _ = repo.Put(cachecompress.WithCompressionDisabled(ctx), "k", v, 0)
package cachecompress
