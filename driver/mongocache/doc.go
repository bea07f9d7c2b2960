// Package mongocache provides a MongoDB-backed store for cachecompress.
//
// Importing the package registers the mongodb driver, so stores built through
// cachecompress.NewStore and repositories wrapping New get the base64
// envelope that keeps compressed values valid UTF-8:
//
//	import (
//		"github.com/goforj/cachecompress"
//		"github.com/goforj/cachecompress/driver/mongocache"
//	)
//
//	store := mongocache.New(mongocache.Config{Collection: client.Database("app").Collection("cache")})
//	repo := cachecompress.NewRepository(store)
package mongocache
