// Package cachetest provides reusable store contract tests for cachecore.Store implementations.
//
// Driver packages can use it from their own tests without importing root test helpers.
//
// Example pattern (driver package test):
//
//	func TestMongoStoreContract(t *testing.T) {
//		store := mongocache.New(mongocache.Config{Collection: coll})
//
//		// Namespace keys per test and tune TTL waits for backend semantics as needed.
//		cachetest.RunStoreContract(t, store, cachetest.Options{
//			CaseName: t.Name(),
//			TTL:      time.Second,
//			TTLWait:  1500 * time.Millisecond,
//		})
//	}
package cachetest
