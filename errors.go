package cachecompress

import "errors"

var (
	// ErrUnsupportedDriver is returned when no store factory is registered for a driver.
	ErrUnsupportedDriver = errors.New("cachecompress: unsupported driver")
	// ErrNilStore is returned when a nil store is registered or wrapped.
	ErrNilStore = errors.New("cachecompress: nil store")
	// ErrRememberCallback is returned when Remember is called without a callback.
	ErrRememberCallback = errors.New("cachecompress: remember requires a callback")
	// ErrUnknownStore is returned by Manager for names that were never registered.
	ErrUnknownStore = errors.New("cachecompress: unknown store")
)
