package cachecompress

import (
	"encoding/base64"
	"sync"

	"github.com/goforj/cachecompress/cachecore"
)

// Envelope makes encoded bytes safe for a backend that cannot hold arbitrary binary.
type Envelope interface {
	Wrap(data []byte) []byte
	// Unwrap reverses Wrap. ok is false when data was not produced by Wrap.
	Unwrap(data []byte) (out []byte, ok bool)
}

type identityEnvelope struct{}

func (identityEnvelope) Wrap(data []byte) []byte { return data }

func (identityEnvelope) Unwrap(data []byte) ([]byte, bool) { return data, true }

// Base64Envelope stores bytes as standard base64 text, which is always valid UTF-8.
type Base64Envelope struct{}

func (Base64Envelope) Wrap(data []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(out, data)
	return out
}

func (Base64Envelope) Unwrap(data []byte) ([]byte, bool) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(out, data)
	if err != nil {
		return data, false
	}
	return out[:n], true
}

var (
	envelopesMu sync.RWMutex
	envelopes   = map[cachecore.Driver]Envelope{
		cachecore.DriverMongo: Base64Envelope{},
	}
)

// RegisterEnvelope sets the envelope used for driver. A nil envelope restores identity.
func RegisterEnvelope(driver cachecore.Driver, env Envelope) {
	envelopesMu.Lock()
	defer envelopesMu.Unlock()
	if env == nil {
		delete(envelopes, driver)
		return
	}
	envelopes[driver] = env
}

// EnvelopeFor returns the envelope registered for driver, identity when none is.
func EnvelopeFor(driver cachecore.Driver) Envelope {
	envelopesMu.RLock()
	env, ok := envelopes[driver]
	envelopesMu.RUnlock()
	if !ok {
		return identityEnvelope{}
	}
	return env
}
