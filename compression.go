package cachecompress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/klauspost/compress/flate"

	"github.com/goforj/cachecompress/cachecore"
)

// DefaultMaxInflatedBytes caps how much a single stored value may inflate to.
const DefaultMaxInflatedBytes int64 = 64 << 20

// ErrInflateLimit is returned when a compressed payload inflates past the configured cap.
var ErrInflateLimit = errors.New("cachecompress: inflated value exceeds limit")

// DecodeOutcome tags the result of one decode attempt.
type DecodeOutcome uint8

const (
	// DecodeOK means the attempt produced a value.
	DecodeOK DecodeOutcome = iota
	// DecodeNext means the attempt failed and the next one should run.
	DecodeNext
	// DecodeExhausted means no attempt could read the bytes.
	DecodeExhausted
)

func (o DecodeOutcome) String() string {
	switch o {
	case DecodeOK:
		return "ok"
	case DecodeNext:
		return "next"
	default:
		return "exhausted"
	}
}

// Decode stages, in the order they can run.
const (
	StageInflate         = "inflate"
	StagePlain           = "plain"
	StageInflateFallback = "inflate_fallback"
	StageOriginal        = "original"
	StageRaw             = "raw"
)

// DecodeResult reports which stage produced the value.
type DecodeResult struct {
	Outcome DecodeOutcome
	Stage   string
	// Err is the last attempt's error when Outcome is DecodeExhausted.
	Err error
}

// Compressor turns values into stored bytes and back.
// Encoding is serialize, optionally raw deflate, then the envelope.
type Compressor struct {
	codec       Codec
	envelope    Envelope
	maxInflated int64
	writers     [cachecore.MaxLevel + 1]sync.Pool
}

// NewCompressor builds a compressor. Nil arguments fall back to JSONCodec, the
// identity envelope and DefaultMaxInflatedBytes.
func NewCompressor(codec Codec, env Envelope, maxInflated int64) *Compressor {
	if codec == nil {
		codec = JSONCodec{}
	}
	if env == nil {
		env = identityEnvelope{}
	}
	if maxInflated <= 0 {
		maxInflated = DefaultMaxInflatedBytes
	}
	return &Compressor{codec: codec, envelope: env, maxInflated: maxInflated}
}

// Codec returns the serialization codec.
func (c *Compressor) Codec() Codec { return c.codec }

// Encode serializes value and applies compression according to s.
func (c *Compressor) Encode(value any, s cachecore.Settings) ([]byte, error) {
	raw, err := c.codec.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%s marshal: %w", c.codec.Name(), err)
	}
	if s.Enabled {
		raw, err = c.deflate(raw, s.Level)
		if err != nil {
			return nil, err
		}
	}
	// The envelope applies with compression off too: mongodb stores values in a
	// text field, so plain serialized bytes are wrapped as well. Decode accepts
	// unwrapped bytes, so values written either way stay readable.
	return c.envelope.Wrap(raw), nil
}

// Decode reads data into dst, which must be a non-nil pointer. It never fails on
// bytes written under different settings: each attempt either fills dst or hands
// over to the next, and the result names the stage that succeeded.
func (c *Compressor) Decode(data []byte, s cachecore.Settings, dst any) DecodeResult {
	unwrapped, ok := c.envelope.Unwrap(data)
	_, identity := c.envelope.(identityEnvelope)
	wrapped := ok && !identity

	attempts := make([]decodeAttempt, 0, 4)
	if s.Enabled {
		attempts = append(attempts, decodeAttempt{StageInflate, func() error { return c.inflateInto(unwrapped, dst) }})
	}
	attempts = append(attempts, decodeAttempt{StagePlain, func() error { return c.unmarshal(unwrapped, dst) }})
	if !s.Enabled {
		attempts = append(attempts, decodeAttempt{StageInflateFallback, func() error { return c.inflateInto(unwrapped, dst) }})
	}
	if wrapped {
		attempts = append(attempts, decodeAttempt{StageOriginal, func() error { return c.unmarshal(data, dst) }})
	}

	var last error
	for _, attempt := range attempts {
		outcome, err := attempt.run()
		if outcome == DecodeOK {
			return DecodeResult{Outcome: DecodeOK, Stage: attempt.stage}
		}
		last = err
	}
	return DecodeResult{Outcome: DecodeExhausted, Stage: StageRaw, Err: last}
}

type decodeAttempt struct {
	stage string
	fn    func() error
}

func (a decodeAttempt) run() (DecodeOutcome, error) {
	if err := a.fn(); err != nil {
		return DecodeNext, err
	}
	return DecodeOK, nil
}

func (c *Compressor) inflateInto(data []byte, dst any) error {
	raw, err := c.inflate(data)
	if err != nil {
		return err
	}
	return c.unmarshal(raw, dst)
}

func (c *Compressor) unmarshal(data []byte, dst any) error {
	resetTarget(dst)
	return c.codec.Unmarshal(data, dst)
}

func (c *Compressor) deflate(raw []byte, level int) ([]byte, error) {
	level = cachecore.ClampLevel(level)
	var buf bytes.Buffer
	buf.Grow(len(raw)/2 + 16)

	w, _ := c.writers[level].Get().(*flate.Writer)
	if w == nil {
		var err error
		w, err = flate.NewWriter(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("deflate level %d: %w", level, err)
		}
	} else {
		w.Reset(&buf)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	c.writers[level].Put(w)
	return buf.Bytes(), nil
}

func (c *Compressor) inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, c.maxInflated+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > c.maxInflated {
		return nil, ErrInflateLimit
	}
	return out, nil
}

// resetTarget zeroes *dst so a failed attempt cannot leak partial state into the next.
func resetTarget(dst any) {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	elem := rv.Elem()
	if elem.CanSet() {
		elem.Set(reflect.Zero(elem.Type()))
	}
}
