package cachecompress

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrTrailingBytes reports serialized input followed by data the codec did not consume.
var ErrTrailingBytes = errors.New("cachecompress: trailing bytes after serialized value")

// Codec turns values into bytes and back. Unmarshal must fail when data holds
// anything other than exactly one serialized value.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default codec. Untyped reads (into any, map[string]any or
// []any) return JSON shapes with exact integers: whole numbers come back as
// int64 (uint64 above math.MaxInt64), other numbers as float64, objects as
// map[string]any and arrays as []any. []byte is written as a base64 string and
// reads back untyped as that string; use GetAs[[]byte] or MsgpackCodec for
// binary values.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes exactly one JSON value and rejects anything after it.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return ErrTrailingBytes
	}
	switch dst := v.(type) {
	case *any:
		*dst = normalizeJSON(*dst)
	case *map[string]any:
		for k, item := range *dst {
			(*dst)[k] = normalizeJSON(item)
		}
	case *[]any:
		for i, item := range *dst {
			(*dst)[i] = normalizeJSON(item)
		}
	}
	return nil
}

// normalizeJSON replaces json.Number with int64, uint64 or float64.
func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if n, err := strconv.ParseUint(string(x), 10, 64); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, item := range x {
			x[k] = normalizeJSON(item)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = normalizeJSON(item)
		}
		return x
	default:
		return v
	}
}

// MsgpackCodec keeps integer and binary fidelity when decoding into any.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if r.Len() != 0 {
		return ErrTrailingBytes
	}
	return nil
}

// CBORCodec decodes maps into map[string]any so values look like the other codecs.
type CBORCodec struct{}

var cborDecMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Marshal(v any) ([]byte, error) { return cbor.Marshal(v) }

// Unmarshal rejects extraneous data after the first CBOR item.
func (CBORCodec) Unmarshal(data []byte, v any) error { return cborDecMode.Unmarshal(data, v) }

var (
	_ Codec = JSONCodec{}
	_ Codec = MsgpackCodec{}
	_ Codec = CBORCodec{}
)
