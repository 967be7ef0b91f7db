// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"encoding/json"

	"github.com/itchyny/gojq"
	"github.com/pkg/errors"
)

// A Decoder turns a response body into zero or more elements of type T.
//
// The engine calls Decode once for every successful round trip. A
// decode error ends the execution; it is never retried, because a
// malformed body does not become well-formed on retry.
//
// Implementations must be safe for concurrent use by multiple
// goroutines if the same Decoder is shared between descriptors.
type Decoder[T any] interface {
	Decode(body []byte) ([]T, error)
}

// The DecoderFunc type is an adapter to allow the use of ordinary
// functions as decoders.
type DecoderFunc[T any] func(body []byte) ([]T, error)

// Decode calls f(body).
func (f DecoderFunc[T]) Decode(body []byte) ([]T, error) {
	return f(body)
}

// JSON returns a decoder which unmarshals a JSON body into T. If the
// body is a JSON array, each element becomes one T; otherwise the whole
// body becomes a single T. An empty body, or a literal null, decodes to
// no elements.
func JSON[T any]() Decoder[T] {
	return DecoderFunc[T](decodeJSON[T])
}

var jsonNull = []byte("null")

func decodeJSON[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var ts []T
		if err := json.Unmarshal(trimmed, &ts); err != nil {
			return nil, errors.Wrap(err, "decoding JSON array")
		}
		return ts, nil
	}
	var t T
	if err := json.Unmarshal(trimmed, &t); err != nil {
		return nil, errors.Wrap(err, "decoding JSON value")
	}
	return []T{t}, nil
}

// JQ returns a decoder which runs the jq query over the JSON body and
// converts every value the query emits into a T. It is useful to pick
// records out of an envelope, for example ".data.items[]".
//
// As with JSON, an empty body or a literal null yields no elements
// without running the query. JQ returns an error if the query does not
// parse.
func JQ[T any](query string) (Decoder[T], error) {
	q, err := gojq.Parse(query)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing jq query %q", query)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling jq query %q", query)
	}
	return DecoderFunc[T](func(body []byte) ([]T, error) {
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull) {
			return nil, nil
		}
		var input interface{}
		if err := json.Unmarshal(trimmed, &input); err != nil {
			return nil, errors.Wrap(err, "decoding JSON for jq")
		}
		var ts []T
		iter := code.Run(input)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, ok := v.(error); ok {
				if err, ok := err.(*gojq.HaltError); ok && err.Value() == nil {
					break
				}
				return nil, errors.Wrapf(err, "running jq query %q", query)
			}
			t, err := convert[T](v)
			if err != nil {
				return nil, err
			}
			ts = append(ts, t)
		}
		return ts, nil
	}), nil
}

// convert turns a generic JSON value into T, directly if it already is
// a T and by a JSON round trip otherwise.
func convert[T any](v interface{}) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var t T
	b, err := json.Marshal(v)
	if err != nil {
		return t, errors.Wrap(err, "re-encoding jq result")
	}
	if err := json.Unmarshal(b, &t); err != nil {
		return t, errors.Wrap(err, "decoding jq result")
	}
	return t, nil
}
