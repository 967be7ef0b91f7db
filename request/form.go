// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"net/url"
	"strings"
)

// FormContentType is the content type of an encoded Form body.
const FormContentType = "application/x-www-form-urlencoded"

// A Form holds ordered form fields for a request body.
//
// Scalar fields map one key to one value. Array fields map one key to
// a list of values and are encoded with the "key[]" convention, one
// pair per element. Both kinds of field keep the order in which their
// keys were first set; setting an existing key replaces its value but
// keeps its position.
//
// The zero value is an empty form ready to use. A Form is not safe for
// concurrent modification.
type Form struct {
	fields []field
	arrays []arrayField
}

type field struct {
	key, value string
}

type arrayField struct {
	key    string
	values []string
}

// Set sets the scalar field key to value. An empty key is ignored.
func (f *Form) Set(key, value string) {
	if key == "" {
		return
	}
	for i := range f.fields {
		if f.fields[i].key == key {
			f.fields[i].value = value
			return
		}
	}
	f.fields = append(f.fields, field{key, value})
}

// SetArray sets the array field key to values. An empty key, or a nil
// values list, is ignored.
func (f *Form) SetArray(key string, values ...string) {
	if key == "" || values == nil {
		return
	}
	vs := make([]string, len(values))
	copy(vs, values)
	for i := range f.arrays {
		if f.arrays[i].key == key {
			f.arrays[i].values = vs
			return
		}
	}
	f.arrays = append(f.arrays, arrayField{key, vs})
}

// Get returns the value of scalar field key, and whether it is set.
func (f *Form) Get(key string) (string, bool) {
	for _, fld := range f.fields {
		if fld.key == key {
			return fld.value, true
		}
	}
	return "", false
}

// Len returns the number of key/value pairs Encode would produce.
func (f *Form) Len() int {
	n := len(f.fields)
	for _, a := range f.arrays {
		n += len(a.values)
	}
	return n
}

// Encode returns the form encoded as application/x-www-form-urlencoded
// bytes, or nil if the form has no pairs.
//
// Scalar fields are emitted first, then array fields, each in
// insertion order, with pairs separated by '&'. Keys and values are
// percent-encoded as UTF-8, spaces becoming "%20". Array keys get a
// literal "[]" suffix, so {tags: [x y]} encodes as "tags[]=x&tags[]=y".
//
// Encoding cannot fail: bytes which are not valid UTF-8 are escaped
// individually, so every value round-trips through a decoder.
func (f *Form) Encode() []byte {
	if f == nil || f.Len() == 0 {
		return nil
	}
	var buf bytes.Buffer
	pair := func(key, value string) {
		if buf.Len() > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(key)
		buf.WriteByte('=')
		buf.WriteString(escape(value))
	}
	for _, fld := range f.fields {
		pair(escape(fld.key), fld.value)
	}
	for _, a := range f.arrays {
		k := escape(a.key) + "[]"
		for _, v := range a.values {
			pair(k, v)
		}
	}
	return buf.Bytes()
}

// Clone returns a deep copy of f.
func (f *Form) Clone() *Form {
	g := &Form{
		fields: make([]field, len(f.fields)),
		arrays: make([]arrayField, len(f.arrays)),
	}
	copy(g.fields, f.fields)
	for i, a := range f.arrays {
		g.arrays[i] = arrayField{key: a.key, values: append([]string(nil), a.values...)}
	}
	return g
}

// escape percent-encodes s. url.QueryEscape encodes a literal '+' as
// "%2B", so every '+' left in its output stands for a space.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
