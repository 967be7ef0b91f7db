// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package manifest loads declarative descriptor manifests written in
// YAML, for example:
//
//	defaults:
//	  timeout: 2s
//	  max_retries: 3
//	requests:
//	  - name: widgets
//	    method: POST
//	    url: https://api.example.com/widgets
//	    secure: true
//	    header:
//	      Accept: application/json
//	    form:
//	      owner: alice
//	      tags: [red, blue]
//	    decode: jq
//	    query: .data.items[]
//
// Form fields keep their order. A scalar value becomes a form field and
// a sequence becomes an array field.
package manifest

import (
	"bytes"
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gogama/reqflow/request"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Decoding modes.
const (
	DecodeJSON = "json"
	DecodeJQ   = "jq"
	DecodeNone = "none"
)

// A Manifest is a list of requests plus the defaults they share.
type Manifest struct {
	Defaults Defaults  `yaml:"defaults"`
	Requests []Request `yaml:"requests"`
}

// Defaults apply to every request which does not override them.
type Defaults struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries *int          `yaml:"max_retries"`
	Header     Header        `yaml:"header"`
}

// A Request declares one descriptor.
type Request struct {
	Name       string        `yaml:"name"`
	Method     string        `yaml:"method"`
	URL        string        `yaml:"url"`
	Header     Header        `yaml:"header"`
	Form       Form          `yaml:"form"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries *int          `yaml:"max_retries"`
	Secure     bool          `yaml:"secure"`
	ForceCache bool          `yaml:"force_cache"`
	// Decode is json (the default), jq or none.
	Decode string `yaml:"decode"`
	// Query is the jq query used when Decode is jq.
	Query string `yaml:"query"`
}

// Header holds request header fields.
type Header map[string]string

// A Form is an ordered list of form fields.
type Form []Field

// A Field is a form field. Exactly one of Value and Values is used,
// depending on Array.
type Field struct {
	Key    string
	Value  string
	Values []string
	Array  bool
}

// UnmarshalYAML decodes a mapping into an ordered form.
func (f *Form) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: form must be a mapping", node.Line)
	}
	fields := make(Form, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		fld := Field{Key: k.Value}
		switch v.Kind {
		case yaml.ScalarNode:
			fld.Value = v.Value
		case yaml.SequenceNode:
			fld.Array = true
			if err := v.Decode(&fld.Values); err != nil {
				return errors.Wrapf(err, "line %d: form field %q", v.Line, k.Value)
			}
		default:
			return errors.Errorf("line %d: form field %q must be a scalar or a sequence", v.Line, k.Value)
		}
		fields = append(fields, fld)
	}
	*f = fields
	return nil
}

// Parse parses a manifest. Unknown keys are errors.
func Parse(b []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "parsing manifest")
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses the manifest file at path.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading manifest")
	}
	m, err := Parse(b)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return m, nil
}

func (m *Manifest) validate() error {
	if len(m.Requests) == 0 {
		return errors.New("manifest has no requests")
	}
	seen := make(map[string]bool, len(m.Requests))
	for i := range m.Requests {
		r := &m.Requests[i]
		if r.Name == "" {
			r.Name = strconv.Itoa(i)
		}
		if seen[r.Name] {
			return errors.Errorf("duplicate request name %q", r.Name)
		}
		seen[r.Name] = true
		if r.URL == "" {
			return errors.Errorf("request %q: missing url", r.Name)
		}
		switch r.Decode {
		case "", DecodeJSON, DecodeNone:
		case DecodeJQ:
			if r.Query == "" {
				return errors.Errorf("request %q: jq decoding needs a query", r.Name)
			}
		default:
			return errors.Errorf("request %q: unknown decode mode %q", r.Name, r.Decode)
		}
	}
	return nil
}

// Descriptors builds one descriptor per request, in manifest order,
// using ctx as every descriptor's context. Responses decode to generic
// JSON values.
//
// Invalid methods and URLs are not reported here; they fail the
// descriptor when it is executed.
func (m *Manifest) Descriptors(ctx context.Context) ([]*request.Descriptor[any], error) {
	ds := make([]*request.Descriptor[any], 0, len(m.Requests))
	for i := range m.Requests {
		d, err := m.descriptor(ctx, &m.Requests[i])
		if err != nil {
			return nil, errors.Wrapf(err, "request %q", m.Requests[i].Name)
		}
		ds = append(ds, d)
	}
	return ds, nil
}

func (m *Manifest) descriptor(ctx context.Context, r *Request) (*request.Descriptor[any], error) {
	d := request.NewWithContext[any](ctx, request.Method(r.Method), r.URL)
	p := d.Plan()
	if t := firstPositive(r.Timeout, m.Defaults.Timeout); t > 0 {
		p.Timeout = t
	}
	if r.MaxRetries != nil {
		p.MaxRetries = *r.MaxRetries
	} else if m.Defaults.MaxRetries != nil {
		p.MaxRetries = *m.Defaults.MaxRetries
	}
	p.Secure = r.Secure
	p.ForceCache = r.ForceCache
	for _, h := range []Header{m.Defaults.Header, r.Header} {
		for k, v := range h {
			if err := p.SetHeader(k, v); err != nil {
				return nil, err
			}
		}
	}
	for _, fld := range r.Form {
		if fld.Array {
			p.PutFormArray(fld.Key, fld.Values...)
		} else {
			p.PutForm(fld.Key, fld.Value)
		}
	}
	switch r.Decode {
	case "", DecodeJSON:
		_ = d.SetDecoder(request.JSON[any]())
	case DecodeJQ:
		dec, err := request.JQ[any](r.Query)
		if err != nil {
			return nil, err
		}
		_ = d.SetDecoder(dec)
	}
	return d, nil
}

func firstPositive(ds ...time.Duration) time.Duration {
	for _, d := range ds {
		if d > 0 {
			return d
		}
	}
	return 0
}
