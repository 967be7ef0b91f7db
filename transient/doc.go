// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package transient sorts low-level transport errors into categories
// telling whether another attempt may succeed. Package request maps the
// categories onto its error kinds.
package transient
