// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package timeout defines policies setting the per-attempt timeout of
// a descriptor execution, including on retries.
package timeout
