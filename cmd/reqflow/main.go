// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command reqflow executes the HTTP requests declared in a YAML
// manifest.
package main

import (
	"fmt"
	"os"

	"github.com/gogama/reqflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "reqflow:", err)
		os.Exit(1)
	}
}
