// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package cli implements the reqflow command.
package cli

import (
	"github.com/gogama/reqflow/internal/logging"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	logLevel  string
	logFormat string
}

// NewRootCommand creates the root command with all subcommands.
func NewRootCommand() *cobra.Command {
	env := logging.FromEnv()
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "reqflow",
		Short: "reqflow - declarative HTTP request execution",
		Long: `reqflow executes the HTTP requests declared in a YAML manifest,
retrying failed attempts and decoding the responses, and prints one
JSON line per request.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", env.Level, "Log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", string(env.Format), "Log format: json or text")

	cmd.AddCommand(newRunCommand(g))
	cmd.AddCommand(newValidateCommand())
	return cmd
}

func (g *globalFlags) logConfig(cmd *cobra.Command) logging.Config {
	cfg := logging.FromEnv()
	cfg.Level = g.logLevel
	cfg.Format = logging.Format(g.logFormat)
	cfg.Output = cmd.ErrOrStderr()
	return cfg
}
