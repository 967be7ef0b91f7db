// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cli

import (
	"context"
	"fmt"

	"github.com/gogama/reqflow/internal/manifest"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest.yaml>",
		Short: "Check a manifest without sending any request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			ds, err := m.Descriptors(context.Background())
			if err != nil {
				return err
			}
			invalid := 0
			for i, d := range ds {
				if err := d.Plan().Err(); err != nil {
					invalid++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", m.Requests[i].Name, err)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d requests are invalid", invalid, len(ds))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d requests\n", len(ds))
			return nil
		},
	}
}
