package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"pagetagger/internal/storage/fs"
	"pagetagger/internal/workspace"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the annotation table as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
				if output == "" || output == "-" {
					return ws.Annotations.WriteCSV(cmd.OutOrStdout())
				}
				var buf bytes.Buffer
				if err := ws.Annotations.WriteCSV(&buf); err != nil {
					return err
				}
				if err := fs.WriteFileAtomic(output, buf.Bytes(), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d annotations to %s\n", len(ws.Annotations.Rows()), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}
