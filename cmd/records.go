/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mautops/record-gin/internal/container"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/spf13/cobra"
)

// recordsCmd represents the records command
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Record maintenance commands",
}

var recordsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the records of a template as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		templateID, _ := cmd.Flags().GetString("template")
		if templateID == "" {
			return fmt.Errorf("--template is required")
		}
		out, _ := cmd.Flags().GetString("out")

		return withContainer(cmd, func(ctx context.Context, ctr *container.Container, actor *types.Actor) error {
			var w io.Writer = os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			n, err := ctr.RecordService().Export(ctx, actor, templateID, w)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "exported %d records\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsExportCmd)

	recordsCmd.PersistentFlags().String("user", "cli", "Acting user id")
	recordsCmd.PersistentFlags().String("org", "", "Organization id")
	recordsCmd.PersistentFlags().StringSlice("roles", []string{"admin"}, "Acting user roles")

	recordsExportCmd.Flags().String("template", "", "Template id")
	recordsExportCmd.Flags().String("out", "", "Output file (default: stdout)")
}
