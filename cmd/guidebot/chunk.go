package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calque-ai/guidebot/pkg/guideline"
)

func newChunkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chunk <handbook.txt> <records.json>",
		Short: "Split a plain-text handbook into chapter and article records",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading handbook: %w", err)
			}
			records := guideline.Parse(string(text))
			data, err := guideline.Encode(records)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return fmt.Errorf("writing records: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", len(records), args[1])
			return nil
		},
	}
}
