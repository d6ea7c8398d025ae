package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/guideline"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed the corpus into the configured vector store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, ctx, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(ctx); cerr != nil && err == nil {
					err = cerr
				}
			}()

			if cfg.Index.Backend == "memory" {
				calque.LogWarn(ctx, "memory index is not persisted; use pgvector or qdrant to reuse it across restarts")
			}

			records, err := guideline.Load(cfg.Corpus.Records)
			if err != nil {
				return err
			}
			embedder, err := a.embedder()
			if err != nil {
				return err
			}
			store, err := a.vectorStore(ctx)
			if err != nil {
				return err
			}
			ix, err := a.index(ctx, records, embedder, store, !force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d records (dimension %d) in %s\n", ix.Len(), ix.Dimension(), cfg.Index.Backend)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-embed even when the store already matches the corpus")
	return cmd
}
