package main

import (
	"github.com/spf13/cobra"

	"github.com/calque-ai/guidebot/pkg/config"
	"github.com/calque-ai/guidebot/pkg/middleware/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var (
		backend string
		budget  int
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve ask_guideline and search_guideline as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			// stdout carries the protocol
			a, ctx, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(ctx); cerr != nil && err == nil {
					err = cerr
				}
			}()

			s, err := a.buildStack(ctx)
			if err != nil {
				return err
			}
			bot, err := s.bot(backend)
			if err != nil {
				return err
			}

			server := mcp.NewServer(bot, s.retriever,
				mcp.WithImplementation("guidebot", version),
				mcp.WithContextBudget(budget))
			return mcp.ServeStdio(ctx, server)
		},
	}
	cmd.Flags().StringVarP(&backend, "backend", "b", config.BackendPrimary, "backend answering ask_guideline")
	cmd.Flags().IntVar(&budget, "context-tokens", 0, "approximate token cap for search_guideline output; 0 is unlimited")
	return cmd
}
