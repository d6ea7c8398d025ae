package main

import (
	"github.com/spf13/cobra"

	"github.com/calque-ai/guidebot/pkg/middleware/observability"
	"github.com/calque-ai/guidebot/pkg/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat routes, /healthz and /metrics",
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

			s, err := a.buildStack(ctx)
			if err != nil {
				return err
			}

			srvOpts := []server.Option{
				server.WithLogger(a.log, a.slog),
				server.WithInstrumentation(a.inst),
				server.WithHealthChecks(
					observability.CheckFunc("vector_store", s.store.Health),
					observability.CheckFunc("sessions", s.sessions.Health),
				),
			}
			if a.prom != nil {
				srvOpts = append(srvOpts, server.WithMetricsHandler(a.prom.Handler()))
			}
			for _, b := range s.bots {
				if route := s.routes[b.Name()]; route != "" {
					srvOpts = append(srvOpts, server.WithRoute(route, server.BotAsker(b)))
				}
			}

			srv := server.New(server.Config{
				Addr:            cfg.Server.Addr,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				RequestTimeout:  cfg.Server.RequestTimeout,
			}, srvOpts...)
			return srv.ListenAndServe(ctx)
		},
	}
}
