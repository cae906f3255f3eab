package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LD-Reborn/embeddingsearch/pkg/api"
)

func serveCmd(configPath *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, db, cfg, logger, err := newService(*configPath, *debug)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			if err := db.Migrate(ctx); err != nil {
				return err
			}

			server := api.NewServer(&cfg.API, service, db, logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start(ctx)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logger.Info("shutting down", "signal", sig.String())
				shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				defer cancel()
				return server.Stop(shutdownCtx)
			}
		},
	}
}
