package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forPelevin/segrecap/internal/logger"
	"github.com/forPelevin/segrecap/internal/pipeline"
	"github.com/forPelevin/segrecap/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP upload endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			log := logger.NewWithWriter(cmd.OutOrStdout(), cfg.Logging.Level)

			p, err := pipeline.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(p, log, server.Options{
				Addr:        cfg.Server.Addr,
				MaxUploadMB: cfg.Server.MaxUploadMB,
			})
			return srv.Start(ctx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	return cmd
}
