package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/segrecap/internal/logger"
	"github.com/forPelevin/segrecap/internal/pipeline"
	"github.com/forPelevin/segrecap/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Process every new video dropped into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			settle, _ := cmd.Flags().GetDuration("settle")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level)

			p, err := pipeline.New(cfg, log)
			if err != nil {
				return err
			}

			// Reports from concurrent runs must not interleave.
			var outMu sync.Mutex
			out := cmd.OutOrStdout()
			handle := func(ctx context.Context, path string) error {
				results, err := p.RunFile(ctx, path, 0)
				if err != nil {
					return err
				}
				outMu.Lock()
				defer outMu.Unlock()
				return writeReport(out, path, results)
			}

			w, err := watcher.New(args[0], handle, log, watcher.Options{MaxConcurrent: concurrency, Settle: settle})
			if err != nil {
				return err
			}
			defer w.Stop()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Int("concurrency", 1, "Videos processed at the same time")
	cmd.Flags().Duration("settle", 500*time.Millisecond, "How long a new file must stop growing before it is processed")
	return cmd
}
