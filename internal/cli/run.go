package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/segrecap/internal/config"
	"github.com/forPelevin/segrecap/internal/logger"
	"github.com/forPelevin/segrecap/internal/pipeline"
	"github.com/forPelevin/segrecap/internal/types"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <video>",
		Short: "Process one local video and print the per-segment recaps as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, args[0])
		},
	}
	cmd.Flags().Int("duration", 0, "Video duration in seconds (probed with ffprobe when omitted)")
	cmd.Flags().Duration("timeout", 3*time.Hour, "Overall deadline for the run")
	return cmd
}

func runOnce(cmd *cobra.Command, input string) error {
	duration, _ := cmd.Flags().GetInt("duration")
	if cmd.Flags().Changed("duration") && duration <= 0 {
		return errors.New("invalid duration: must be a positive number of seconds")
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	absIn, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	if _, err := os.Stat(absIn); err != nil {
		return fmt.Errorf("stat input: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level)

	p, err := pipeline.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := p.RunFile(ctx, absIn, duration)
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), absIn, results)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

type report struct {
	Input                string        `json:"input"`
	TranscriptionResults []types.Entry `json:"transcriptionResults"`
}

func writeReport(w io.Writer, input string, results []types.TranscriptionResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report{Input: input, TranscriptionResults: types.Entries(results)})
}
