package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/forPelevin/segrecap/internal/config"
	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/logger"
	"github.com/forPelevin/segrecap/internal/ports"
	"github.com/forPelevin/segrecap/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/segrecap/internal/ports/adapters/freeconvert"
	"github.com/forPelevin/segrecap/internal/ports/adapters/gemini"
	"github.com/forPelevin/segrecap/internal/ports/adapters/openai"
	"github.com/forPelevin/segrecap/internal/ports/adapters/openrouter"
	"github.com/forPelevin/segrecap/internal/ports/adapters/whispercpp"
	"github.com/forPelevin/segrecap/internal/types"
	"github.com/forPelevin/segrecap/internal/usecase"
)

// Pipeline wires configured adapters into one orchestrator per run.
type Pipeline struct {
	cfg      *config.Config
	log      logger.Logger
	asr      ports.ASR
	recapper ports.Recapper
	prober   ports.DurationProber

	newConverter func(outDir string) ports.Converter
	now          func() time.Time
}

func New(cfg *config.Config, log logger.Logger) (*Pipeline, error) {
	if log == nil {
		log = logger.Nop()
	}
	media := ffmpeg.New(cfg.Pipeline.FFmpegPath, cfg.Pipeline.FFprobePath)

	var asr ports.ASR
	switch cfg.Transcription.Provider {
	case "openai":
		asr = openai.New(openai.Options{
			APIKey:          cfg.Transcription.OpenAIAPIKey,
			BaseURL:         cfg.Transcription.OpenAIBaseURL,
			TranscribeModel: cfg.Transcription.Model,
			Logger:          log,
		})
	case "whispercpp":
		asr = whispercpp.New(cfg.Transcription.WhisperBin, cfg.Transcription.WhisperModel, media)
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.Transcription.Provider)
	}

	var rc ports.Recapper
	switch cfg.Recap.Provider {
	case "openai":
		rc = openai.New(openai.Options{
			APIKey:      cfg.Recap.OpenAIAPIKey,
			BaseURL:     cfg.Recap.OpenAIBaseURL,
			ChatModel:   cfg.Recap.Model,
			MaxTokens:   cfg.Recap.MaxTokens,
			Temperature: cfg.Recap.Temperature,
			Logger:      log,
		})
	case "gemini":
		g, err := gemini.New(gemini.Options{APIKeys: cfg.Recap.GeminiAPIKeys, Model: cfg.Recap.Model, Logger: log})
		if err != nil {
			return nil, err
		}
		rc = g
	case "openrouter":
		rc = openrouter.New(cfg.Recap.OpenRouterAPIKey, cfg.Recap.Model, cfg.Recap.OpenRouterBaseURL, log)
	default:
		return nil, fmt.Errorf("unknown recap provider %q", cfg.Recap.Provider)
	}

	conv := cfg.Conversion
	retries := config.DefaultMaxRetries
	if conv.MaxRetries != nil {
		retries = *conv.MaxRetries
	}
	return &Pipeline{
		cfg:      cfg,
		log:      log,
		asr:      asr,
		recapper: rc,
		prober:   media,
		newConverter: func(outDir string) ports.Converter {
			return freeconvert.New(freeconvert.Options{
				APIKey:         conv.APIKey,
				BaseURL:        conv.BaseURL,
				InputFormat:    conv.InputFormat,
				OutputFormat:   conv.OutputFormat,
				OutputDir:      outDir,
				PollInterval:   conv.PollInterval,
				MaxPollWait:    conv.MaxPollWait,
				MaxRetries:     retries,
				RetryBaseDelay: conv.RetryBaseDelay,
				Logger:         log,
			})
		},
		now: time.Now,
	}, nil
}

// Run processes one upload. Converted parts of each run land in their own
// directory under the configured output dir so concurrent runs never share
// converted_part files.
func (p *Pipeline) Run(ctx context.Context, totalSeconds int, src types.Source) ([]types.TranscriptionResult, error) {
	runDir := buildRunOutDir(p.cfg.Conversion.OutputDir, src.Name, p.now())
	orch := usecase.NewOrchestrator(usecase.Deps{
		Converter: p.newConverter(runDir),
		ASR:       p.asr,
		Recapper:  p.recapper,
		Logger:    p.log,
	}, usecase.Options{
		SegmentLength:   p.cfg.Pipeline.SegmentSeconds,
		MaxConcurrent:   p.cfg.Pipeline.MaxConcurrent,
		CancelOnFailure: p.cfg.Pipeline.CancelOnFailure,
	})
	if totalSeconds > 0 {
		p.log.Info(ctx, "run dir: %s", runDir)
	}
	return orch.Run(ctx, totalSeconds, src)
}

// RunFile reads a local video and runs it. A zero duration means "probe it".
func (p *Pipeline) RunFile(ctx context.Context, path string, duration int) ([]types.TranscriptionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidInput, "read", err)
	}
	if duration == 0 {
		d, err := p.prober.ProbeDuration(ctx, path)
		if err != nil {
			return nil, failure.Wrap(failure.InvalidInput, "probe", err)
		}
		duration = ffmpeg.WholeSeconds(d)
		p.log.Info(ctx, "probed %s: %ds", filepath.Base(path), duration)
	}
	return p.Run(ctx, duration, types.Source{Name: filepath.Base(path), Data: data})
}

func buildRunOutDir(outRoot, inputName string, now time.Time) string {
	name := strings.TrimSuffix(filepath.Base(inputName), filepath.Ext(inputName))
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	runSeed := fmt.Sprintf("%s|%d", inputName, now.UTC().UnixNano())
	suffix := hash(runSeed)[:6]
	return filepath.Join(outRoot, fmt.Sprintf("%s-%s-%s", name, ts, suffix))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

var (
	_ ports.Converter      = (*freeconvert.Adapter)(nil)
	_ ports.ASR            = (*openai.Client)(nil)
	_ ports.ASR            = (*whispercpp.Adapter)(nil)
	_ ports.Recapper       = (*openai.Client)(nil)
	_ ports.Recapper       = (*gemini.Recapper)(nil)
	_ ports.Recapper       = (*openrouter.Adapter)(nil)
	_ ports.DurationProber = (*ffmpeg.Adapter)(nil)
)
