package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forPelevin/segrecap/internal/domain/segments"
	"github.com/forPelevin/segrecap/internal/ports/adapters/openrouter"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Conversion    ConversionConfig    `yaml:"conversion"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Recap         RecapConfig         `yaml:"recap"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// MaxUploadMB bounds the buffered request body.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

type PipelineConfig struct {
	SegmentSeconds  int    `yaml:"segment_seconds"`
	MaxConcurrent   int    `yaml:"max_concurrent"`
	CancelOnFailure bool   `yaml:"cancel_on_failure"`
	FFmpegPath      string `yaml:"ffmpeg_path"`
	FFprobePath     string `yaml:"ffprobe_path"`
}

type ConversionConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	InputFormat    string        `yaml:"input_format"`
	OutputFormat   string        `yaml:"output_format"`
	OutputDir      string        `yaml:"output_dir"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxPollWait    time.Duration `yaml:"max_poll_wait"`
	// MaxRetries is nil until set; 0 disables upload and status retries.
	MaxRetries     *int          `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

type TranscriptionConfig struct {
	// Provider is "openai" or "whispercpp".
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	WhisperBin    string `yaml:"whisper_bin"`
	WhisperModel  string `yaml:"whisper_model"`
}

type RecapConfig struct {
	// Provider is "openai", "gemini" or "openrouter".
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	GeminiAPIKeys []string `yaml:"gemini_api_keys"`

	OpenRouterAPIKey       string   `yaml:"openrouter_api_key"`
	OpenRouterBaseURL      string   `yaml:"openrouter_base_url"`
	OpenRouterAllowedHosts []string `yaml:"openrouter_allowed_hosts"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	DefaultAddr         = ":6000"
	DefaultOutputDir    = "converted"
	DefaultMaxUploadMB  = 512
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPollWait  = 10 * time.Minute
	DefaultMaxRetries   = 3
)

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv lets environment variables override file values.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Server.Addr, "SEGRECAP_ADDR")
	set(&c.Conversion.OutputDir, "SEGRECAP_OUTPUT_DIR")
	set(&c.Logging.Level, "SEGRECAP_LOG_LEVEL")
	set(&c.Conversion.APIKey, "FREECONVERT_API_KEY")
	set(&c.Transcription.OpenAIAPIKey, "OPENAI_API_KEY")
	set(&c.Recap.OpenAIAPIKey, "OPENAI_API_KEY")
	set(&c.Recap.OpenRouterAPIKey, "OPENROUTER_API_KEY")
	set(&c.Recap.OpenRouterBaseURL, "OPENROUTER_BASE_URL")

	if v := os.Getenv("GEMINI_API_KEY"); strings.TrimSpace(v) != "" {
		c.Recap.GeminiAPIKeys = splitList(v)
	}
	if v := os.Getenv("OPENROUTER_ALLOWED_HOSTS"); strings.TrimSpace(v) != "" {
		c.Recap.OpenRouterAllowedHosts = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate fills defaults and rejects values no run could succeed with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = DefaultMaxUploadMB
	}
	if c.Pipeline.SegmentSeconds == 0 {
		c.Pipeline.SegmentSeconds = segments.DefaultLength
	}
	if c.Conversion.InputFormat == "" {
		c.Conversion.InputFormat = "mp4"
	}
	if c.Conversion.OutputFormat == "" {
		c.Conversion.OutputFormat = "mp3"
	}
	if c.Conversion.OutputDir == "" {
		c.Conversion.OutputDir = DefaultOutputDir
	}
	if c.Conversion.PollInterval == 0 {
		c.Conversion.PollInterval = DefaultPollInterval
	}
	if c.Conversion.MaxPollWait == 0 {
		c.Conversion.MaxPollWait = DefaultMaxPollWait
	}
	if c.Conversion.MaxRetries == nil {
		n := DefaultMaxRetries
		c.Conversion.MaxRetries = &n
	}
	if c.Conversion.RetryBaseDelay == 0 {
		c.Conversion.RetryBaseDelay = time.Second
	}
	if c.Transcription.Provider == "" {
		c.Transcription.Provider = "openai"
	}
	if c.Recap.Provider == "" {
		c.Recap.Provider = "openai"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	var errs []error
	if c.Server.MaxUploadMB < 0 {
		errs = append(errs, errors.New("server.max_upload_mb must be >= 0"))
	}
	if c.Pipeline.SegmentSeconds < 0 {
		errs = append(errs, errors.New("pipeline.segment_seconds must be > 0"))
	}
	if c.Pipeline.MaxConcurrent < 0 {
		errs = append(errs, errors.New("pipeline.max_concurrent must be >= 0"))
	}
	if c.Conversion.APIKey == "" {
		errs = append(errs, errors.New("conversion.api_key (FREECONVERT_API_KEY) is required"))
	}
	if c.Conversion.PollInterval < 0 {
		errs = append(errs, errors.New("conversion.poll_interval must be > 0"))
	}
	// A negative max_poll_wait disables the bound.
	if c.Conversion.MaxPollWait < 0 {
		c.Conversion.MaxPollWait = 0
	}
	if *c.Conversion.MaxRetries < 0 {
		errs = append(errs, errors.New("conversion.max_retries must be >= 0"))
	}

	switch c.Transcription.Provider {
	case "openai":
		if c.Transcription.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("transcription.openai_api_key (OPENAI_API_KEY) is required"))
		}
	case "whispercpp":
		if c.Transcription.WhisperModel == "" {
			errs = append(errs, errors.New("transcription.whisper_model is required for whispercpp"))
		}
	default:
		errs = append(errs, fmt.Errorf("transcription.provider %q is not supported", c.Transcription.Provider))
	}

	switch c.Recap.Provider {
	case "openai":
		if c.Recap.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("recap.openai_api_key (OPENAI_API_KEY) is required"))
		}
	case "gemini":
		if len(c.Recap.GeminiAPIKeys) == 0 {
			errs = append(errs, errors.New("recap.gemini_api_keys (GEMINI_API_KEY) is required"))
		}
	case "openrouter":
		if c.Recap.OpenRouterAPIKey == "" {
			errs = append(errs, errors.New("recap.openrouter_api_key (OPENROUTER_API_KEY) is required"))
		}
		if err := openrouter.ValidateBaseURL(c.Recap.OpenRouterBaseURL, c.Recap.OpenRouterAllowedHosts); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("recap.provider %q is not supported", c.Recap.Provider))
	}

	return errors.Join(errs...)
}
