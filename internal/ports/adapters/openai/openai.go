package openai

import (
	"context"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/forPelevin/segrecap/internal/domain/recap"
	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/logger"
	"github.com/forPelevin/segrecap/internal/redact"
	"github.com/forPelevin/segrecap/internal/types"
)

const (
	DefaultTranscribeModel = goopenai.Whisper1
	DefaultChatModel       = "gpt-4o-mini"
)

type Options struct {
	APIKey string
	// BaseURL overrides the API root (including the /v1 suffix).
	BaseURL         string
	TranscribeModel string
	ChatModel       string
	Temperature     float32
	MaxTokens       int
	Timeout         time.Duration
	Logger          logger.Logger
}

// Client implements both ports.ASR and ports.Recapper.
type Client struct {
	cli  *goopenai.Client
	opts Options
	log  logger.Logger
}

func New(opts Options) *Client {
	if opts.TranscribeModel == "" {
		opts.TranscribeModel = DefaultTranscribeModel
	}
	if opts.ChatModel == "" {
		opts.ChatModel = DefaultChatModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	return &Client{cli: goopenai.NewClientWithConfig(cfg), opts: opts, log: opts.Logger}
}

func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.cli.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    c.opts.TranscribeModel,
		FilePath: audioPath,
		Format:   goopenai.AudioResponseFormatText,
	})
	if err != nil {
		return "", failure.Wrap(failure.TranscriptionError, "transcribe", c.clean(err))
	}
	text := strings.TrimSpace(resp.Text)
	c.log.Debug(ctx, "transcribed %s (%d chars)", audioPath, len(text))
	return text, nil
}

func (c *Client) Recap(ctx context.Context, transcript string) (types.Recap, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.cli.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.opts.ChatModel,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleUser,
				Content: recap.Prompt(transcript),
			},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		return types.Recap{}, failure.Wrap(failure.RecapError, "recap", c.clean(err))
	}
	if len(resp.Choices) == 0 {
		return types.Recap{}, failure.New(failure.MalformedResponse, "recap", "no choices in response")
	}
	return recap.Parse(resp.Choices[0].Message.Content)
}

// clean keeps the SDK error chain but strips the key from its message.
func (c *Client) clean(err error) error {
	return redact.Error(err, c.opts.APIKey)
}
