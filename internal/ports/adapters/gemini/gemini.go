package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/forPelevin/segrecap/internal/domain/recap"
	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/logger"
	"github.com/forPelevin/segrecap/internal/types"
)

const DefaultModel = "gemini-2.5-flash"

type Options struct {
	// APIKeys are tried in turn; a key is rotated out when the API reports a
	// rate limit or exhausted quota.
	APIKeys []string
	Model   string
	Logger  logger.Logger
}

type generateFunc func(ctx context.Context, apiKey, model, prompt string) (string, error)

// Recapper implements ports.Recapper on top of the Gemini API.
type Recapper struct {
	keys     []string
	model    string
	log      logger.Logger
	generate generateFunc

	mu      sync.Mutex
	current int
}

func New(opts Options) (*Recapper, error) {
	var keys []string
	for _, k := range opts.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("gemini: at least one API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Recapper{keys: keys, model: opts.Model, log: opts.Logger, generate: generateContent}, nil
}

func (r *Recapper) Recap(ctx context.Context, transcript string) (types.Recap, error) {
	prompt := recap.Prompt(transcript)

	var lastErr error
	for range r.keys {
		idx, key := r.key()
		text, err := r.generate(ctx, key, r.model, prompt)
		if err == nil {
			return recap.Parse(text)
		}
		if failure.Is(err, failure.MalformedResponse) {
			return types.Recap{}, err
		}
		if !rateLimited(err) {
			return types.Recap{}, failure.Wrap(failure.RecapError, "recap", err)
		}
		r.log.Warn(ctx, "gemini key %d rate limited, rotating", idx+1)
		r.rotate(idx)
		lastErr = err
	}
	return types.Recap{}, failure.Wrap(failure.RecapError, "recap", fmt.Errorf("all API keys exhausted: %w", lastErr))
}

func (r *Recapper) key() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.keys[r.current]
}

// rotate advances past idx unless another caller already did.
func (r *Recapper) rotate(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == idx {
		r.current = (r.current + 1) % len(r.keys)
	}
}

func rateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

func generateContent(ctx context.Context, apiKey, model, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}

	result, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return responseText(result)
}

func responseText(result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", failure.New(failure.MalformedResponse, "recap", "empty response from Gemini")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}
