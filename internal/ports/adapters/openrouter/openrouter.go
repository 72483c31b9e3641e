package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forPelevin/segrecap/internal/domain/recap"
	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/logger"
	"github.com/forPelevin/segrecap/internal/redact"
	"github.com/forPelevin/segrecap/internal/types"
)

const (
	DefaultModel   = "anthropic/claude-3.5-sonnet"
	requestTimeout = 90 * time.Second
)

type Adapter struct {
	key     string
	model   string
	baseURL string
	client  *http.Client
	log     logger.Logger
}

// New does not check baseURL; callers run ValidateBaseURL on user input first.
func New(apiKey, model, baseURL string, log logger.Logger) *Adapter {
	if model == "" {
		model = DefaultModel
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{
		key:     apiKey,
		model:   model,
		baseURL: normalizeBaseURL(baseURL),
		client:  &http.Client{Timeout: 5 * time.Minute},
		log:     log,
	}
}

func (a *Adapter) Recap(ctx context.Context, transcript string) (types.Recap, error) {
	payload := map[string]any{
		"model":  a.model,
		"stream": false,
		"messages": []map[string]any{
			{"role": "user", "content": recap.Prompt(transcript)},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.Recap{}, failure.Wrap(failure.RecapError, "recap", fmt.Errorf("marshal request: %w", err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.baseURL+"/api/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return types.Recap{}, failure.Wrap(failure.RecapError, "recap", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("openrouter timeout after %s (model=%s)", requestTimeout, a.model)
		}
		return types.Recap{}, failure.Wrap(failure.RecapError, "recap", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return types.Recap{}, failure.New(failure.RecapError, "recap", "openrouter status %d and read body failed: %v", resp.StatusCode, readErr)
		}
		return types.Recap{}, failure.New(failure.RecapError, "recap", "openrouter status %d: %s", resp.StatusCode, redact.Body(rb, a.key))
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return types.Recap{}, failure.Wrap(failure.MalformedResponse, "recap", fmt.Errorf("decode response: %w", err))
	}
	if len(raw.Choices) == 0 {
		return types.Recap{}, failure.New(failure.MalformedResponse, "recap", "openrouter: no choices (model=%s)", a.model)
	}

	content, err := messageContentToString(raw.Choices[0].Message.Content)
	if err != nil {
		return types.Recap{}, failure.Wrap(failure.MalformedResponse, "recap", err)
	}
	a.log.Debug(ctx, "openrouter recap: %d chars (model=%s)", len(content), a.model)
	return recap.Parse(stripFences(content))
}

func messageContentToString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case nil:
		return "", errors.New("openrouter: empty content")
	case []any:
		// Some providers return an array of {type,text} parts.
		var b strings.Builder
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := m["text"].(string); ok {
				b.WriteString(t)
			}
		}
		s := b.String()
		if strings.TrimSpace(s) == "" {
			return "", errors.New("openrouter: empty content")
		}
		return s, nil
	default:
		return "", fmt.Errorf("openrouter: unexpected content type %T", v)
	}
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	if i := strings.Index(t, "\n"); i >= 0 {
		t = t[i+1:]
	} else {
		return ""
	}
	if j := strings.LastIndex(t, "```"); j >= 0 {
		t = t[:j]
	}
	return strings.TrimSpace(t)
}
