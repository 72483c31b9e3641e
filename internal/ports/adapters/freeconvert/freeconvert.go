package freeconvert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forPelevin/segrecap/internal/domain/segments"
	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/logger"
	"github.com/forPelevin/segrecap/internal/redact"
	"github.com/forPelevin/segrecap/internal/types"
)

const (
	DefaultBaseURL      = "https://api.freeconvert.com/v1"
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPollWait  = 10 * time.Minute

	requestTimeout = 2 * time.Minute
)

type Options struct {
	APIKey       string
	BaseURL      string
	InputFormat  string
	OutputFormat string
	OutputDir    string

	PollInterval time.Duration
	// MaxPollWait bounds the whole status loop; zero polls until the
	// provider reports a terminal status.
	MaxPollWait time.Duration

	// MaxRetries applies to the upload and to each status query.
	MaxRetries     int
	RetryBaseDelay time.Duration

	HTTPClient *http.Client
	Logger     logger.Logger
}

type Adapter struct {
	opts   Options
	client *http.Client
	log    logger.Logger
}

func New(opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.InputFormat == "" {
		opts.InputFormat = "mp4"
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = "mp3"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "converted"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{opts: opts, client: client, log: log}
}

// Convert runs the remote job for seg to completion and returns the path of
// the downloaded audio file.
func (a *Adapter) Convert(ctx context.Context, seg types.Segment, src types.Source) (string, error) {
	job, form, err := a.submit(ctx, seg)
	if err != nil {
		return "", err
	}

	if err := job.transition(StatusUploading); err != nil {
		return "", failure.Wrap(failure.ProviderError, "upload", err)
	}
	if err := a.upload(ctx, job, form, src); err != nil {
		job.fail()
		return "", err
	}
	if err := job.transition(StatusProcessing); err != nil {
		return "", failure.Wrap(failure.ProviderError, "poll", err)
	}

	if err := a.poll(ctx, job); err != nil {
		job.fail()
		return "", err
	}

	return a.download(ctx, job, seg)
}

func (a *Adapter) submit(ctx context.Context, seg types.Segment) (*Job, uploadForm, error) {
	cutStart, err := segments.FormatTimestamp(seg.Start)
	if err != nil {
		return nil, uploadForm{}, err
	}
	cutEnd, err := segments.FormatTimestamp(seg.End)
	if err != nil {
		return nil, uploadForm{}, err
	}

	body, err := json.Marshal(buildJobSpec(a.opts.InputFormat, a.opts.OutputFormat, cutStart, cutEnd))
	if err != nil {
		return nil, uploadForm{}, failure.Wrap(failure.ProviderError, "submit", fmt.Errorf("marshal job: %w", err))
	}

	var resp jobResponse
	if err := a.doJSON(ctx, http.MethodPost, a.opts.BaseURL+"/process/jobs", body, &resp); err != nil {
		return nil, uploadForm{}, failure.Wrap(failure.ProviderError, "submit", err)
	}
	if resp.ID == "" {
		return nil, uploadForm{}, failure.New(failure.ProviderError, "submit", "response has no job id")
	}
	form, ok := resp.uploadTarget()
	if !ok {
		return nil, uploadForm{}, failure.New(failure.ProviderError, "submit", "job %s: missing %s upload form", resp.ID, importTask)
	}

	a.log.Info(ctx, "segment %d: job %s created (cut %s-%s)", seg.Index, resp.ID, cutStart, cutEnd)
	return newJob(resp.ID), form, nil
}

func (a *Adapter) upload(ctx context.Context, job *Job, form uploadForm, src types.Source) error {
	op := func() error {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeUploadForm(mw, form, src))
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, form.URL, pr)
		if err != nil {
			pr.Close()
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := a.client.Do(req)
		if err != nil {
			return transportErr(ctx, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			rb, _ := io.ReadAll(resp.Body)
			return statusErr(resp.StatusCode, redact.Body(rb, a.opts.APIKey))
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := a.retry(ctx, "upload", job.ID, op); err != nil {
		return failure.Wrap(failure.UploadError, "upload", fmt.Errorf("job %s: %w", job.ID, err))
	}
	a.log.Debug(ctx, "job %s: uploaded %d bytes", job.ID, len(src.Data))
	return nil
}

func writeUploadForm(mw *multipart.Writer, form uploadForm, src types.Source) error {
	for _, kv := range form.fields() {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	name := src.Name
	if name == "" {
		name = "input"
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, bytes.NewReader(src.Data)); err != nil {
		return err
	}
	return mw.Close()
}

func (a *Adapter) poll(ctx context.Context, job *Job) error {
	pollCtx := ctx
	if a.opts.MaxPollWait > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, a.opts.MaxPollWait)
		defer cancel()
	}
	timedOut := func() bool {
		return ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded)
	}

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-pollCtx.Done():
			if timedOut() {
				return failure.New(failure.PollTimeout, "poll", "job %s still running after %s (%d checks)", job.ID, a.opts.MaxPollWait, attempt-1)
			}
			return failure.Wrap(failure.ProviderError, "poll", fmt.Errorf("job %s: %w", job.ID, ctx.Err()))
		case <-ticker.C:
		}

		var resp jobResponse
		op := func() error {
			return a.doJSON(pollCtx, http.MethodGet, a.opts.BaseURL+"/process/jobs/"+job.ID, nil, &resp)
		}
		if err := a.retry(pollCtx, "status", job.ID, op); err != nil {
			if timedOut() {
				return failure.New(failure.PollTimeout, "poll", "job %s still running after %s (%d checks)", job.ID, a.opts.MaxPollWait, attempt)
			}
			return failure.Wrap(failure.ProviderError, "poll", fmt.Errorf("job %s: %w", job.ID, err))
		}

		a.log.Debug(ctx, "job %s: status %s (check %d)", job.ID, resp.Status, attempt)

		switch {
		case strings.EqualFold(resp.Status, string(StatusCompleted)):
			url, ok := resp.exportURL()
			if !ok {
				return failure.New(failure.ProviderError, "poll", "job %s completed without %s result url", job.ID, exportTask)
			}
			if err := job.complete(url); err != nil {
				return failure.Wrap(failure.ProviderError, "poll", err)
			}
			return nil
		case remoteInProgress(resp.Status):
			continue
		default:
			return failure.New(failure.ConversionFailed, "poll", "job %s ended with status %q", job.ID, resp.Status)
		}
	}
}

func (a *Adapter) download(ctx context.Context, job *Job, seg types.Segment) (string, error) {
	fail := func(err error) (string, error) {
		return "", failure.Wrap(failure.DownloadError, "download", fmt.Errorf("job %s: %w", job.ID, err))
	}

	if err := os.MkdirAll(a.opts.OutputDir, 0o755); err != nil {
		return fail(err)
	}
	finalPath := filepath.Join(a.opts.OutputDir, artifactName(seg.Index, a.opts.OutputFormat))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.DownloadURL, nil)
	if err != nil {
		return fail(err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(resp.Body)
		return fail(statusErr(resp.StatusCode, redact.Body(rb, a.opts.APIKey)))
	}

	// Readers only ever see the final name once the file is complete.
	tmp, err := os.CreateTemp(a.opts.OutputDir, fmt.Sprintf(".converted_part%d-*.part", seg.Index))
	if err != nil {
		return fail(err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fail(err)
	}
	committed = true

	a.log.Info(ctx, "segment %d: saved %s (%d bytes)", seg.Index, finalPath, n)
	return finalPath, nil
}

func artifactName(index int, ext string) string {
	return fmt.Sprintf("converted_part%d.%s", index, ext)
}

func (a *Adapter) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, rdr)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+a.opts.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return transportErr(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(resp.Body)
		return statusErr(resp.StatusCode, redact.Body(rb, a.opts.APIKey))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (a *Adapter) retry(ctx context.Context, what, jobID string, op backoff.Operation) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = a.opts.RetryBaseDelay
	eb.MaxInterval = 30 * a.opts.RetryBaseDelay
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(a.opts.MaxRetries)), ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		a.log.Warn(ctx, "job %s: %s failed, retrying in %s: %v", jobID, what, wait, err)
	})
}

// StatusError is a non-2xx reply from the provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// statusErr marks client errors as permanent; 429 and 5xx stay retryable.
func statusErr(code int, body string) error {
	err := &StatusError{Code: code, Body: body}
	if code == http.StatusTooManyRequests || code >= 500 {
		return err
	}
	return backoff.Permanent(err)
}

func transportErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}
	return err
}
