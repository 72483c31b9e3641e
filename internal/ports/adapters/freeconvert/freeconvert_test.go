package freeconvert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/types"
)

type fakeProvider struct {
	t   *testing.T
	srv *httptest.Server

	// statuses is consumed one entry per status query; the last one repeats.
	statuses    []string
	omitForm    bool
	omitExport  bool
	uploadFails int32 // number of leading upload attempts answered with 500
	uploadCode  int
	downloadOK  bool

	mu          sync.Mutex
	submitted   jobSpec
	authHeader  string
	uploadName  string
	uploadData  string
	uploadToken string
	statusCalls int
	uploads     atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{t: t, statuses: []string{"completed"}, downloadOK: true}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process/jobs", f.handleSubmit)
	mux.HandleFunc("GET /process/jobs/{id}", f.handleStatus)
	mux.HandleFunc("POST /upload", f.handleUpload)
	mux.HandleFunc("GET /files/out.mp3", f.handleDownload)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProvider) handleSubmit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.authHeader = r.Header.Get("Authorization")
	_ = json.NewDecoder(r.Body).Decode(&f.submitted)
	f.mu.Unlock()

	imp := map[string]any{"name": importTask, "operation": "import/upload", "status": "waiting"}
	if !f.omitForm {
		imp["result"] = map[string]any{"form": map[string]any{
			"url":        f.srv.URL + "/upload",
			"parameters": map[string]any{"signature": "sig-123", "expires": 1700000000},
		}}
	}
	writeJSON(w, map[string]any{"id": "job-1", "status": "created", "tasks": []any{imp}})
}

func (f *fakeProvider) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	i := f.statusCalls
	f.statusCalls++
	f.mu.Unlock()
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	status := f.statuses[i]

	resp := map[string]any{"id": r.PathValue("id"), "status": status}
	if status == "completed" && !f.omitExport {
		resp["tasks"] = []any{map[string]any{
			"name":   exportTask,
			"status": "completed",
			"result": map[string]any{"url": f.srv.URL + "/files/out.mp3"},
		}}
	}
	writeJSON(w, resp)
}

func (f *fakeProvider) handleUpload(w http.ResponseWriter, r *http.Request) {
	n := f.uploads.Add(1)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if n <= f.uploadFails {
		code := f.uploadCode
		if code == 0 {
			code = http.StatusInternalServerError
		}
		http.Error(w, "try later", code)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	b, _ := io.ReadAll(file)

	f.mu.Lock()
	f.uploadName = hdr.Filename
	f.uploadData = string(b)
	f.uploadToken = r.FormValue("signature")
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeProvider) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !f.downloadOK {
		http.Error(w, "gone", http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte("ID3-audio-bytes"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeProvider) adapter(t *testing.T, mutate func(*Options)) *Adapter {
	t.Helper()
	opts := Options{
		APIKey:         "fc-secret",
		BaseURL:        f.srv.URL + "/",
		OutputDir:      t.TempDir(),
		PollInterval:   5 * time.Millisecond,
		MaxPollWait:    2 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

var (
	testSeg = types.Segment{Index: 2, Start: 30, End: 60}
	testSrc = types.Source{Name: "/tmp/holiday.mp4", Data: []byte("fake-video")}
)

func TestConvert_Success(t *testing.T) {
	f := newFakeProvider(t)
	f.statuses = []string{"processing", "processing", "completed"}
	a := f.adapter(t, nil)

	path, err := a.Convert(context.Background(), testSeg, testSrc)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if filepath.Base(path) != "converted_part2.mp3" {
		t.Fatalf("unexpected artifact name %q", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(b) != "ID3-audio-bytes" {
		t.Fatalf("unexpected artifact content %q", b)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authHeader != "Bearer fc-secret" {
		t.Fatalf("unexpected auth header %q", f.authHeader)
	}
	conv := f.submitted.Tasks[convertTask]
	if conv.Options["cut_start"] != "00:00:30" || conv.Options["cut_end"] != "00:01:00" {
		t.Fatalf("unexpected cut options: %#v", conv.Options)
	}
	if conv.InputFormat != "mp4" || conv.OutputFormat != "mp3" {
		t.Fatalf("unexpected formats: %s -> %s", conv.InputFormat, conv.OutputFormat)
	}
	if f.uploadName != "holiday.mp4" || f.uploadData != "fake-video" {
		t.Fatalf("unexpected upload: name=%q data=%q", f.uploadName, f.uploadData)
	}
	if f.uploadToken != "sig-123" {
		t.Fatalf("expected form parameters to be forwarded, got signature=%q", f.uploadToken)
	}
	if f.statusCalls != 3 {
		t.Fatalf("expected 3 status checks, got %d", f.statusCalls)
	}
}

func TestConvert_LeavesNoTempFiles(t *testing.T) {
	f := newFakeProvider(t)
	dir := t.TempDir()
	a := f.adapter(t, func(o *Options) { o.OutputDir = dir })

	if _, err := a.Convert(context.Background(), testSeg, testSrc); err != nil {
		t.Fatalf("convert: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "converted_part2.mp3" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only the final artifact, got %v", names)
	}
}

func TestConvert_MissingUploadForm(t *testing.T) {
	f := newFakeProvider(t)
	f.omitForm = true
	a := f.adapter(t, nil)

	_, err := a.Convert(context.Background(), testSeg, testSrc)
	if !failure.Is(err, failure.ProviderError) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if f.uploads.Load() != 0 {
		t.Fatalf("expected no upload attempt")
	}
}

func TestConvert_UploadRetriesTransientFailures(t *testing.T) {
	f := newFakeProvider(t)
	f.uploadFails = 2
	a := f.adapter(t, nil)

	if _, err := a.Convert(context.Background(), testSeg, testSrc); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got := f.uploads.Load(); got != 3 {
		t.Fatalf("expected 3 upload attempts, got %d", got)
	}
}

func TestConvert_UploadError(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		wantAttempts int32
	}{
		{"server error exhausts retries", http.StatusInternalServerError, 3},
		{"client error is not retried", http.StatusForbidden, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeProvider(t)
			f.uploadFails = 100
			f.uploadCode = tt.code
			a := f.adapter(t, nil)

			_, err := a.Convert(context.Background(), testSeg, testSrc)
			if !failure.Is(err, failure.UploadError) {
				t.Fatalf("expected UploadError, got %v", err)
			}
			if got := f.uploads.Load(); got != tt.wantAttempts {
				t.Fatalf("expected %d attempts, got %d", tt.wantAttempts, got)
			}
		})
	}
}

func TestConvert_RemoteFailureStatus(t *testing.T) {
	for _, status := range []string{"error", "failed", "cancelled"} {
		t.Run(status, func(t *testing.T) {
			f := newFakeProvider(t)
			f.statuses = []string{"processing", status}
			a := f.adapter(t, nil)

			_, err := a.Convert(context.Background(), testSeg, testSrc)
			if !failure.Is(err, failure.ConversionFailed) {
				t.Fatalf("expected ConversionFailed, got %v", err)
			}
		})
	}
}

func TestConvert_CompletedWithoutExportURL(t *testing.T) {
	f := newFakeProvider(t)
	f.omitExport = true
	a := f.adapter(t, nil)

	_, err := a.Convert(context.Background(), testSeg, testSrc)
	if !failure.Is(err, failure.ProviderError) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}

func TestConvert_PollTimeout(t *testing.T) {
	f := newFakeProvider(t)
	f.statuses = []string{"processing"}
	a := f.adapter(t, func(o *Options) { o.MaxPollWait = 50 * time.Millisecond })

	_, err := a.Convert(context.Background(), testSeg, testSrc)
	if !failure.Is(err, failure.PollTimeout) {
		t.Fatalf("expected PollTimeout, got %v", err)
	}
}

func TestConvert_ParentCancelIsNotTimeout(t *testing.T) {
	f := newFakeProvider(t)
	f.statuses = []string{"processing"}
	a := f.adapter(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err := a.Convert(ctx, testSeg, testSrc)
	if err == nil {
		t.Fatalf("expected error")
	}
	if failure.Is(err, failure.PollTimeout) {
		t.Fatalf("caller cancellation must not be reported as PollTimeout: %v", err)
	}
}

func TestConvert_DownloadError(t *testing.T) {
	f := newFakeProvider(t)
	f.downloadOK = false
	dir := t.TempDir()
	a := f.adapter(t, func(o *Options) { o.OutputDir = dir })

	_, err := a.Convert(context.Background(), testSeg, testSrc)
	if !failure.Is(err, failure.DownloadError) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "converted_part2.mp3")); !os.IsNotExist(statErr) {
		t.Fatalf("expected no artifact on failure, stat err=%v", statErr)
	}
}

func TestConvert_ErrorBodyIsRedacted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, fmt.Sprintf("bad key %s; Authorization: %s", "fc-secret", r.Header.Get("Authorization")), http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := New(Options{APIKey: "fc-secret", BaseURL: srv.URL, OutputDir: t.TempDir()})
	_, err := a.Convert(context.Background(), testSeg, testSrc)
	if !failure.Is(err, failure.ProviderError) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if strings.Contains(err.Error(), "fc-secret") {
		t.Fatalf("expected API key to be redacted: %v", err)
	}
}

func TestJobTransitions(t *testing.T) {
	j := newJob("j")
	if err := j.transition(StatusProcessing); err == nil {
		t.Fatalf("created -> processing must be rejected")
	}
	for _, to := range []JobStatus{StatusUploading, StatusProcessing} {
		if err := j.transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if err := j.complete("https://x/out.mp3"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if j.DownloadURL != "https://x/out.mp3" {
		t.Fatalf("download url not recorded")
	}
	j.fail()
	if j.Status != StatusCompleted {
		t.Fatalf("terminal job must not change status, got %s", j.Status)
	}
	if err := j.transition(StatusProcessing); err == nil {
		t.Fatalf("completed job must not move again")
	}
}

func TestUploadFormFields(t *testing.T) {
	f := uploadForm{Parameters: map[string]json.RawMessage{
		"b": json.RawMessage(`"two"`),
		"a": json.RawMessage(`1`),
	}}
	got := f.fields()
	if len(got) != 2 || got[0] != [2]string{"a", "1"} || got[1] != [2]string{"b", "two"} {
		t.Fatalf("unexpected fields %v", got)
	}
}
