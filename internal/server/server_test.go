package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/types"
)

type fakeRunner struct {
	results []types.TranscriptionResult
	err     error

	calls    int
	gotTotal int
	gotSrc   types.Source
}

func (f *fakeRunner) Run(_ context.Context, total int, src types.Source) ([]types.TranscriptionResult, error) {
	f.calls++
	f.gotTotal = total
	f.gotSrc = src
	return f.results, f.err
}

type part struct {
	duration *string
	fileName string
	file     []byte
}

func uploadRequest(t *testing.T, p part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if p.duration != nil {
		if err := mw.WriteField("duration", *p.duration); err != nil {
			t.Fatal(err)
		}
	}
	if p.fileName != "" {
		fw, err := mw.CreateFormFile("file", p.fileName)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(p.file)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func strPtr(s string) *string { return &s }

func TestUpload_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		part     part
		wantBody string
	}{
		{"missing duration", part{fileName: "a.mp4", file: []byte("v")}, msgInvalidDuration},
		{"zero duration", part{duration: strPtr("0"), fileName: "a.mp4", file: []byte("v")}, msgInvalidDuration},
		{"negative duration", part{duration: strPtr("-30"), fileName: "a.mp4", file: []byte("v")}, msgInvalidDuration},
		{"not a number", part{duration: strPtr("abc"), fileName: "a.mp4", file: []byte("v")}, msgInvalidDuration},
		{"bad duration wins over missing file", part{duration: strPtr("x")}, msgInvalidDuration},
		{"missing file", part{duration: strPtr("65")}, msgNoFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}
			rec := httptest.NewRecorder()
			New(r, nil, Options{}).Handler().ServeHTTP(rec, uploadRequest(t, tt.part))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if rec.Body.String() != tt.wantBody {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if r.calls != 0 {
				t.Fatalf("runner must not be called on bad input")
			}
		})
	}
}

func TestUpload_Success(t *testing.T) {
	r := &fakeRunner{results: []types.TranscriptionResult{
		{Segment: types.Segment{Index: 1, Start: 0, End: 30}, Transcript: "one", Recap: types.Recap{Title: "A", Body: "first"}},
		{Segment: types.Segment{Index: 2, Start: 30, End: 35}, Transcript: "two", Recap: types.Recap{Title: "B", Body: "second"}},
	}}
	rec := httptest.NewRecorder()
	req := uploadRequest(t, part{duration: strPtr(" 35 "), fileName: "movie.mp4", file: []byte("video-bytes")})
	New(r, nil, Options{}).Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if r.gotTotal != 35 || r.gotSrc.Name != "movie.mp4" || string(r.gotSrc.Data) != "video-bytes" {
		t.Fatalf("unexpected runner input: total=%d src=%+v", r.gotTotal, r.gotSrc)
	}

	var body struct {
		Message string           `json:"message"`
		Results []map[string]any `json:"transcriptionResults"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != msgSuccess || len(body.Results) != 2 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	second := body.Results[1]
	if second["part"] != float64(2) || second["time duration"] != "30:35" || second["transcript"] != "two" {
		t.Fatalf("unexpected entry %v", second)
	}
	rc, _ := second["transcription"].(map[string]any)
	if rc["title"] != "B" || rc["content"] != "second" {
		t.Fatalf("unexpected recap %v", rc)
	}
}

func TestUpload_Failure(t *testing.T) {
	cause := failure.New(failure.ConversionFailed, "poll", "job j ended with status \"error\"")
	cause.Segment = 2
	r := &fakeRunner{err: &failure.Error{Kind: failure.OrchestratorError, Segment: 2, Err: cause}}

	rec := httptest.NewRecorder()
	New(r, nil, Options{}).Handler().ServeHTTP(rec, uploadRequest(t, part{duration: strPtr("90"), fileName: "a.mp4", file: []byte("v")}))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != msgFailure || body.Kind != "ConversionFailed" || body.Segment != 2 {
		t.Fatalf("unexpected failure body %+v", body)
	}
}

func TestCORSAndHealth(t *testing.T) {
	h := New(&fakeRunner{}, nil, Options{}).Handler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS for all origins, got %q", got)
	}
	if _, err := uuid.Parse(rec.Header().Get(echo.HeaderXRequestID)); err != nil {
		t.Fatalf("expected uuid request id: %v", err)
	}
}

func TestUpload_BodyLimit(t *testing.T) {
	r := &fakeRunner{}
	rec := httptest.NewRecorder()
	big := bytes.Repeat([]byte("x"), 2<<20)
	New(r, nil, Options{MaxUploadMB: 1}).Handler().ServeHTTP(rec, uploadRequest(t, part{duration: strPtr("30"), fileName: "a.mp4", file: big}))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if r.calls != 0 {
		t.Fatalf("runner must not be called for oversized uploads")
	}
}
