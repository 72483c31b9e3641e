package whispercpp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/forPelevin/segrecap/internal/failure"
)

type copyDecoder struct {
	err error
	got string
}

func (d *copyDecoder) ExtractAudioMono16k(_ context.Context, in, outWav string) error {
	d.got = in
	if d.err != nil {
		return d.err
	}
	return os.WriteFile(outWav, []byte("RIFF"), 0o644)
}

// fakeWhisper writes a script that mimics whisper-cli -otxt -of <prefix>.
func fakeWhisper(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}
	p := filepath.Join(t.TempDir(), "whisper-cli")
	script := "#!/bin/sh\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"-of\" ]; then out=\"$2\"; fi\n" +
		"  shift\n" +
		"done\n" +
		body
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return p
}

func TestJoinLines(t *testing.T) {
	got := joinLines("\n  first line \n\nsecond\r\n")
	if got != "first line second" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestTranscribe(t *testing.T) {
	bin := fakeWhisper(t, "printf ' hello\\n world\\n' > \"$out.txt\"\n")
	dec := &copyDecoder{}
	a := New(bin, "model.bin", dec)

	got, err := a.Transcribe(context.Background(), "/tmp/converted_part1.mp3")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("unexpected transcript %q", got)
	}
	if dec.got != "/tmp/converted_part1.mp3" {
		t.Fatalf("decoder got %q", dec.got)
	}
}

func TestTranscribe_BinaryFails(t *testing.T) {
	bin := fakeWhisper(t, "echo boom >&2\nexit 3\n")
	a := New(bin, "model.bin", &copyDecoder{})

	_, err := a.Transcribe(context.Background(), "x.mp3")
	if !failure.Is(err, failure.TranscriptionError) {
		t.Fatalf("expected TranscriptionError, got %v", err)
	}
}

func TestTranscribe_DecodeFails(t *testing.T) {
	a := New("unused", "model.bin", &copyDecoder{err: errors.New("bad input")})

	_, err := a.Transcribe(context.Background(), "x.mp3")
	if !failure.Is(err, failure.TranscriptionError) {
		t.Fatalf("expected TranscriptionError, got %v", err)
	}
}
