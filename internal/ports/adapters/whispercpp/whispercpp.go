package whispercpp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/forPelevin/segrecap/internal/failure"
)

// Decoder turns a converted segment into the WAV whisper.cpp reads.
type Decoder interface {
	ExtractAudioMono16k(ctx context.Context, in, outWav string) error
}

type Adapter struct {
	bin     string
	model   string
	decoder Decoder
}

func New(binPath, modelPath string, decoder Decoder) *Adapter {
	if binPath == "" {
		binPath = "whisper-cli"
	}
	return &Adapter{bin: binPath, model: modelPath, decoder: decoder}
}

func (a *Adapter) Transcribe(ctx context.Context, audioPath string) (string, error) {
	work, err := os.MkdirTemp("", "segrecap-whisper-*")
	if err != nil {
		return "", failure.Wrap(failure.TranscriptionError, "transcribe", err)
	}
	defer os.RemoveAll(work)

	wavPath := filepath.Join(work, "in.wav")
	if err := a.decoder.ExtractAudioMono16k(ctx, audioPath, wavPath); err != nil {
		return "", failure.Wrap(failure.TranscriptionError, "transcribe", err)
	}

	outPrefix := filepath.Join(work, "whisper")
	args := []string{
		"-m", a.model,
		"-f", wavPath,
		"-otxt",
		"-of", outPrefix,
		"-nt",
	}
	cmd := exec.CommandContext(ctx, a.bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return "", failure.Wrap(failure.TranscriptionError, "transcribe", fmt.Errorf("whisper.cpp failed: %w\n%s", err, string(b)))
	}

	tb, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return "", failure.Wrap(failure.TranscriptionError, "transcribe", err)
	}
	return joinLines(string(tb)), nil
}

func joinLines(s string) string {
	var parts []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			parts = append(parts, ln)
		}
	}
	return strings.Join(parts, " ")
}
