package ports

import (
	"context"
	"time"

	"github.com/forPelevin/segrecap/internal/types"
)

// Converter extracts one segment of the source as a local audio file.
type Converter interface {
	Convert(ctx context.Context, seg types.Segment, src types.Source) (string, error)
}

type ASR interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Recapper interface {
	Recap(ctx context.Context, transcript string) (types.Recap, error)
}

type DurationProber interface {
	ProbeDuration(ctx context.Context, inPath string) (time.Duration, error)
}
