package usecase

import (
	"context"
	"time"

	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/logger"
	"github.com/forPelevin/segrecap/internal/ports"
	"github.com/forPelevin/segrecap/internal/types"
)

type Deps struct {
	Converter ports.Converter
	ASR       ports.ASR
	Recapper  ports.Recapper
	Logger    logger.Logger
}

// SegmentPipeline runs convert, transcribe and recap for one segment.
type SegmentPipeline struct{ d Deps }

func NewSegmentPipeline(d Deps) SegmentPipeline {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return SegmentPipeline{d: d}
}

// Execute never returns a partial result: the first failing stage ends the run
// and its error is tagged with the segment index. Converted audio is kept on
// disk either way.
func (p SegmentPipeline) Execute(ctx context.Context, seg types.Segment, src types.Source) types.PipelineOutcome {
	log := p.d.Logger
	started := time.Now()
	fail := func(err error, kind failure.Kind, op string) types.PipelineOutcome {
		fe := failure.As(err, kind, op)
		tagged := *fe
		tagged.Segment = seg.Index
		log.Error(ctx, "segment %d (%s): %s failed: %v", seg.Index, seg.Span(), op, err)
		return types.PipelineOutcome{Segment: seg, Err: &tagged}
	}

	log.Info(ctx, "segment %d (%s): converting", seg.Index, seg.Span())
	audio, err := p.d.Converter.Convert(ctx, seg, src)
	if err != nil {
		return fail(err, failure.ProviderError, "convert")
	}

	log.Info(ctx, "segment %d: transcribing %s", seg.Index, audio)
	transcript, err := p.d.ASR.Transcribe(ctx, audio)
	if err != nil {
		return fail(err, failure.TranscriptionError, "transcribe")
	}

	rc, err := p.d.Recapper.Recap(ctx, transcript)
	if err != nil {
		return fail(err, failure.RecapError, "recap")
	}

	log.Info(ctx, "segment %d: done in %s (%q)", seg.Index, time.Since(started).Round(time.Millisecond), rc.Title)
	return types.PipelineOutcome{
		Segment: seg,
		Result: &types.TranscriptionResult{
			Segment:    seg,
			Transcript: transcript,
			Recap:      rc,
			AudioPath:  audio,
		},
	}
}
