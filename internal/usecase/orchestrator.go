package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/segrecap/internal/domain/segments"
	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/logger"
	"github.com/forPelevin/segrecap/internal/types"
)

type Options struct {
	// SegmentLength is the planned segment size in seconds.
	SegmentLength int
	// MaxConcurrent caps in-flight segment pipelines; 0 runs all at once.
	MaxConcurrent int
	// CancelOnFailure stops sibling pipelines after the first failure.
	CancelOnFailure bool
}

type Orchestrator struct {
	pipeline SegmentPipeline
	opts     Options
	log      logger.Logger
}

func NewOrchestrator(d Deps, opts Options) *Orchestrator {
	if opts.SegmentLength <= 0 {
		opts.SegmentLength = segments.DefaultLength
	}
	if opts.MaxConcurrent < 0 {
		opts.MaxConcurrent = 0
	}
	p := NewSegmentPipeline(d)
	return &Orchestrator{pipeline: p, opts: opts, log: p.d.Logger}
}

// Run plans totalSeconds into segments and processes them concurrently. It
// returns every result in segment order, or an OrchestratorError wrapping the
// failure of the lowest-index segment that failed.
func (o *Orchestrator) Run(ctx context.Context, totalSeconds int, src types.Source) ([]types.TranscriptionResult, error) {
	if logger.RunID(ctx) == "" {
		ctx = logger.WithRunID(ctx, uuid.NewString()[:8])
	}

	plan, err := segments.Plan(totalSeconds, o.opts.SegmentLength)
	if err != nil {
		return nil, err
	}
	o.log.Info(ctx, "planned %d segments for %ds of %s", len(plan), totalSeconds, src.Name)

	outcomes := o.runAll(ctx, plan, src)

	if cause := pickFailure(outcomes, o.opts.CancelOnFailure); cause != nil {
		for _, oc := range outcomes {
			if oc.OK() {
				o.log.Info(ctx, "segment %d finished but is discarded: %q", oc.Segment.Index, oc.Result.Recap.Title)
			}
		}
		return nil, &failure.Error{
			Kind:    failure.OrchestratorError,
			Segment: cause.Segment,
			Msg:     fmt.Sprintf("segment %d of %d failed", cause.Segment, len(plan)),
			Err:     cause,
		}
	}

	results := make([]types.TranscriptionResult, len(outcomes))
	for i, oc := range outcomes {
		results[i] = *oc.Result
	}
	o.log.Info(ctx, "all %d segments completed", len(results))
	return results, nil
}

// runAll gives every pipeline its own slot, so no lock is needed.
func (o *Orchestrator) runAll(ctx context.Context, plan []types.Segment, src types.Source) []types.PipelineOutcome {
	outcomes := make([]types.PipelineOutcome, len(plan))

	g, gctx := errgroup.WithContext(ctx)
	if o.opts.MaxConcurrent > 0 {
		g.SetLimit(o.opts.MaxConcurrent)
	}
	runCtx := ctx
	if o.opts.CancelOnFailure {
		runCtx = gctx
	}

	for i, seg := range plan {
		g.Go(func() error {
			if err := runCtx.Err(); err != nil {
				outcomes[i] = types.PipelineOutcome{
					Segment: seg,
					Err:     &failure.Error{Kind: failure.ProviderError, Segment: seg.Index, Op: "start", Err: err},
				}
				return nil
			}
			oc := o.pipeline.Execute(runCtx, seg, src)
			if oc.Err == nil && oc.Result == nil {
				oc.Err = &failure.Error{Kind: failure.ProviderError, Segment: seg.Index, Msg: "pipeline returned no result"}
			}
			outcomes[i] = oc
			if oc.Err != nil && o.opts.CancelOnFailure {
				return oc.Err
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// pickFailure returns the lowest-index failure. With cancellation enabled,
// failures that only reflect that cancellation are used as a last resort.
func pickFailure(outcomes []types.PipelineOutcome, cancelMode bool) *failure.Error {
	var fallback *failure.Error
	for _, oc := range outcomes {
		if oc.Err == nil {
			continue
		}
		if cancelMode && errors.Is(oc.Err, context.Canceled) {
			if fallback == nil {
				fallback = oc.Err
			}
			continue
		}
		return oc.Err
	}
	return fallback
}
