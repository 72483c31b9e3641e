package types

import (
	"fmt"

	"github.com/forPelevin/segrecap/internal/failure"
)

// Segment is one slice of the source timeline, in whole seconds.
type Segment struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Span renders the range the way result entries report it ("30:60").
func (s Segment) Span() string {
	return fmt.Sprintf("%d:%d", s.Start, s.End)
}

// Source is the uploaded video shared read-only by every segment pipeline.
type Source struct {
	Name string
	Data []byte
}

type Recap struct {
	Title string `json:"title"`
	Body  string `json:"content"`
}

type TranscriptionResult struct {
	Segment    Segment `json:"segment"`
	Transcript string  `json:"transcript"`
	Recap      Recap   `json:"recap"`
	AudioPath  string  `json:"audio_path"`
}

// PipelineOutcome is either a result or a failure for one segment.
type PipelineOutcome struct {
	Segment Segment
	Result  *TranscriptionResult
	Err     *failure.Error
}

func (o PipelineOutcome) OK() bool { return o.Err == nil && o.Result != nil }
