package types

import "github.com/samber/lo"

// Entry is the JSON shape of one segment in upload responses and CLI output.
type Entry struct {
	Part          int    `json:"part"`
	TimeDuration  string `json:"time duration"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
	Transcript    string `json:"transcript"`
	Transcription Recap  `json:"transcription"`
	AudioPath     string `json:"audioPath,omitempty"`
}

// Entries keeps the order of results; a nil input yields an empty, non-nil slice.
func Entries(results []TranscriptionResult) []Entry {
	return lo.Map(results, func(r TranscriptionResult, _ int) Entry {
		return Entry{
			Part:          r.Segment.Index,
			TimeDuration:  r.Segment.Span(),
			Start:         r.Segment.Start,
			End:           r.Segment.End,
			Transcript:    r.Transcript,
			Transcription: r.Recap,
			AudioPath:     r.AudioPath,
		}
	})
}
