package segments

import (
	"fmt"

	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/types"
)

// DefaultLength is the segment length used when none is configured.
const DefaultLength = 30

// Plan splits [0, total) into consecutive windows of length seconds. The last
// window is clamped to total, so it may be shorter than length.
func Plan(total, length int) ([]types.Segment, error) {
	if total <= 0 {
		return nil, failure.New(failure.InvalidInput, "plan", "duration must be a positive integer, got %d", total)
	}
	if length <= 0 {
		return nil, failure.New(failure.InvalidInput, "plan", "segment length must be a positive integer, got %d", length)
	}

	n := (total + length - 1) / length
	out := make([]types.Segment, 0, n)
	for i := 0; i < n; i++ {
		start := i * length
		end := min(start+length, total)
		out = append(out, types.Segment{Index: i + 1, Start: start, End: end})
	}
	return out, nil
}

// FormatTimestamp renders seconds as zero-padded HH:MM:SS. Hours are not
// wrapped at 24.
func FormatTimestamp(seconds int) (string, error) {
	if seconds < 0 {
		return "", failure.New(failure.InvalidInput, "format time", "negative offset %d", seconds)
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s), nil
}
