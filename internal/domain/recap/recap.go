package recap

import (
	"strings"

	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/types"
)

const titlePrefix = "Title: "

// Prompt wraps a segment transcript in the fixed recap instruction.
func Prompt(transcript string) string {
	return "Write a recap of the following part of a video. " +
		"Start with a single line holding a short title, then describe the part in detail, scene by scene.\n\n" +
		"Transcript:\n" + strings.TrimSpace(transcript)
}

// Parse splits a generated reply into title and body. The first non-empty line
// is the title (a leading "Title: " marker is dropped); the remaining non-empty
// lines are joined with single spaces.
func Parse(content string) (types.Recap, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return types.Recap{}, failure.New(failure.MalformedResponse, "recap", "empty response")
	}

	var lines []string
	for _, ln := range strings.Split(content, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			lines = append(lines, ln)
		}
	}

	title := strings.TrimSpace(strings.TrimPrefix(lines[0], titlePrefix))
	return types.Recap{
		Title: title,
		Body:  strings.Join(lines[1:], " "),
	}, nil
}
