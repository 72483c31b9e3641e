package freeconvert

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// JobStatus is the local view of a remote conversion job.
type JobStatus string

const (
	StatusCreated    JobStatus = "created"
	StatusUploading  JobStatus = "uploading"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job tracks one remote job for the lifetime of a single Convert call.
type Job struct {
	ID          string
	Status      JobStatus
	DownloadURL string
}

func newJob(id string) *Job {
	return &Job{ID: id, Status: StatusCreated}
}

func (j *Job) transition(to JobStatus) error {
	if !canTransition(j.Status, to) {
		return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, j.Status, to)
	}
	j.Status = to
	return nil
}

func (j *Job) complete(url string) error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	j.DownloadURL = url
	return nil
}

// fail is a no-op once the job is terminal.
func (j *Job) fail() {
	if canTransition(j.Status, StatusFailed) {
		j.Status = StatusFailed
	}
}

func canTransition(from, to JobStatus) bool {
	switch from {
	case StatusCreated:
		return to == StatusUploading || to == StatusFailed
	case StatusUploading:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Remote statuses that mean the provider is still working on the job.
func remoteInProgress(status string) bool {
	switch strings.ToLower(status) {
	case "processing", "created", "uploading":
		return true
	default:
		return false
	}
}

const (
	importTask  = "import-1"
	convertTask = "convert-1"
	exportTask  = "export-1"
)

type jobSpec struct {
	Tasks map[string]taskSpec `json:"tasks"`
}

type taskSpec struct {
	Operation    string         `json:"operation"`
	Input        any            `json:"input,omitempty"`
	InputFormat  string         `json:"input_format,omitempty"`
	OutputFormat string         `json:"output_format,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
}

func buildJobSpec(inputFormat, outputFormat, cutStart, cutEnd string) jobSpec {
	return jobSpec{Tasks: map[string]taskSpec{
		importTask: {Operation: "import/upload"},
		convertTask: {
			Operation:    "convert",
			Input:        importTask,
			InputFormat:  inputFormat,
			OutputFormat: outputFormat,
			Options: map[string]any{
				"video_audio_remove": false,
				"cut_start":          cutStart,
				"cut_end":            cutEnd,
			},
		},
		exportTask: {Operation: "export/url", Input: []string{convertTask}},
	}}
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Tasks  []task `json:"tasks"`
}

type task struct {
	Name      string      `json:"name"`
	Operation string      `json:"operation"`
	Status    string      `json:"status"`
	Result    *taskResult `json:"result"`
}

type taskResult struct {
	URL  string      `json:"url"`
	Form *uploadForm `json:"form"`
}

type uploadForm struct {
	URL        string                     `json:"url"`
	Parameters map[string]json.RawMessage `json:"parameters"`
}

func (r jobResponse) task(name string) (task, bool) {
	for _, t := range r.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return task{}, false
}

func (r jobResponse) uploadTarget() (uploadForm, bool) {
	t, ok := r.task(importTask)
	if !ok || t.Result == nil || t.Result.Form == nil || t.Result.Form.URL == "" {
		return uploadForm{}, false
	}
	return *t.Result.Form, true
}

func (r jobResponse) exportURL() (string, bool) {
	t, ok := r.task(exportTask)
	if !ok || t.Result == nil || t.Result.URL == "" {
		return "", false
	}
	return t.Result.URL, true
}

// fields returns the form parameters in a stable order with their values
// rendered verbatim (strings unquoted, everything else as raw JSON text).
func (f uploadForm) fields() [][2]string {
	keys := make([]string, 0, len(f.Parameters))
	for k := range f.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		raw := f.Parameters[k]
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		out = append(out, [2]string{k, s})
	}
	return out
}
