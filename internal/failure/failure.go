package failure

import (
	"errors"
	"fmt"
)

// Kind classifies where and why a segment run failed.
type Kind string

const (
	InvalidInput       Kind = "InvalidInput"
	ProviderError      Kind = "ProviderError"
	UploadError        Kind = "UploadError"
	ConversionFailed   Kind = "ConversionFailed"
	PollTimeout        Kind = "PollTimeout"
	DownloadError      Kind = "DownloadError"
	TranscriptionError Kind = "TranscriptionError"
	RecapError         Kind = "RecapError"
	MalformedResponse  Kind = "MalformedResponse"
	OrchestratorError  Kind = "OrchestratorError"
)

// Error is a kind-tagged error. Segment is 0 when the failure is not tied to
// a single segment.
type Error struct {
	Kind    Kind
	Segment int
	Op      string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := string(e.Kind)
	if e.Segment > 0 {
		s += fmt.Sprintf(" (segment %d)", e.Segment)
	}
	if e.Op != "" {
		s += " " + e.Op
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds an Error without an underlying cause.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether any *Error in err's chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}

// As coerces err into an *Error, classifying foreign errors as kind.
func As(err error, kind Kind, op string) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Wrap(kind, op, err)
}
