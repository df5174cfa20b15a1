package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("resource not found")
	ErrFileGone         = errors.New("file has been deleted")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmptyUpload      = errors.New("uploaded file is empty")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrDuplicateName    = errors.New("a file with this name already exists in the project")
	ErrQueueFull        = errors.New("ingest queue is full")
	ErrInvalidRerunMode = errors.New("invalid re-run mode")
	ErrNotReady         = errors.New("file is not ready for this operation")
	ErrSchemaNotFound   = errors.New("schema not found")
)

// ErrorKind enumerates the failure cases surfaced by the pipeline.
type ErrorKind string

const (
	KindUnsupportedFormat  ErrorKind = "unsupported_format"
	KindConversionFailed   ErrorKind = "conversion_failed"
	KindRemoteUnavailable  ErrorKind = "remote_unavailable"
	KindParseInvalid       ErrorKind = "parse_invalid"
	KindOCRExpired         ErrorKind = "ocr_expired"
	KindColoringFailed     ErrorKind = "coloring_failed"
	KindStateRejected      ErrorKind = "state_rejected"
	KindThrottled          ErrorKind = "throttled"
	KindIntegrityViolation ErrorKind = "integrity_violation"
)

// PipelineError is the error sum type of the ingestion pipeline. Match a
// case with errors.Is against the exported sentinels below.
type PipelineError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	switch {
	case e.Stage != "" && e.Err != nil:
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Stage, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Stage != "":
		return fmt.Sprintf("%s (%s)", e.Kind, e.Stage)
	}
	return string(e.Kind)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches any PipelineError of the same kind.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnsupportedFormat  = &PipelineError{Kind: KindUnsupportedFormat}
	ErrConversionFailed   = &PipelineError{Kind: KindConversionFailed}
	ErrRemoteUnavailable  = &PipelineError{Kind: KindRemoteUnavailable}
	ErrParseInvalid       = &PipelineError{Kind: KindParseInvalid}
	ErrOCRExpired         = &PipelineError{Kind: KindOCRExpired}
	ErrColoringFailed     = &PipelineError{Kind: KindColoringFailed}
	ErrStateRejected      = &PipelineError{Kind: KindStateRejected}
	ErrThrottled          = &PipelineError{Kind: KindThrottled}
	ErrIntegrityViolation = &PipelineError{Kind: KindIntegrityViolation}
)

// NewPipelineError wraps err as a pipeline failure of the given kind at stage.
func NewPipelineError(kind ErrorKind, stage string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the pipeline error kind of err, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
