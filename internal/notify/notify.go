// Package notify tells file owners that processing failed.
package notify

import (
	"context"

	"docpipe/internal/domain"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

// Failure is the payload describing a failed file.
type Failure struct {
	FileID      int64             `json:"file_id"`
	Name        string            `json:"name"`
	ContentHash string            `json:"content_hash"`
	ParseState  domain.ParseState `json:"parse_state"`
	Stage       string            `json:"stage,omitempty"`
	Reason      string            `json:"reason"`
}

// NewFailure builds the payload for f.
func NewFailure(f *domain.File, reason string) Failure {
	return Failure{
		FileID:      f.ID,
		Name:        f.Name,
		ContentHash: f.ContentHash,
		ParseState:  f.ParseState,
		Stage:       f.Meta.String(domain.MetaFailedStage),
		Reason:      reason,
	}
}

type noopNotifier struct {
	log *logger.Logger
}

// NewNoop creates a FailureNotifier that only logs.
func NewNoop(log *logger.Logger) port.FailureNotifier {
	return &noopNotifier{log: log}
}

func (n *noopNotifier) NotifyFailure(_ context.Context, f *domain.File, reason string) error {
	n.log.Info("[NOOP NOTIFY] file failed", "file_id", f.ID, "name", f.Name, "state", f.ParseState, "reason", reason)
	return nil
}
