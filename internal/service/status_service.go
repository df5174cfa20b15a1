package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"docpipe/internal/domain"
	"docpipe/internal/port"
)

// Polling statuses.
const (
	StatusProcessing = "processing"
	StatusFailed     = "failed"
	StatusSuccess    = "success"
)

// SchemaStatus is the extraction progress of one attached schema.
type SchemaStatus struct {
	QuestionID   int64               `json:"question_id"`
	ExtractState domain.ExtractState `json:"extract_state"`
	LLMState     domain.ExtractState `json:"llm_state,omitempty"`
}

// StatusExtra carries the raw states behind a polling status.
type StatusExtra struct {
	ParseState domain.ParseState       `json:"parse_state"`
	Schemas    map[string]SchemaStatus `json:"schemas"`
}

// FileStatus is the polling view of a File.
type FileStatus struct {
	FileID  int64       `json:"file_id"`
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Extra   StatusExtra `json:"extra"`
	URL     string      `json:"url,omitempty"`
}

// StatusService answers status polls.
type StatusService interface {
	Get(ctx context.Context, fileID int64) (*FileStatus, error)
	GetBatch(ctx context.Context, fileIDs []int64) ([]FileStatus, error)
}

type statusService struct {
	files     port.FileRepository
	questions port.QuestionRepository
	baseURL   string
}

// NewStatusService creates a new StatusService implementation. baseURL
// prefixes the artifact links of finished conversion tasks.
func NewStatusService(files port.FileRepository, questions port.QuestionRepository, baseURL string) StatusService {
	return &statusService{files: files, questions: questions, baseURL: baseURL}
}

func (s *statusService) Get(ctx context.Context, fileID int64) (*FileStatus, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.Deleted {
		return nil, domain.ErrFileGone
	}
	qs, err := s.questions.ListByFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("status.Get: %w", err)
	}
	st := Summarize(f, qs)
	if st.Status == StatusSuccess {
		st.URL = s.resultURL(f)
	}
	return st, nil
}

// GetBatch reports every file it can; missing or deleted files are reported
// as failed with the reason in the message.
func (s *statusService) GetBatch(ctx context.Context, fileIDs []int64) ([]FileStatus, error) {
	out := make([]FileStatus, 0, len(fileIDs))
	for _, id := range fileIDs {
		st, err := s.Get(ctx, id)
		switch {
		case err == nil:
			out = append(out, *st)
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrFileGone):
			out = append(out, FileStatus{FileID: id, Status: StatusFailed, Message: err.Error()})
		default:
			return nil, err
		}
	}
	return out, nil
}

// Summarize maps parse_state and question states onto a polling status.
// A file is successful only when complete and every question has settled;
// a failed question or a recorded failure reason fails the file.
func Summarize(f *domain.File, qs []domain.Question) *FileStatus {
	st := &FileStatus{
		FileID: f.ID,
		Extra: StatusExtra{
			ParseState: f.ParseState,
			Schemas:    make(map[string]SchemaStatus, len(qs)),
		},
	}
	anyFailed, allSettled := false, true
	for _, q := range qs {
		st.Extra.Schemas[strconv.FormatInt(q.SchemaID, 10)] = SchemaStatus{
			QuestionID:   q.ID,
			ExtractState: q.ExtractState,
			LLMState:     q.LLMState,
		}
		if q.ExtractState == domain.ExtractFailed {
			anyFailed = true
		}
		if !q.ExtractState.Settled() {
			allSettled = false
		}
	}

	reason := f.Meta.String(domain.MetaFailedReason)
	switch {
	case f.ParseState.IsError():
		st.Status = StatusFailed
		st.Message = failureMessage(f.ParseState, reason)
	case reason != "":
		st.Status = StatusFailed
		st.Message = reason
	case anyFailed:
		st.Status = StatusFailed
		st.Message = "extraction failed"
	case f.ParseState == domain.ParseStateComplete && allSettled:
		st.Status = StatusSuccess
		st.Message = "ok"
	default:
		st.Status = StatusProcessing
		st.Message = string(f.ParseState)
	}
	return st
}

func failureMessage(state domain.ParseState, reason string) string {
	if reason != "" {
		return reason
	}
	switch state {
	case domain.ParseStateOCRExpired:
		return "ocr quota expired"
	case domain.ParseStateUnconfirmed:
		return "parse result could not be confirmed"
	case domain.ParseStateUnsupported:
		return "unsupported file format"
	case domain.ParseStateCancelled:
		return "cancelled"
	}
	return "processing failed"
}

// resultURL links conversion tasks to the artifact they produce.
func (s *statusService) resultURL(f *domain.File) string {
	var kind domain.ArtifactKind
	switch f.TaskKind {
	case domain.TaskPDFToWord, domain.TaskClean:
		kind = domain.ArtifactDocx
	case domain.TaskScannedPDFRestore:
		kind = domain.ArtifactScannedPDFRestore
	default:
		return ""
	}
	return fmt.Sprintf("%s/api/v1/files/%d/%s", s.baseURL, f.ID, kind)
}
