package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"docpipe/internal/domain"
	"docpipe/internal/extractor"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

// EditItem is one edited answer field.
type EditItem struct {
	Key   string     `json:"key" binding:"required"`
	Value string     `json:"value"`
	Rows  [][]string `json:"rows,omitempty"`
}

// EditAnswerInput is the DTO for answer edits.
type EditAnswerInput struct {
	QuestionID int64
	UserID     uuid.UUID
	Items      []EditItem
	Status     domain.MarkStatus
}

// QuestionService applies user edits to answers.
type QuestionService interface {
	EditAnswer(ctx context.Context, input EditAnswerInput) (*domain.Question, error)
}

type questionService struct {
	files     port.FileRepository
	questions port.QuestionRepository
	schemas   port.SchemaRepository
	edits     port.AnswerEditRepository
	pipeline  Pipeline
	log       *logger.Logger
}

// NewQuestionService creates a new QuestionService implementation.
func NewQuestionService(
	files port.FileRepository,
	questions port.QuestionRepository,
	schemas port.SchemaRepository,
	edits port.AnswerEditRepository,
	pipeline Pipeline,
	log *logger.Logger,
) QuestionService {
	return &questionService{
		files:     files,
		questions: questions,
		schemas:   schemas,
		edits:     edits,
		pipeline:  pipeline,
		log:       log.With("component", "question"),
	}
}

// EditAnswer persists the edits, recomputes the final answer from the
// preset and every stored edit, marks the question and schedules a rule
// audit of the file.
func (s *questionService) EditAnswer(ctx context.Context, input EditAnswerInput) (*domain.Question, error) {
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: no items to edit", domain.ErrInvalidInput)
	}
	status := input.Status
	if status == "" {
		status = domain.MarkInProgress
	}

	q, err := s.questions.GetByID(ctx, input.QuestionID)
	if err != nil {
		return nil, err
	}
	f, err := s.files.GetByID(ctx, q.FileID)
	if err != nil {
		return nil, err
	}
	if f.Deleted {
		return nil, domain.ErrFileGone
	}
	if f.ParseState != domain.ParseStateComplete || !q.ExtractState.Settled() {
		return nil, fmt.Errorf("%w: question %d is %s", domain.ErrNotReady, q.ID, q.ExtractState)
	}
	schema, err := s.schemas.GetByID(ctx, q.SchemaID)
	if err != nil {
		return nil, err
	}
	for _, it := range input.Items {
		if schema.Spec.Position(it.Key) < 0 {
			return nil, fmt.Errorf("%w: %q is not a field of schema %s", domain.ErrInvalidInput, it.Key, schema.Name)
		}
	}

	for _, it := range input.Items {
		e := &domain.AnswerEdit{
			FileID:   q.FileID,
			SchemaID: q.SchemaID,
			Key:      it.Key,
			Value:    it.Value,
			Rows:     domain.Table(it.Rows),
			UserID:   input.UserID,
		}
		if err := s.edits.Create(ctx, e); err != nil {
			return nil, fmt.Errorf("question.EditAnswer: %w", err)
		}
	}
	edits, err := s.edits.ListFor(ctx, q.FileID, q.SchemaID)
	if err != nil {
		return nil, fmt.Errorf("question.EditAnswer: %w", err)
	}
	final := extractor.ApplyEdits(q.AnswerPreset, edits)
	if final.SchemaID == 0 {
		final.SchemaID = q.SchemaID
	}
	if err := s.questions.SetAnswer(ctx, q.ID, final, domain.OriginFinal); err != nil {
		return nil, fmt.Errorf("question.EditAnswer: %w", err)
	}
	if err := s.questions.AddMarker(ctx, q.ID, input.UserID.String(), status); err != nil {
		return nil, fmt.Errorf("question.EditAnswer: %w", err)
	}

	s.pipeline.Reaudit(q.FileID)
	s.log.Info("question.EditAnswer: answer edited", "question_id", q.ID, "file_id", q.FileID,
		"schema_id", q.SchemaID, "items", len(input.Items))
	return s.questions.GetByID(ctx, q.ID)
}
