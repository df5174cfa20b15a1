// Package extractor schedules schema extraction for a parsed file and writes
// the resulting answers onto its Questions.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"docpipe/internal/config"
	"docpipe/internal/domain"
	"docpipe/internal/interdoc"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

// Edit merge strategies.
const (
	MergeReapply = "reapply"
	MergeDiscard = "discard"
)

// Dispatcher runs one extractor per attached schema.
type Dispatcher struct {
	questions  port.QuestionRepository
	edits      port.AnswerEditRepository
	schemas    port.SchemaRepository
	extractors map[domain.ExtractorKind]port.Extractor
	limit      int
	timeout    time.Duration
	strategy   string
	log        *logger.Logger
}

// NewDispatcher creates a Dispatcher. extractors maps Schema.Extractor to an
// implementation; schemas whose kind is missing fail their Question.
func NewDispatcher(
	questions port.QuestionRepository,
	edits port.AnswerEditRepository,
	schemas port.SchemaRepository,
	extractors map[domain.ExtractorKind]port.Extractor,
	cfg *config.ExtractConfig,
	timeout time.Duration,
	log *logger.Logger,
) *Dispatcher {
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = 4
	}
	strategy := cfg.EditMergeStrategy
	if strategy != MergeDiscard {
		strategy = MergeReapply
	}
	return &Dispatcher{
		questions:  questions,
		edits:      edits,
		schemas:    schemas,
		extractors: extractors,
		limit:      limit,
		timeout:    timeout,
		strategy:   strategy,
		log:        log,
	}
}

// Run extracts every schema in schemaIDs for file. A failing schema marks its
// own Question failed and does not stop the others; the returned error is
// only the context's.
func (d *Dispatcher) Run(ctx context.Context, file *domain.File, doc *interdoc.Document, schemaIDs []int64) error {
	var g errgroup.Group
	g.SetLimit(d.limit)
	for _, id := range schemaIDs {
		schemaID := id
		g.Go(func() error {
			d.runOne(ctx, file, doc, schemaID)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (d *Dispatcher) runOne(ctx context.Context, file *domain.File, doc *interdoc.Document, schemaID int64) {
	log := d.log.With("file_id", file.ID, "schema_id", schemaID)

	q, err := d.questions.CreateFor(ctx, file.ID, schemaID)
	if err != nil {
		log.Error("extractor.Run: ensuring question failed", "error", err)
		return
	}

	schema, err := d.schemas.GetByID(ctx, schemaID)
	if err != nil {
		d.fail(ctx, log, q.ID, err)
		return
	}
	ex, ok := d.extractors[schema.Extractor]
	if !ok {
		d.fail(ctx, log, q.ID, fmt.Errorf("no extractor for kind %q", schema.Extractor))
		return
	}

	if err := d.questions.SetState(ctx, q.ID, domain.ExtractRunning); err != nil {
		log.Error("extractor.Run: marking running failed", "error", err)
		return
	}

	ectx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	start := time.Now()
	preset, err := ex.Extract(ectx, port.ExtractInput{File: file, Schema: schema, Doc: doc})
	if err != nil {
		d.fail(ctx, log, q.ID, err)
		return
	}
	preset.SchemaID = schemaID

	if err := d.questions.SetAnswer(ctx, q.ID, *preset, domain.OriginPreset); err != nil {
		d.fail(ctx, log, q.ID, err)
		return
	}
	edits, err := d.edits.ListFor(ctx, file.ID, schemaID)
	if err != nil {
		d.fail(ctx, log, q.ID, err)
		return
	}
	if err := d.questions.SetAnswer(ctx, q.ID, ApplyEdits(*preset, edits), domain.OriginFinal); err != nil {
		d.fail(ctx, log, q.ID, err)
		return
	}
	if err := d.questions.SetState(ctx, q.ID, domain.ExtractDone); err != nil {
		log.Error("extractor.Run: marking done failed", "error", err)
		return
	}
	log.Info("extractor.Run: schema extracted", "items", len(preset.Items), "edits", len(edits),
		"elapsed", time.Since(start).String())
}

// fail records an extraction failure. Prior answers are left in place.
func (d *Dispatcher) fail(ctx context.Context, log *logger.Logger, questionID int64, cause error) {
	log.Warn("extractor.Run: extraction failed", "question_id", questionID, "error", cause)
	if err := d.questions.SetState(context.WithoutCancel(ctx), questionID, domain.ExtractFailed); err != nil {
		log.Error("extractor.Run: marking failed failed", "error", err)
	}
}

// PrepareRerun resets the Questions of schemaIDs ahead of a predict re-run.
// Under the discard strategy persisted edits are deleted as well.
func (d *Dispatcher) PrepareRerun(ctx context.Context, fileID int64, schemaIDs []int64) error {
	for _, schemaID := range schemaIDs {
		q, err := d.questions.GetFor(ctx, fileID, schemaID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return fmt.Errorf("extractor.PrepareRerun: %w", err)
		}
		if err := d.questions.Reset(ctx, q.ID); err != nil {
			return fmt.Errorf("extractor.PrepareRerun: %w", err)
		}
		if d.strategy == MergeDiscard {
			if err := d.edits.DeleteFor(ctx, fileID, schemaID); err != nil {
				return fmt.Errorf("extractor.PrepareRerun: %w", err)
			}
		}
	}
	return nil
}

// Strategy returns the configured edit merge strategy.
func (d *Dispatcher) Strategy() string {
	return d.strategy
}
