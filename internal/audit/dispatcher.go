package audit

import (
	"context"
	"fmt"

	"docpipe/internal/domain"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

// Dispatcher runs the rule audit and the LLM judge for a file.
type Dispatcher struct {
	questions     port.QuestionRepository
	audits        port.AuditRepository
	schemas       port.SchemaRepository
	engine        *Engine
	judge         *Judge
	presetEnabled bool
	log           *logger.Logger
}

// NewDispatcher creates a Dispatcher. presetEnabled adds a second rule audit
// over the preset answers.
func NewDispatcher(
	questions port.QuestionRepository,
	audits port.AuditRepository,
	schemas port.SchemaRepository,
	engine *Engine,
	judge *Judge,
	presetEnabled bool,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		questions:     questions,
		audits:        audits,
		schemas:       schemas,
		engine:        engine,
		judge:         judge,
		presetEnabled: presetEnabled,
		log:           log,
	}
}

// Run replaces every audit row of file. It returns domain.ErrNotReady while
// any Question is still unsettled.
func (d *Dispatcher) Run(ctx context.Context, file *domain.File) error {
	qs, err := d.settledQuestions(ctx, file.ID)
	if err != nil {
		return err
	}
	if err := d.audits.DeleteByFile(ctx, file.ID, nil); err != nil {
		return fmt.Errorf("audit.Run: %w", err)
	}

	var results []domain.AuditResult
	for i := range qs {
		q := &qs[i]
		if q.ExtractState != domain.ExtractDone {
			continue
		}
		schema, err := d.schemas.GetByID(ctx, q.SchemaID)
		if err != nil {
			d.log.Warn("audit.Run: schema lookup failed", "file_id", file.ID, "schema_id", q.SchemaID, "error", err)
			continue
		}
		rules, err := d.audits.ListRules(ctx, q.SchemaID)
		if err != nil {
			return fmt.Errorf("audit.Run: %w", err)
		}
		results = append(results, d.engine.Audit(q, schema, rules, domain.OriginFinal)...)
		if d.presetEnabled {
			results = append(results, d.engine.Audit(q, schema, rules, domain.OriginPreset)...)
		}
	}
	if err := d.audits.CreateResults(ctx, results); err != nil {
		return fmt.Errorf("audit.Run: %w", err)
	}
	d.log.Info("audit.Run: rule audit stored", "file_id", file.ID, "results", len(results))

	if file.Scenario != nil && *file.Scenario != "" {
		return d.judgeQuestions(ctx, file, qs)
	}
	return nil
}

// RunJudge replaces only the LLM audit rows of file.
func (d *Dispatcher) RunJudge(ctx context.Context, file *domain.File) error {
	if file.Scenario == nil || *file.Scenario == "" {
		return nil
	}
	qs, err := d.settledQuestions(ctx, file.ID)
	if err != nil {
		return err
	}
	kind := domain.AuditKindLLM
	if err := d.audits.DeleteByFile(ctx, file.ID, &kind); err != nil {
		return fmt.Errorf("audit.RunJudge: %w", err)
	}
	return d.judgeQuestions(ctx, file, qs)
}

func (d *Dispatcher) settledQuestions(ctx context.Context, fileID int64) ([]domain.Question, error) {
	qs, err := d.questions.ListByFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("audit: listing questions: %w", err)
	}
	for _, q := range qs {
		if !q.ExtractState.Settled() {
			return nil, fmt.Errorf("audit: question %d is %s: %w", q.ID, q.ExtractState, domain.ErrNotReady)
		}
	}
	return qs, nil
}

func (d *Dispatcher) judgeQuestions(ctx context.Context, file *domain.File, qs []domain.Question) error {
	for i := range qs {
		q := &qs[i]
		if q.ExtractState != domain.ExtractDone {
			continue
		}
		if !d.judge.Enabled() {
			if err := d.questions.SetLLMState(ctx, q.ID, domain.ExtractDisabled); err != nil {
				return fmt.Errorf("audit.judge: %w", err)
			}
			continue
		}
		if err := d.questions.SetLLMState(ctx, q.ID, domain.ExtractRunning); err != nil {
			return fmt.Errorf("audit.judge: %w", err)
		}
		state := domain.ExtractDone
		schema, err := d.schemas.GetByID(ctx, q.SchemaID)
		var results []domain.AuditResult
		if err == nil {
			results, err = d.judge.Judge(ctx, *file.Scenario, q, schema)
		}
		if err == nil {
			err = d.audits.CreateResults(ctx, results)
		}
		if err != nil {
			d.log.Warn("audit.judge: judging failed", "file_id", file.ID, "schema_id", q.SchemaID, "error", err)
			state = domain.ExtractFailed
		}
		if err := d.questions.SetLLMState(context.WithoutCancel(ctx), q.ID, state); err != nil {
			return fmt.Errorf("audit.judge: %w", err)
		}
	}
	return ctx.Err()
}
