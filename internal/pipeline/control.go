package pipeline

import (
	"context"
	"errors"
	"fmt"

	"docpipe/internal/domain"
	"docpipe/internal/lock"
	"docpipe/internal/port"
)

// AttachSchemas attaches schemaIDs to a file and creates their Questions. A
// complete file extracts the new schemas right away; any other file picks
// them up when its parse completes.
func (o *Orchestrator) AttachSchemas(ctx context.Context, fileID int64, schemaIDs []int64) (*domain.File, error) {
	found, err := o.schemas.ListByIDs(ctx, schemaIDs)
	if err != nil {
		return nil, fmt.Errorf("pipeline.AttachSchemas: %w", err)
	}
	if len(found) != len(unique(schemaIDs)) {
		return nil, domain.ErrSchemaNotFound
	}

	unlock := o.mu.Lock(fileID)
	defer unlock()

	f, err := o.live(ctx, fileID)
	if err != nil {
		return nil, err
	}
	var added []int64
	for _, id := range unique(schemaIDs) {
		if !f.AttachedSchemas.Contains(id) {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return f, nil
	}
	attached, err := o.files.AttachSchemas(ctx, fileID, added)
	if err != nil {
		return nil, fmt.Errorf("pipeline.AttachSchemas: %w", err)
	}
	f.AttachedSchemas = attached
	for _, id := range added {
		if _, err := o.questions.CreateFor(ctx, fileID, id); err != nil {
			return nil, fmt.Errorf("pipeline.AttachSchemas: %w", err)
		}
	}
	o.log.Info("pipeline.AttachSchemas: attached", "file_id", fileID, "schema_ids", added, "state", string(f.ParseState))

	if f.ParseState == domain.ParseStateComplete {
		o.spawn(fileID, func(ctx context.Context, f *domain.File) {
			o.reanswer(ctx, f, added)
		})
	}
	return f, nil
}

// DetachSchemas removes schemaIDs from a file together with their Questions
// and audit rows. Other schemas' answers and audits are untouched.
func (o *Orchestrator) DetachSchemas(ctx context.Context, fileID int64, schemaIDs []int64) (*domain.File, error) {
	unlock := o.mu.Lock(fileID)
	defer unlock()

	f, err := o.live(ctx, fileID)
	if err != nil {
		return nil, err
	}
	attached, err := o.files.DetachSchemas(ctx, fileID, schemaIDs)
	if err != nil {
		return nil, fmt.Errorf("pipeline.DetachSchemas: %w", err)
	}
	for _, id := range schemaIDs {
		if err := o.audits.DeleteBySchema(ctx, fileID, id); err != nil {
			return nil, fmt.Errorf("pipeline.DetachSchemas: %w", err)
		}
		if err := o.questions.DeleteFor(ctx, fileID, id); err != nil {
			return nil, fmt.Errorf("pipeline.DetachSchemas: %w", err)
		}
	}
	f.AttachedSchemas = attached
	o.log.Info("pipeline.DetachSchemas: detached", "file_id", fileID, "schema_ids", schemaIDs)
	return f, nil
}

// Rerun re-runs part of a file's pipeline. Re-runs of one file are throttled
// to one per rerun lock lifetime; a throttled call returns domain.ErrThrottled.
func (o *Orchestrator) Rerun(ctx context.Context, fileID int64, mode domain.RerunMode) (*domain.File, error) {
	key := lock.RerunKey(fileID)
	ok, err := o.locker.TryAcquire(ctx, key, o.cfg.RerunLockTTL)
	if err != nil {
		o.log.Warn("pipeline.Rerun: rerun lock unavailable", "file_id", fileID, "error", err)
	} else if !ok {
		return nil, domain.NewPipelineError(domain.KindThrottled, "rerun",
			fmt.Errorf("file %d was re-run recently", fileID))
	}

	f, err := o.rerun(ctx, fileID, mode)
	if err != nil {
		if relErr := o.locker.Release(context.WithoutCancel(ctx), key); relErr != nil {
			o.log.Warn("pipeline.Rerun: releasing rerun lock failed", "file_id", fileID, "error", relErr)
		}
		return nil, err
	}
	o.log.Info("pipeline.Rerun: scheduled", "file_id", fileID, "mode", string(mode))
	return f, nil
}

func (o *Orchestrator) rerun(ctx context.Context, fileID int64, mode domain.RerunMode) (*domain.File, error) {
	unlock := o.mu.Lock(fileID)
	defer unlock()

	f, err := o.live(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if mode == domain.RerunParseOnly {
		return o.reparse(ctx, f)
	}
	if f.ParseState != domain.ParseStateComplete {
		return nil, domain.NewPipelineError(domain.KindStateRejected, string(mode),
			fmt.Errorf("file %d is %s", f.ID, f.ParseState))
	}

	switch mode {
	case domain.RerunPredictOnly:
		if err := o.extractor.PrepareRerun(ctx, f.ID, f.AttachedSchemas); err != nil {
			return nil, err
		}
		if err := o.audits.DeleteByFile(ctx, f.ID, nil); err != nil {
			return nil, fmt.Errorf("pipeline.Rerun: %w", err)
		}
		o.spawn(f.ID, func(ctx context.Context, f *domain.File) {
			o.reanswer(ctx, f, f.AttachedSchemas)
		})
	case domain.RerunAuditOnly:
		o.spawn(f.ID, func(ctx context.Context, f *domain.File) {
			o.runAudit(ctx, f)
		})
	case domain.RerunJudgeOnly:
		o.spawn(f.ID, func(ctx context.Context, f *domain.File) {
			if err := o.auditor.RunJudge(ctx, f); err != nil {
				o.log.Warn("pipeline.Rerun: judge failed", "file_id", f.ID, "error", err)
			}
		})
	default:
		return nil, domain.ErrInvalidRerunMode
	}
	return f, nil
}

// reparse clears the parse, the derived cache, every answer and every audit
// and sends the file back to pending. The next run skips the dedup lookup.
func (o *Orchestrator) reparse(ctx context.Context, f *domain.File) (*domain.File, error) {
	t := TransitionFor(EventRerun)
	if err := t.Apply(&domain.File{ID: f.ID, ParseState: f.ParseState}); err != nil {
		return nil, err
	}
	if err := o.cache.Invalidate(ctx, f.ID); err != nil {
		return nil, fmt.Errorf("pipeline.Rerun: %w", err)
	}
	if err := o.extractor.PrepareRerun(ctx, f.ID, f.AttachedSchemas); err != nil {
		return nil, err
	}
	if err := o.audits.DeleteByFile(ctx, f.ID, nil); err != nil {
		return nil, fmt.Errorf("pipeline.Rerun: %w", err)
	}

	t.Reset = &port.ArtifactReset{PDFHash: true, ParseHash: true, DocxHash: true}
	t.Update = &domain.ArtifactUpdate{Meta: domain.Meta{
		domain.MetaReparse:      true,
		domain.MetaFailedReason: "",
		domain.MetaFailedStage:  "",
	}}
	next, err := o.apply(ctx, f, EventRerun, t)
	if err != nil {
		return nil, err
	}
	o.queue.Requeue(next.ID, next.Priority)
	return next, nil
}

// reanswer extracts schemaIDs of a complete file and re-audits it.
func (o *Orchestrator) reanswer(ctx context.Context, f *domain.File, schemaIDs []int64) {
	if f.ParseState != domain.ParseStateComplete {
		return
	}
	doc, err := o.loadDoc(ctx, f)
	if err != nil {
		o.log.Warn("pipeline.reanswer: loading parse failed", "file_id", f.ID, "error", err)
		return
	}
	o.answer(ctx, f, doc, schemaIDs)
}

// Reaudit schedules a rule audit of a complete file, e.g. after a user edit.
func (o *Orchestrator) Reaudit(fileID int64) {
	o.spawn(fileID, func(ctx context.Context, f *domain.File) {
		if f.ParseState == domain.ParseStateComplete {
			o.runAudit(ctx, f)
		}
	})
}

// Cancel stops a file that is still in the pipeline. Running work on it is
// interrupted and its locks are released; late callbacks are dropped. Files
// waiting on its parse are sent back to submit their own.
func (o *Orchestrator) Cancel(ctx context.Context, fileID int64) (*domain.File, error) {
	next, wasParsing, err := o.cancel(ctx, fileID)
	if err != nil {
		return next, err
	}
	if wasParsing {
		o.releaseSiblings(ctx, next)
	}
	return next, nil
}

func (o *Orchestrator) cancel(ctx context.Context, fileID int64) (*domain.File, bool, error) {
	o.cancels.cancel(fileID)
	unlock := o.mu.Lock(fileID)
	defer unlock()

	f, err := o.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, false, err
	}
	if f.ParseState.IsTerminal() {
		return f, false, domain.NewPipelineError(domain.KindStateRejected, "cancel",
			fmt.Errorf("file %d is already %s", f.ID, f.ParseState))
	}
	o.queue.Remove(fileID)
	prev := f.ParseState
	next, err := o.transition(ctx, f, EventCancel, nil)
	if err != nil {
		return nil, false, err
	}
	if prev == domain.ParseStateParsing {
		if err := o.parser.Release(ctx, f.ContentHash); err != nil {
			o.log.Warn("pipeline.Cancel: releasing parse lock failed", "file_id", fileID, "error", err)
		}
	}
	if err := o.locker.Release(ctx, lock.RerunKey(fileID)); err != nil {
		o.log.Warn("pipeline.Cancel: releasing rerun lock failed", "file_id", fileID, "error", err)
	}
	return next, prev == domain.ParseStateParsing, nil
}

// CancelProject cancels every live file of a project and returns how many
// were still in the pipeline.
func (o *Orchestrator) CancelProject(ctx context.Context, projectID int64) (int, error) {
	ids, err := o.files.ListIDsByProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("pipeline.CancelProject: %w", err)
	}
	n := 0
	for _, id := range ids {
		_, err := o.Cancel(ctx, id)
		switch {
		case err == nil:
			n++
		case errors.Is(err, domain.ErrStateRejected):
		default:
			return n, err
		}
	}
	o.log.Info("pipeline.CancelProject: cancelled", "project_id", projectID, "files", len(ids), "cancelled", n)
	return n, nil
}

func (o *Orchestrator) live(ctx context.Context, fileID int64) (*domain.File, error) {
	f, err := o.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.Deleted {
		return nil, domain.ErrFileGone
	}
	return f, nil
}

func unique(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
