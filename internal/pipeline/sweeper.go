package pipeline

import (
	"context"
	"fmt"
	"time"

	"docpipe/internal/domain"
)

func (o *Orchestrator) sweepLoop() {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.base.Done():
			return
		case <-ticker.C:
			o.Sweep(o.base)
		}
	}
}

// Sweep fails files whose parse callback did not arrive within the parse
// deadline and returns how many it failed.
func (o *Orchestrator) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-o.cfg.ParseDeadline)
	stuck, err := o.files.ListStuck(ctx, domain.ParseStateParsing, cutoff)
	if err != nil {
		o.log.Error("pipeline.Sweep: listing stuck files failed", "error", err)
		return 0
	}
	n := 0
	for i := range stuck {
		if o.expire(ctx, stuck[i].ID, cutoff) {
			n++
		}
	}
	if n > 0 {
		o.log.Warn("pipeline.Sweep: expired parses", "files", n)
	}
	return n
}

func (o *Orchestrator) expire(ctx context.Context, fileID int64, cutoff time.Time) bool {
	unlock := o.mu.Lock(fileID)
	defer unlock()

	f, err := o.files.GetByID(ctx, fileID)
	if err != nil || f.ParseState != domain.ParseStateParsing || !f.UpdatedAt.Before(cutoff) {
		return false
	}
	if err := o.parser.Release(ctx, f.ContentHash); err != nil {
		o.log.Warn("pipeline.Sweep: releasing parse lock failed", "file_id", f.ID, "error", err)
	}
	o.fail(ctx, f, EventFail, "parse_deadline",
		fmt.Errorf("no parse callback within %s", o.cfg.ParseDeadline))
	return true
}

// Recover re-admits work interrupted by a restart: files still pending or
// caching are queued again and landed parses resume their cache build.
func (o *Orchestrator) Recover(ctx context.Context) error {
	queued, err := o.files.ListByState(ctx, []domain.ParseState{domain.ParseStatePending, domain.ParseStateCaching}, 0)
	if err != nil {
		return fmt.Errorf("pipeline.Recover: %w", err)
	}
	for i := range queued {
		o.queue.Requeue(queued[i].ID, queued[i].Priority)
	}
	parsed, err := o.files.ListByState(ctx, []domain.ParseState{domain.ParseStateParseSuccess}, 0)
	if err != nil {
		return fmt.Errorf("pipeline.Recover: %w", err)
	}
	for i := range parsed {
		o.spawn(parsed[i].ID, o.resumeParsed)
	}
	o.log.Info("pipeline.Recover: resumed", "queued", len(queued), "parsed", len(parsed))
	return nil
}
