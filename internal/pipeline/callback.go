package pipeline

import (
	"context"
	"errors"
	"fmt"

	"docpipe/internal/domain"
	"docpipe/internal/interdoc"
	"docpipe/internal/metrics"
)

// ErrorCodeColoringFailed is the parse service's code for a Word document it
// could not color; the file is re-submitted as plain PDF.
const ErrorCodeColoringFailed = 30

// CallbackInput is one parse-service callback. Byte fields are nil when the
// part was absent.
type CallbackInput struct {
	FileID      int64
	ContentHash string
	Parse       []byte
	PDF         []byte
	ReviseDocx  []byte
	OriginDocx  []byte
	ErrorCode   int
}

// HandleCallback ingests a parse result. Callbacks for files that are not in
// parsing are logged and dropped without error, so replays are no-ops.
func (o *Orchestrator) HandleCallback(ctx context.Context, in CallbackInput) error {
	if err := o.parser.Release(ctx, in.ContentHash); err != nil {
		o.log.Warn("pipeline.HandleCallback: releasing parse lock failed", "content_hash", in.ContentHash, "error", err)
	}

	f, upd, failed, err := o.applyCallback(ctx, in)
	if failed != nil {
		o.releaseSiblings(ctx, failed)
	}
	if err != nil || f == nil {
		return err
	}

	o.propagate(ctx, f, upd)
	o.spawn(f.ID, o.resumeParsed)
	return nil
}

// applyCallback returns the parsed file, or the file whose parse failed so
// its waiting siblings can be released.
func (o *Orchestrator) applyCallback(ctx context.Context, in CallbackInput) (*domain.File, domain.ArtifactUpdate, *domain.File, error) {
	var upd domain.ArtifactUpdate
	unlock := o.mu.Lock(in.FileID)
	defer unlock()

	f, err := o.files.GetByID(ctx, in.FileID)
	if err != nil {
		return nil, upd, nil, err
	}
	if f.ContentHash != in.ContentHash {
		metrics.RecordCallback("rejected")
		return nil, upd, nil, fmt.Errorf("%w: callback hash does not match file %d", domain.ErrInvalidInput, f.ID)
	}
	if f.Deleted || f.ParseState != domain.ParseStateParsing {
		metrics.RecordCallback("dropped")
		o.log.Warn("pipeline.HandleCallback: file not awaiting a parse, dropped",
			"file_id", f.ID, "state", string(f.ParseState), "deleted", f.Deleted)
		return nil, upd, nil, nil
	}

	if in.ErrorCode == ErrorCodeColoringFailed && f.IsWord() && !f.Meta.Bool(domain.MetaForceAsPDF) {
		metrics.RecordCallback("coloring_failed")
		next, err := o.transition(ctx, f, EventColoringFailed, &domain.ArtifactUpdate{
			Meta: domain.Meta{domain.MetaForceAsPDF: true},
		})
		if err != nil {
			return nil, upd, nil, err
		}
		o.queue.Requeue(next.ID, next.Priority)
		return nil, upd, nil, nil
	}

	if len(in.Parse) == 0 {
		metrics.RecordCallback("missing")
		o.fail(ctx, f, EventParseMissing, "parse_callback",
			fmt.Errorf("parse service returned no artifact (error code %d)", in.ErrorCode))
		return nil, upd, f, nil
	}

	doc, err := interdoc.Decode(in.Parse)
	switch {
	case errors.Is(err, domain.ErrOCRExpired):
		metrics.RecordCallback("ocr_expired")
		o.failWith(ctx, f, EventOCRExpired, "parse_callback", err, domain.Meta{domain.MetaOCRExpired: true})
		return nil, upd, f, nil
	case err != nil:
		metrics.RecordCallback("invalid")
		o.fail(ctx, f, EventParseInvalid, "parse_callback", err)
		return nil, upd, f, nil
	}

	upd, err = o.storeCallbackArtifacts(ctx, f, in, doc)
	if err != nil {
		return nil, upd, nil, err
	}
	next, err := o.transition(ctx, f, EventParsed, &upd)
	if err != nil {
		return nil, upd, nil, err
	}
	metrics.RecordCallback("parsed")
	return next, upd, nil, nil
}

// storeCallbackArtifacts writes the parse artifact and any PDF or docx the
// service sent, and returns the registry update describing them.
func (o *Orchestrator) storeCallbackArtifacts(ctx context.Context, f *domain.File, in CallbackInput, doc *interdoc.Document) (domain.ArtifactUpdate, error) {
	upd := domain.ArtifactUpdate{Meta: domain.Meta{}}

	parseHash, err := o.store(ctx, domain.NSParse, in.Parse)
	if err != nil {
		return upd, err
	}
	upd.ParseHash = &parseHash
	if n := len(doc.Pages); n > 0 {
		upd.PageCount = &n
	}
	if doc.OCR {
		upd.Meta[domain.MetaOCR] = true
	}
	if doc.OCRExpired {
		upd.Meta[domain.MetaOCRExpired] = true
	}

	if len(in.PDF) > 0 {
		h, err := o.store(ctx, domain.NSPDF, in.PDF)
		if err != nil {
			return upd, err
		}
		if f.TaskKind == domain.TaskScannedPDFRestore {
			upd.Meta[domain.MetaRestoredPDFHash] = h
		} else {
			upd.PDFHash = &h
		}
	}
	if len(in.ReviseDocx) > 0 {
		h, err := o.store(ctx, domain.NSDocx, in.ReviseDocx)
		if err != nil {
			return upd, err
		}
		upd.DocxHash = &h
	}
	if len(in.OriginDocx) > 0 {
		h, err := o.store(ctx, domain.NSDocx, in.OriginDocx)
		if err != nil {
			return upd, err
		}
		upd.Meta[domain.MetaOriginDocxHash] = h
	}
	return upd, nil
}

func (o *Orchestrator) store(ctx context.Context, ns domain.Namespace, data []byte) (string, error) {
	h := hashOf(data)
	if err := o.blobs.Put(ctx, h, ns, data); err != nil {
		return "", fmt.Errorf("pipeline: storing %s artifact: %w", ns, err)
	}
	return h, nil
}

// propagate copies a fresh parse onto every other live file with the same
// content that is still waiting for one. Siblings in parsing advance; the
// others pick the artifacts up when their worker runs.
func (o *Orchestrator) propagate(ctx context.Context, src *domain.File, upd domain.ArtifactUpdate) {
	siblings, err := o.files.ListSiblingsAwaitingParse(ctx, src.ContentHash, src.ID)
	if err != nil {
		o.log.Warn("pipeline.propagate: listing siblings failed", "file_id", src.ID, "error", err)
		return
	}
	sib := domain.ArtifactUpdate{
		PDFHash:   &src.PDFHash,
		ParseHash: &src.ParseHash,
		PageCount: &src.PageCount,
		Meta:      upd.Meta,
	}
	if src.DocxHash != "" {
		sib.DocxHash = &src.DocxHash
	}
	for i := range siblings {
		if siblings[i].ParseState.IsTerminal() {
			continue
		}
		o.propagateTo(ctx, siblings[i].ID, sib)
	}
}

func (o *Orchestrator) propagateTo(ctx context.Context, fileID int64, upd domain.ArtifactUpdate) {
	unlock := o.mu.Lock(fileID)
	defer unlock()

	f, err := o.files.GetByID(ctx, fileID)
	if err != nil || f.ParseHash != "" || f.Deleted {
		return
	}
	if f.ParseState != domain.ParseStateParsing {
		if err := o.files.UpdateArtifacts(ctx, f.ID, upd); err != nil {
			o.log.Warn("pipeline.propagate: update failed", "file_id", f.ID, "error", err)
		}
		return
	}
	if _, err := o.transition(ctx, f, EventParsed, &upd); err != nil {
		o.log.Warn("pipeline.propagate: transition failed", "file_id", f.ID, "error", err)
		return
	}
	o.log.Info("pipeline.propagate: sibling parsed", "file_id", f.ID, "parse_hash", *upd.ParseHash)
	o.spawn(f.ID, o.resumeParsed)
}

// releaseSiblings sends files that were waiting on src's parse back to
// caching, so one of them submits the content itself.
func (o *Orchestrator) releaseSiblings(ctx context.Context, src *domain.File) {
	siblings, err := o.files.ListSiblingsAwaitingParse(ctx, src.ContentHash, src.ID)
	if err != nil {
		o.log.Warn("pipeline.releaseSiblings: listing siblings failed", "file_id", src.ID, "error", err)
		return
	}
	for i := range siblings {
		if siblings[i].ParseState == domain.ParseStateParsing {
			o.resubmitSibling(ctx, siblings[i].ID)
		}
	}
}

func (o *Orchestrator) resubmitSibling(ctx context.Context, fileID int64) {
	unlock := o.mu.Lock(fileID)
	defer unlock()

	f, err := o.files.GetByID(ctx, fileID)
	if err != nil || f.Deleted || f.ParseHash != "" || f.ParseState != domain.ParseStateParsing {
		return
	}
	next, err := o.transition(ctx, f, EventParseOrphaned, nil)
	if err != nil {
		o.log.Warn("pipeline.releaseSiblings: transition failed", "file_id", f.ID, "error", err)
		return
	}
	o.queue.Requeue(next.ID, next.Priority)
}

// resumeParsed continues a file whose parse has landed.
func (o *Orchestrator) resumeParsed(ctx context.Context, f *domain.File) {
	if f.ParseState != domain.ParseStateParseSuccess {
		return
	}
	o.postParse(ctx, f)
}
