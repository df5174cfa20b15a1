package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docpipe/internal/blobstore"
	"docpipe/internal/cachebuilder"
	"docpipe/internal/config"
	"docpipe/internal/dedup"
	"docpipe/internal/domain"
	"docpipe/internal/interdoc"
	"docpipe/internal/lock"
	"docpipe/internal/logger"
	"docpipe/internal/metrics"
	"docpipe/internal/parseclient"
	"docpipe/internal/port"
)

// Blobs is the slice of the content store the orchestrator reads and writes.
type Blobs interface {
	Get(ctx context.Context, hash string, ns domain.Namespace) ([]byte, error)
	Put(ctx context.Context, hash string, ns domain.Namespace, data []byte) error
}

// DedupFinder looks up reusable artifacts of identical uploads.
type DedupFinder interface {
	Lookup(ctx context.Context, fileID int64, contentHash string) (*dedup.Hit, error)
}

// CacheBuilder materializes the per-file derived cache.
type CacheBuilder interface {
	BuildPageCache(ctx context.Context, fileID int64, contentHash string, doc *interdoc.Document, force bool) (*cachebuilder.PageResult, error)
	BuildChapterCache(ctx context.Context, fileID int64, doc *interdoc.Document) (int, error)
	Invalidate(ctx context.Context, fileID int64) error
}

// Extractor fills the Questions of a parsed file.
type Extractor interface {
	Run(ctx context.Context, file *domain.File, doc *interdoc.Document, schemaIDs []int64) error
	PrepareRerun(ctx context.Context, fileID int64, schemaIDs []int64) error
}

// Auditor audits the answers of a file.
type Auditor interface {
	Run(ctx context.Context, file *domain.File) error
	RunJudge(ctx context.Context, file *domain.File) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Files     port.FileRepository
	Questions port.QuestionRepository
	Audits    port.AuditRepository
	Schemas   port.SchemaRepository
	Blobs     Blobs
	Dedup     DedupFinder
	Converter port.Converter
	Parser    port.ParseSubmitter
	Cache     CacheBuilder
	Extractor Extractor
	Auditor   Auditor
	Notifier  port.FailureNotifier
	Locker    port.Locker
}

// Config tunes the orchestrator.
type Config struct {
	Workers        int
	MaxDepth       int
	JobConcurrency int
	ConvertTimeout time.Duration
	ParseDeadline  time.Duration
	RerunLockTTL   time.Duration
	SweepInterval  time.Duration
	OCR            bool
}

// ConfigFrom collects the orchestrator settings of cfg.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Workers:        cfg.Queue.Workers,
		MaxDepth:       cfg.Queue.MaxDepth,
		JobConcurrency: cfg.Queue.JobConcurrency,
		ConvertTimeout: cfg.Pipeline.ConvertTimeout,
		ParseDeadline:  cfg.Pipeline.ParseDeadline,
		RerunLockTTL:   cfg.Pipeline.RerunLockTTL,
		SweepInterval:  cfg.Pipeline.SweepInterval,
		OCR:            cfg.Parse.OCR,
	}
}

// Orchestrator owns the parse_state machine. Every state change of a file
// happens while holding that file's mutex.
type Orchestrator struct {
	files     port.FileRepository
	questions port.QuestionRepository
	audits    port.AuditRepository
	schemas   port.SchemaRepository
	blobs     Blobs
	dedup     DedupFinder
	converter port.Converter
	parser    port.ParseSubmitter
	cache     CacheBuilder
	extractor Extractor
	auditor   Auditor
	notifier  port.FailureNotifier
	locker    port.Locker

	cfg     Config
	queue   *Queue
	jobs    *Pool
	mu      *lock.KeyedMutex
	cancels *cancelSet
	log     *logger.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New creates an Orchestrator. Call Run to start its workers.
func New(deps Deps, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ParseDeadline <= 0 {
		cfg.ParseDeadline = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		files:     deps.Files,
		questions: deps.Questions,
		audits:    deps.Audits,
		schemas:   deps.Schemas,
		blobs:     deps.Blobs,
		dedup:     deps.Dedup,
		converter: deps.Converter,
		parser:    deps.Parser,
		cache:     deps.Cache,
		extractor: deps.Extractor,
		auditor:   deps.Auditor,
		notifier:  deps.Notifier,
		locker:    deps.Locker,
		cfg:       cfg,
		queue:     NewQueue(cfg.MaxDepth),
		jobs:      NewPool(cfg.JobConcurrency),
		mu:        lock.NewKeyedMutex(),
		cancels:   newCancelSet(),
		log:       log.With("component", "pipeline"),
		base:      base,
		stop:      stop,
	}
}

// Run starts the queue workers and the deadline sweeper and blocks until ctx
// is canceled and in-flight work has stopped.
func (o *Orchestrator) Run(ctx context.Context) {
	o.log.Info("pipeline.Run: started", "workers", o.cfg.Workers, "max_depth", o.cfg.MaxDepth,
		"job_concurrency", o.cfg.JobConcurrency)
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.worker()
		}()
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.sweepLoop()
	}()

	select {
	case <-ctx.Done():
	case <-o.base.Done():
	}
	o.log.Info("pipeline.Run: shutting down, waiting for in-flight work")
	o.stop()
	o.wg.Wait()
	o.log.Info("pipeline.Run: shutdown complete")
}

// Enqueue admits a freshly created file. It returns domain.ErrQueueFull when
// the ingest queue is at its configured depth.
func (o *Orchestrator) Enqueue(f *domain.File) error {
	if err := o.queue.Push(f.ID, f.Priority); err != nil {
		return err
	}
	o.log.Debug("pipeline.Enqueue: queued", "file_id", f.ID, "priority", f.Priority, "depth", o.queue.Len())
	return nil
}

// QueueDepth returns the number of files waiting for a worker.
func (o *Orchestrator) QueueDepth() int {
	return o.queue.Len()
}

func (o *Orchestrator) worker() {
	for {
		id, err := o.queue.Pop(o.base)
		if err != nil {
			return
		}
		o.process(id)
	}
}

// process advances a dequeued file through dedup, conversion and submission.
func (o *Orchestrator) process(fileID int64) {
	ctx, done := o.cancels.track(o.base, fileID)
	defer done()
	unlock := o.mu.Lock(fileID)
	defer unlock()

	f, err := o.files.GetByID(ctx, fileID)
	if err != nil {
		o.log.Error("pipeline.process: load failed", "file_id", fileID, "error", err)
		return
	}
	if f.Deleted {
		return
	}
	switch f.ParseState {
	case domain.ParseStatePending:
		o.ingest(ctx, f)
	case domain.ParseStateCaching:
		o.convertAndSubmit(ctx, f)
	default:
		o.log.Debug("pipeline.process: nothing to do", "file_id", f.ID, "state", f.ParseState)
	}
}

func (o *Orchestrator) ingest(ctx context.Context, f *domain.File) {
	if !f.Meta.Bool(domain.MetaReparse) {
		if hit := o.lookup(ctx, f); hit != nil {
			o.completeFromHit(ctx, f, hit)
			return
		}
	}
	f, err := o.transition(ctx, f, EventDedupMiss, nil)
	if err != nil {
		o.log.Warn("pipeline.ingest: transition failed", "file_id", f.ID, "error", err)
		return
	}
	o.convertAndSubmit(ctx, f)
}

// lookup returns reusable artifacts for f. Artifacts already propagated onto
// f by a sibling's callback count as a hit regardless of the dedup window.
func (o *Orchestrator) lookup(ctx context.Context, f *domain.File) *dedup.Hit {
	if f.ParseHash != "" && f.PDFHash != "" {
		return &dedup.Hit{SourceFileID: f.ID, PDFHash: f.PDFHash, ParseHash: f.ParseHash,
			DocxHash: f.DocxHash, PageCount: f.PageCount}
	}
	hit, err := o.dedup.Lookup(ctx, f.ID, f.ContentHash)
	if err != nil {
		o.log.Warn("pipeline.lookup: dedup failed, treating as miss", "file_id", f.ID, "error", err)
		return nil
	}
	return hit
}

func (o *Orchestrator) completeFromHit(ctx context.Context, f *domain.File, hit *dedup.Hit) {
	upd := hit.Update()
	f, err := o.transition(ctx, f, EventDedupHit, &upd)
	if err != nil {
		o.log.Warn("pipeline.completeFromHit: transition failed", "file_id", f.ID, "error", err)
		return
	}
	o.log.Info("pipeline.completeFromHit: reused artifacts", "file_id", f.ID, "source_file_id", hit.SourceFileID,
		"parse_hash", f.ParseHash)

	doc, err := o.loadDoc(ctx, f)
	if err == nil {
		err = o.buildPages(ctx, f, doc, true)
	}
	if err == nil {
		err = o.buildChapters(ctx, f, doc)
	}
	if err != nil {
		if ctx.Err() == nil {
			o.recordFailure(ctx, f, "cache", err)
		}
		return
	}
	o.answer(ctx, f, doc, f.AttachedSchemas)
}

// convertAndSubmit runs from caching: convert unless a PDF already exists,
// move to parsing and submit to the parse service.
func (o *Orchestrator) convertAndSubmit(ctx context.Context, f *domain.File) {
	upd := domain.ArtifactUpdate{}
	if f.Meta.Bool(domain.MetaReparse) {
		upd.Meta = domain.Meta{domain.MetaReparse: false}
	}
	if f.PDFHash == "" {
		out, err := o.convert(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrUnsupportedFormat) {
				o.fail(ctx, f, EventUnsupported, "convert", err)
				return
			}
			o.fail(ctx, f, EventConvertFailed, "convert", err)
			return
		}
		upd.PDFHash = &out.PDFHash
		upd.PageCount = &out.Pages
	}

	f, err := o.transition(ctx, f, EventConverted, &upd)
	if err != nil {
		o.log.Warn("pipeline.convertAndSubmit: transition failed", "file_id", f.ID, "error", err)
		return
	}

	if f.ParseHash != "" {
		// a sibling's callback delivered the parse while this file converted
		f, err = o.transition(ctx, f, EventParsed, nil)
		if err != nil {
			o.log.Warn("pipeline.convertAndSubmit: transition failed", "file_id", f.ID, "error", err)
			return
		}
		o.postParse(ctx, f)
		return
	}
	o.submit(ctx, f)
}

func (o *Orchestrator) convert(ctx context.Context, f *domain.File) (*port.ConvertOutput, error) {
	data, err := o.blobs.Get(ctx, f.ContentHash, domain.NSOriginal)
	if err != nil {
		return nil, fmt.Errorf("reading original: %w", err)
	}
	var out *port.ConvertOutput
	start := time.Now()
	err = retryOnce(ctx, func() error {
		cctx := ctx
		if o.cfg.ConvertTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, o.cfg.ConvertTimeout)
			defer cancel()
		}
		var cerr error
		out, cerr = o.converter.Convert(cctx, port.ConvertInput{
			ContentHash: f.ContentHash,
			Data:        data,
			Extension:   f.Extension(),
		})
		if cerr != nil {
			o.log.Warn("pipeline.convert: attempt failed", "file_id", f.ID, "error", cerr)
		}
		return cerr
	})
	metrics.ObserveStage("convert", start)
	return out, err
}

func (o *Orchestrator) submit(ctx context.Context, f *domain.File) {
	req, err := o.submitRequest(ctx, f)
	if err != nil {
		o.fail(ctx, f, EventFail, "parse_submit", err)
		return
	}
	start := time.Now()
	submitted, err := o.parser.Submit(ctx, req)
	metrics.ObserveStage("parse_submit", start)
	switch {
	case err != nil && ctx.Err() != nil:
		return
	case isRejected(err):
		o.fail(ctx, f, EventFail, "parse_submit", err)
	case err != nil:
		// stays in parsing; the sweeper fails it once the deadline passes
		o.log.Warn("pipeline.submit: parse service unreachable", "file_id", f.ID, "error", err)
	case !submitted:
		o.log.Info("pipeline.submit: identical content in flight, awaiting its callback",
			"file_id", f.ID, "content_hash", f.ContentHash)
	default:
		o.log.Info("pipeline.submit: submitted", "file_id", f.ID, "content_hash", f.ContentHash)
	}
}

func (o *Orchestrator) submitRequest(ctx context.Context, f *domain.File) (port.SubmitRequest, error) {
	pdf, err := o.blobs.Get(ctx, f.PDFHash, domain.NSPDF)
	if err != nil {
		return port.SubmitRequest{}, fmt.Errorf("reading pdf: %w", err)
	}
	req := port.SubmitRequest{
		FileID:      f.ID,
		ContentHash: f.ContentHash,
		PDF:         pdf,
		OCR:         o.cfg.OCR || f.Meta.Bool(domain.MetaOCR),
		ReturnDocx:  f.TaskKind == domain.TaskPDFToWord || f.TaskKind == domain.TaskClean,
		Priority:    f.Priority,
	}
	for _, p := range f.Meta.Int64s(domain.MetaForceOCRPages) {
		req.ForceOCRPages = append(req.ForceOCRPages, int(p))
	}
	if f.IsWord() && !f.Meta.Bool(domain.MetaForceAsPDF) {
		if req.OriginalDocx, err = o.blobs.Get(ctx, f.ContentHash, domain.NSOriginal); err != nil {
			return port.SubmitRequest{}, fmt.Errorf("reading original: %w", err)
		}
	}
	return req, nil
}

// postParse builds the page and chapter caches of a parse_success file and
// then runs extraction and audit.
func (o *Orchestrator) postParse(ctx context.Context, f *domain.File) {
	doc, err := o.loadDoc(ctx, f)
	if err != nil {
		if ctx.Err() == nil {
			o.fail(ctx, f, EventFail, "load_parse", err)
		}
		return
	}
	if err := o.buildPages(ctx, f, doc, true); err != nil {
		if ctx.Err() == nil {
			o.fail(ctx, f, EventFail, "page_cache", err)
		}
		return
	}
	if f, err = o.transition(ctx, f, EventPageCached, nil); err != nil {
		o.log.Warn("pipeline.postParse: transition failed", "file_id", f.ID, "error", err)
		return
	}
	if err := o.buildChapters(ctx, f, doc); err != nil {
		if ctx.Err() == nil {
			o.recordFailure(ctx, f, "chapter_cache", err)
		}
		return
	}
	if f, err = o.transition(ctx, f, EventChaptersBuilt, nil); err != nil {
		o.log.Warn("pipeline.postParse: transition failed", "file_id", f.ID, "error", err)
		return
	}
	o.answer(ctx, f, doc, f.AttachedSchemas)
}

func (o *Orchestrator) loadDoc(ctx context.Context, f *domain.File) (*interdoc.Document, error) {
	if f.ParseHash == "" {
		return nil, domain.NewPipelineError(domain.KindParseInvalid, "load_parse",
			fmt.Errorf("file %d has no parse artifact", f.ID))
	}
	return Do(ctx, o.jobs, Job[*interdoc.Document]{
		Stage: "load_parse",
		Run: func(ctx context.Context) (*interdoc.Document, error) {
			data, err := o.blobs.Get(ctx, f.ParseHash, domain.NSParse)
			if err != nil {
				return nil, err
			}
			return interdoc.Decode(data)
		},
	})
}

// buildPages treats a throttled build as done: the file's cache was built
// within the cooldown.
func (o *Orchestrator) buildPages(ctx context.Context, f *domain.File, doc *interdoc.Document, force bool) error {
	return retryOnce(ctx, func() error {
		res, err := Do(ctx, o.jobs, Job[*cachebuilder.PageResult]{
			Stage: "page_cache",
			Run: func(ctx context.Context) (*cachebuilder.PageResult, error) {
				return o.cache.BuildPageCache(ctx, f.ID, f.ContentHash, doc, force)
			},
		})
		if errors.Is(err, domain.ErrThrottled) {
			o.log.Info("pipeline.buildPages: built recently, skipping", "file_id", f.ID)
			return nil
		}
		if err != nil {
			return err
		}
		o.log.Debug("pipeline.buildPages: built", "file_id", f.ID, "pages", res.Pages, "shards", res.Shards)
		return nil
	})
}

func (o *Orchestrator) buildChapters(ctx context.Context, f *domain.File, doc *interdoc.Document) error {
	return retryOnce(ctx, func() error {
		n, err := Do(ctx, o.jobs, Job[int]{
			Stage: "chapter_cache",
			Run: func(ctx context.Context) (int, error) {
				return o.cache.BuildChapterCache(ctx, f.ID, doc)
			},
		})
		if err == nil {
			o.log.Debug("pipeline.buildChapters: built", "file_id", f.ID, "chapters", n)
		}
		return err
	})
}

// answer extracts schemaIDs and re-audits the file. Extraction and audit
// failures are recorded on the Questions, never on parse_state.
func (o *Orchestrator) answer(ctx context.Context, f *domain.File, doc *interdoc.Document, schemaIDs []int64) {
	if len(schemaIDs) == 0 {
		return
	}
	_, err := Do(ctx, o.jobs, Job[struct{}]{
		Stage: "extract",
		Run: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.extractor.Run(ctx, f, doc, schemaIDs)
		},
	})
	if err != nil {
		o.log.Warn("pipeline.answer: extraction interrupted", "file_id", f.ID, "error", err)
		return
	}
	o.runAudit(ctx, f)
}

func (o *Orchestrator) runAudit(ctx context.Context, f *domain.File) {
	start := time.Now()
	err := o.auditor.Run(ctx, f)
	metrics.ObserveStage("audit", start)
	switch {
	case errors.Is(err, domain.ErrNotReady):
		o.log.Info("pipeline.runAudit: skipped, questions unsettled", "file_id", f.ID)
	case err != nil:
		o.log.Warn("pipeline.runAudit: audit failed", "file_id", f.ID, "error", err)
	}
}

// transition applies ev to f through the repository.
func (o *Orchestrator) transition(ctx context.Context, f *domain.File, ev Event, upd *domain.ArtifactUpdate) (*domain.File, error) {
	t := TransitionFor(ev)
	t.Update = upd
	return o.apply(ctx, f, ev, t)
}

func (o *Orchestrator) apply(ctx context.Context, f *domain.File, ev Event, t port.Transition) (*domain.File, error) {
	from := f.ParseState
	next, err := o.files.Transition(context.WithoutCancel(ctx), f.ID, t)
	if err != nil {
		return f, err
	}
	metrics.RecordTransition(string(from), string(next.ParseState))
	o.log.Info("pipeline: state changed", "file_id", f.ID, "event", string(ev),
		"from", string(from), "to", string(next.ParseState))
	return next, nil
}

// fail moves f to the failure state of ev and notifies the owner.
func (o *Orchestrator) fail(ctx context.Context, f *domain.File, ev Event, stage string, cause error) {
	o.failWith(ctx, f, ev, stage, cause, nil)
}

func (o *Orchestrator) failWith(ctx context.Context, f *domain.File, ev Event, stage string, cause error, meta domain.Meta) {
	reason := cause.Error()
	upd := domain.ArtifactUpdate{Meta: domain.Meta{
		domain.MetaFailedReason: reason,
		domain.MetaFailedStage:  stage,
	}.Merge(meta)}
	next, err := o.transition(ctx, f, ev, &upd)
	if err != nil {
		o.log.Warn("pipeline.fail: transition failed", "file_id", f.ID, "stage", stage, "cause", reason, "error", err)
		return
	}
	o.log.Warn("pipeline.fail: file failed", "file_id", f.ID, "stage", stage, "state", string(next.ParseState),
		"reason", reason)
	o.notify(ctx, next, reason)
}

// recordFailure notes a failure that leaves parse_state where it is.
func (o *Orchestrator) recordFailure(ctx context.Context, f *domain.File, stage string, cause error) {
	reason := cause.Error()
	err := o.files.UpdateArtifacts(context.WithoutCancel(ctx), f.ID, domain.ArtifactUpdate{Meta: domain.Meta{
		domain.MetaFailedReason: reason,
		domain.MetaFailedStage:  stage,
	}})
	if err != nil {
		o.log.Error("pipeline.recordFailure: update failed", "file_id", f.ID, "error", err)
	}
	o.log.Warn("pipeline.recordFailure: stage failed", "file_id", f.ID, "stage", stage,
		"state", string(f.ParseState), "reason", reason)
	o.notify(ctx, f, reason)
}

func (o *Orchestrator) notify(ctx context.Context, f *domain.File, reason string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.NotifyFailure(context.WithoutCancel(ctx), f, reason); err != nil {
		o.log.Warn("pipeline.notify: notification failed", "file_id", f.ID, "error", err)
	}
}

// spawn runs fn on a file in the background, holding its mutex.
func (o *Orchestrator) spawn(fileID int64, fn func(ctx context.Context, f *domain.File)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, done := o.cancels.track(o.base, fileID)
		defer done()
		unlock := o.mu.Lock(fileID)
		defer unlock()

		f, err := o.files.GetByID(ctx, fileID)
		if err != nil {
			o.log.Error("pipeline.spawn: load failed", "file_id", fileID, "error", err)
			return
		}
		if f.Deleted || f.ParseState == domain.ParseStateCancelled {
			return
		}
		fn(ctx, f)
	}()
}

func hashOf(data []byte) string {
	return blobstore.HashBytes(data)
}

func isRejected(err error) bool {
	return errors.Is(err, parseclient.ErrRejected)
}

// cancelSet tracks the cancel functions of running per-file work.
type cancelSet struct {
	mu     sync.Mutex
	next   uint64
	byFile map[int64]map[uint64]context.CancelFunc
}

func newCancelSet() *cancelSet {
	return &cancelSet{byFile: make(map[int64]map[uint64]context.CancelFunc)}
}

func (c *cancelSet) track(parent context.Context, fileID int64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.next++
	token := c.next
	if c.byFile[fileID] == nil {
		c.byFile[fileID] = make(map[uint64]context.CancelFunc)
	}
	c.byFile[fileID][token] = cancel
	c.mu.Unlock()

	return ctx, func() {
		cancel()
		c.mu.Lock()
		delete(c.byFile[fileID], token)
		if len(c.byFile[fileID]) == 0 {
			delete(c.byFile, fileID)
		}
		c.mu.Unlock()
	}
}

func (c *cancelSet) cancel(fileID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, cancel := range c.byFile[fileID] {
		cancel()
		n++
	}
	return n
}
