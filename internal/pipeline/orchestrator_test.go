package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/audit"
	"docpipe/internal/blobstore"
	"docpipe/internal/cachebuilder"
	"docpipe/internal/config"
	"docpipe/internal/convert"
	"docpipe/internal/dedup"
	"docpipe/internal/domain"
	"docpipe/internal/extractor"
	"docpipe/internal/interdoc"
	"docpipe/internal/lock"
	"docpipe/internal/logger"
	"docpipe/internal/parseclient"
	"docpipe/internal/pipeline"
	"docpipe/internal/port"
	"docpipe/internal/repository/memory"
	"docpipe/internal/storage/local"
)

type fakeConverter struct {
	blobs *blobstore.Store

	mu       sync.Mutex
	calls    int
	failures []error
}

func (c *fakeConverter) Convert(ctx context.Context, in port.ConvertInput) (*port.ConvertOutput, error) {
	c.mu.Lock()
	c.calls++
	var err error
	if len(c.failures) > 0 {
		err, c.failures = c.failures[0], c.failures[1:]
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !convert.Supported(in.Extension) {
		return nil, domain.NewPipelineError(domain.KindUnsupportedFormat, "convert", errors.New("no route"))
	}
	pdf := append([]byte("%PDF-1.4 "), in.Data...)
	hash := blobstore.HashBytes(pdf)
	if in.Extension == "pdf" {
		pdf, hash = in.Data, in.ContentHash
	}
	if err := c.blobs.Put(ctx, hash, domain.NSPDF, pdf); err != nil {
		return nil, err
	}
	return &port.ConvertOutput{PDFHash: hash, Pages: 1}, nil
}

func (c *fakeConverter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeParser struct {
	mu       sync.Mutex
	reqs     []port.SubmitRequest
	attempts map[int64]int
	inflight map[string]bool
	released int
	err      error
}

func (p *fakeParser) Submit(_ context.Context, req port.SubmitRequest) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[req.FileID]++
	if p.err != nil {
		return false, p.err
	}
	if p.inflight[req.ContentHash] {
		return false, nil
	}
	p.inflight[req.ContentHash] = true
	p.reqs = append(p.reqs, req)
	return true, nil
}

func (p *fakeParser) Release(_ context.Context, hash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, hash)
	p.released++
	return nil
}

func (p *fakeParser) Attempts(fileID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[fileID]
}

func (p *fakeParser) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func (p *fakeParser) Requests() []port.SubmitRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]port.SubmitRequest(nil), p.reqs...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	reasons map[int64]string
}

func (n *recordingNotifier) NotifyFailure(_ context.Context, f *domain.File, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons[f.ID] = reason
	return nil
}

func (n *recordingNotifier) Reason(id int64) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reasons[id]
}

type harness struct {
	ctx      context.Context
	store    *memory.Store
	blobs    *blobstore.Store
	conv     *fakeConverter
	parser   *fakeParser
	notifier *recordingNotifier
	orch     *pipeline.Orchestrator
	invoice  int64
	memo     int64
}

func invoiceSchema(name string) domain.Schema {
	return domain.Schema{
		Name:      name,
		Extractor: domain.ExtractorLocal,
		Spec: domain.SchemaSpec{Fields: []domain.Field{
			{Name: "number", Type: domain.FieldText, Keywords: []string{"invoice no"}, Required: true},
			{Name: "vendor", Type: domain.FieldText},
		}},
	}
}

func newHarness(t *testing.T, run bool) *harness {
	t.Helper()
	backend, err := local.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	blobs, err := blobstore.New(backend)
	require.NoError(t, err)

	store := memory.NewStore()
	h := &harness{
		ctx:      context.Background(),
		store:    store,
		blobs:    blobs,
		conv:     &fakeConverter{blobs: blobs},
		parser:   &fakeParser{inflight: map[string]bool{}, attempts: map[int64]int{}},
		notifier: &recordingNotifier{reasons: map[int64]string{}},
	}
	h.invoice = store.AddSchema(invoiceSchema("invoice"))
	h.memo = store.AddSchema(invoiceSchema("memo"))
	for _, id := range []int64{h.invoice, h.memo} {
		store.AddRule(domain.AuditRule{SchemaID: id, RuleKey: "required", RuleName: "required", Kind: audit.KindRequired, Active: true})
	}

	log := logger.Nop()
	locker := lock.NewMemoryLocker()
	ex := extractor.NewDispatcher(store.Questions(), store.Edits(), store.Schemas(),
		map[domain.ExtractorKind]port.Extractor{domain.ExtractorLocal: extractor.NewLocal()},
		&config.ExtractConfig{Concurrency: 2}, time.Minute, log)
	aud := audit.NewDispatcher(store.Questions(), store.Audits(), store.Schemas(),
		audit.NewEngine(audit.Builtin(), log), audit.NewJudge(nil), false, log)

	h.orch = pipeline.New(pipeline.Deps{
		Files:     store.Files(),
		Questions: store.Questions(),
		Audits:    store.Audits(),
		Schemas:   store.Schemas(),
		Blobs:     blobs,
		Dedup:     dedup.NewFinder(store.Files(), blobs.Stat, 24*time.Hour),
		Converter: h.conv,
		Parser:    h.parser,
		Cache:     cachebuilder.New(blobs, locker, cachebuilder.Config{Cooldown: time.Minute}, log),
		Extractor: ex,
		Auditor:   aud,
		Notifier:  h.notifier,
		Locker:    locker,
	}, pipeline.Config{
		Workers:        2,
		MaxDepth:       10,
		JobConcurrency: 2,
		ConvertTimeout: 5 * time.Second,
		ParseDeadline:  time.Minute,
		RerunLockTTL:   time.Minute,
		SweepInterval:  time.Hour,
	}, log)

	if run {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			h.orch.Run(ctx)
			close(done)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}
	return h
}

func (h *harness) create(t *testing.T, name string, data []byte, schemaIDs ...int64) *domain.File {
	t.Helper()
	return h.createFile(t, &domain.File{Name: name, TaskKind: domain.TaskExtract}, data, schemaIDs...)
}

func (h *harness) createFile(t *testing.T, f *domain.File, data []byte, schemaIDs ...int64) *domain.File {
	t.Helper()
	f.ContentHash = blobstore.HashBytes(data)
	f.Size = int64(len(data))
	f.AttachedSchemas = domain.Int64List(schemaIDs)
	if f.Meta == nil {
		f.Meta = domain.Meta{}
	}
	require.NoError(t, h.blobs.Put(h.ctx, f.ContentHash, domain.NSOriginal, data))
	require.NoError(t, h.store.Files().Create(h.ctx, f))
	for _, id := range schemaIDs {
		_, err := h.store.Questions().CreateFor(h.ctx, f.ID, id)
		require.NoError(t, err)
	}
	return f
}

func (h *harness) upload(t *testing.T, name string, data []byte, schemaIDs ...int64) *domain.File {
	t.Helper()
	f := h.create(t, name, data, schemaIDs...)
	require.NoError(t, h.orch.Enqueue(f))
	return f
}

func (h *harness) file(t *testing.T, id int64) *domain.File {
	t.Helper()
	f, err := h.store.Files().GetByID(h.ctx, id)
	require.NoError(t, err)
	return f
}

func (h *harness) waitState(t *testing.T, id int64, state domain.ParseState) *domain.File {
	t.Helper()
	require.Eventually(t, func() bool {
		f, err := h.store.Files().GetByID(h.ctx, id)
		return err == nil && f.ParseState == state
	}, 5*time.Second, 5*time.Millisecond, "file %d never reached %s", id, state)
	return h.file(t, id)
}

func (h *harness) waitAnswered(t *testing.T, fileID int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		qs, err := h.store.Questions().ListByFile(h.ctx, fileID)
		if err != nil || len(qs) == 0 {
			return false
		}
		for _, q := range qs {
			if q.ExtractState != domain.ExtractDone {
				return false
			}
		}
		res, err := h.store.Audits().ListByFile(h.ctx, fileID)
		return err == nil && len(res) > 0
	}, 5*time.Second, 5*time.Millisecond)
}

// waitSubmitted waits until the worker has made n submit attempts for a file,
// so a test callback cannot overtake the submission.
func (h *harness) waitSubmitted(t *testing.T, fileID int64, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.parser.Attempts(fileID) >= n }, 5*time.Second, 5*time.Millisecond)
}

func (h *harness) waitRequests(t *testing.T, n int) []port.SubmitRequest {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.parser.Requests()) == n }, 5*time.Second, 5*time.Millisecond)
	return h.parser.Requests()
}

func parseArtifact(t *testing.T, text string) []byte {
	t.Helper()
	data, err := json.Marshal(interdoc.Document{
		Pages: []interdoc.Page{{Page: 0, Width: 595, Height: 842}, {Page: 1, Width: 595, Height: 842}},
		Elements: []interdoc.Element{
			{Index: 0, Type: interdoc.ElementParagraph, Page: 0, Text: text},
			{Index: 1, Type: interdoc.ElementParagraph, Page: 1, Text: "Vendor: Acme"},
		},
		Syllabuses: []interdoc.Syllabus{{Index: 0, Parent: -1, Title: "Invoice", Level: 1}},
	})
	require.NoError(t, err)
	return data
}

func (h *harness) callback(t *testing.T, f *domain.File, in pipeline.CallbackInput) {
	t.Helper()
	in.FileID, in.ContentHash = f.ID, f.ContentHash
	require.NoError(t, h.orch.HandleCallback(h.ctx, in))
}

func (h *harness) complete(t *testing.T, name string, data []byte, schemaIDs ...int64) *domain.File {
	t.Helper()
	f := h.upload(t, name, data, schemaIDs...)
	h.waitSubmitted(t, f.ID, 1)
	h.callback(t, f, pipeline.CallbackInput{Parse: parseArtifact(t, "Invoice No: INV-42")})
	f = h.waitState(t, f.ID, domain.ParseStateComplete)
	if len(schemaIDs) > 0 {
		h.waitAnswered(t, f.ID)
	}
	return f
}

func TestPipeline_FullRun(t *testing.T) {
	h := newHarness(t, true)
	f := h.complete(t, "a.pdf", []byte("%PDF-1.4 invoice"), h.invoice)

	assert.NotEmpty(t, f.ParseHash)
	assert.Equal(t, f.ContentHash, f.PDFHash)
	assert.Equal(t, 2, f.PageCount)

	reqs := h.parser.Requests()
	require.Len(t, reqs, 1)
	assert.Nil(t, reqs[0].OriginalDocx)

	q, err := h.store.Questions().GetFor(h.ctx, f.ID, h.invoice)
	require.NoError(t, err)
	item, ok := q.Answer.Item("number")
	require.True(t, ok)
	assert.Equal(t, "INV-42", item.Value)

	for _, name := range []string{cachebuilder.PageInfo, cachebuilder.ChapterInfo, cachebuilder.SearchString} {
		exists, err := h.blobs.CacheExists(h.ctx, f.ID, name)
		require.NoError(t, err)
		assert.True(t, exists, name)
	}
}

func TestPipeline_DedupHitSkipsRemoteParse(t *testing.T) {
	h := newHarness(t, true)
	data := []byte("%PDF-1.4 same bytes")
	first := h.complete(t, "A.pdf", data, h.invoice)

	second := h.upload(t, "A-copy.pdf", data, h.invoice)
	second = h.waitState(t, second.ID, domain.ParseStateComplete)
	h.waitAnswered(t, second.ID)

	assert.Len(t, h.parser.Requests(), 1)
	assert.Equal(t, first.ParseHash, second.ParseHash)
	assert.Equal(t, first.PDFHash, second.PDFHash)
	assert.Equal(t, 1, h.conv.Calls())

	q, err := h.store.Questions().GetFor(h.ctx, second.ID, h.invoice)
	require.NoError(t, err)
	assert.Equal(t, domain.ExtractDone, q.ExtractState)
}

func TestPipeline_ColoringFailureResubmitsAsPDF(t *testing.T) {
	h := newHarness(t, true)
	f := h.upload(t, "memo.docx", []byte("PK docx bytes"), h.invoice)
	h.waitState(t, f.ID, domain.ParseStateParsing)

	reqs := h.waitRequests(t, 1)
	assert.NotNil(t, reqs[0].OriginalDocx)

	h.callback(t, f, pipeline.CallbackInput{ErrorCode: pipeline.ErrorCodeColoringFailed})

	reqs = h.waitRequests(t, 2)
	assert.Nil(t, reqs[1].OriginalDocx)
	f = h.waitState(t, f.ID, domain.ParseStateParsing)
	assert.True(t, f.Meta.Bool(domain.MetaForceAsPDF))
	assert.Equal(t, 1, h.conv.Calls())

	h.callback(t, f, pipeline.CallbackInput{Parse: parseArtifact(t, "Invoice No: M-1")})
	h.waitState(t, f.ID, domain.ParseStateComplete)
	h.waitAnswered(t, f.ID)
}

func TestPipeline_CallbackOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		in    func(t *testing.T) pipeline.CallbackInput
		state domain.ParseState
	}{
		{
			name:  "missing artifact",
			in:    func(*testing.T) pipeline.CallbackInput { return pipeline.CallbackInput{ErrorCode: 7} },
			state: domain.ParseStateFailed,
		},
		{
			name: "empty document",
			in: func(*testing.T) pipeline.CallbackInput {
				return pipeline.CallbackInput{Parse: []byte(`{"pages":[],"elements":[{"type":"paragraph","fragment":true}]}`)}
			},
			state: domain.ParseStateUnconfirmed,
		},
		{
			name: "ocr expired",
			in: func(*testing.T) pipeline.CallbackInput {
				return pipeline.CallbackInput{Parse: []byte(`{"pages":[{"page":0}],"elements":[],"ocr":true,"ocr_expired":true}`)}
			},
			state: domain.ParseStateOCRExpired,
		},
		{
			name: "coloring failure on a pdf",
			in: func(*testing.T) pipeline.CallbackInput {
				return pipeline.CallbackInput{ErrorCode: pipeline.ErrorCodeColoringFailed}
			},
			state: domain.ParseStateFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			f := h.upload(t, "x.pdf", []byte("%PDF "+tt.name))
			h.waitSubmitted(t, f.ID, 1)

			h.callback(t, f, tt.in(t))
			f = h.waitState(t, f.ID, tt.state)
			assert.NotEmpty(t, f.Meta.String(domain.MetaFailedReason))
			assert.Equal(t, "parse_callback", f.Meta.String(domain.MetaFailedStage))
			assert.NotEmpty(t, h.notifier.Reason(f.ID))
			if tt.state == domain.ParseStateOCRExpired {
				assert.True(t, f.Meta.Bool(domain.MetaOCRExpired))
			}
		})
	}
}

func TestPipeline_CallbackForWrongStateIsDropped(t *testing.T) {
	h := newHarness(t, true)
	f := h.complete(t, "a.pdf", []byte("%PDF-1.4 replay"), h.invoice)
	released := h.parser.Released()

	h.callback(t, f, pipeline.CallbackInput{Parse: parseArtifact(t, "Invoice No: OTHER")})

	after := h.file(t, f.ID)
	assert.Equal(t, domain.ParseStateComplete, after.ParseState)
	assert.Equal(t, f.ParseHash, after.ParseHash)
	assert.Equal(t, released+1, h.parser.Released())
}

func TestPipeline_CallbackHashMismatch(t *testing.T) {
	h := newHarness(t, true)
	f := h.upload(t, "a.pdf", []byte("%PDF-1.4 mismatch"))
	h.waitState(t, f.ID, domain.ParseStateParsing)

	err := h.orch.HandleCallback(h.ctx, pipeline.CallbackInput{FileID: f.ID, ContentHash: "deadbeef", Parse: parseArtifact(t, "x")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.ParseStateParsing, h.file(t, f.ID).ParseState)
}

func TestPipeline_CallbackStoresExtraArtifacts(t *testing.T) {
	h := newHarness(t, true)
	f := h.createFile(t, &domain.File{Name: "scan.pdf", TaskKind: domain.TaskScannedPDFRestore}, []byte("%PDF-1.4 scanned"))
	require.NoError(t, h.orch.Enqueue(f))
	h.waitSubmitted(t, f.ID, 1)

	h.callback(t, f, pipeline.CallbackInput{
		Parse:      parseArtifact(t, "restored"),
		PDF:        []byte("%PDF restored"),
		ReviseDocx: []byte("revised docx"),
		OriginDocx: []byte("origin docx"),
	})
	got := h.waitState(t, f.ID, domain.ParseStateComplete)

	// the restored PDF does not replace the one the parse was made from
	assert.Equal(t, f.ContentHash, got.PDFHash)
	assert.Equal(t, blobstore.HashBytes([]byte("%PDF restored")), got.Meta.String(domain.MetaRestoredPDFHash))
	assert.Equal(t, blobstore.HashBytes([]byte("revised docx")), got.DocxHash)
	assert.Equal(t, blobstore.HashBytes([]byte("origin docx")), got.Meta.String(domain.MetaOriginDocxHash))
	ok, err := h.blobs.Exists(h.ctx, got.DocxHash, domain.NSDocx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPipeline_SiblingsShareOneParse(t *testing.T) {
	h := newHarness(t, true)
	data := []byte("%PDF-1.4 twins")
	a := h.upload(t, "a.pdf", data, h.invoice)
	b := h.upload(t, "b.pdf", data, h.invoice)
	h.waitSubmitted(t, a.ID, 1)
	h.waitSubmitted(t, b.ID, 1)

	reqs := h.waitRequests(t, 1)
	owner := a
	if reqs[0].FileID == b.ID {
		owner = b
	}
	h.callback(t, owner, pipeline.CallbackInput{Parse: parseArtifact(t, "Invoice No: T-1")})

	fa := h.waitState(t, a.ID, domain.ParseStateComplete)
	fb := h.waitState(t, b.ID, domain.ParseStateComplete)
	assert.Equal(t, fa.ParseHash, fb.ParseHash)
	h.waitAnswered(t, a.ID)
	h.waitAnswered(t, b.ID)
	assert.Len(t, h.parser.Requests(), 1)
}

// twins uploads two files with the same bytes and returns the one whose
// submission reached the parse service first.
func (h *harness) twins(t *testing.T, data []byte) (owner, waiter *domain.File) {
	t.Helper()
	a := h.upload(t, "a.pdf", data, h.invoice)
	b := h.upload(t, "b.pdf", data, h.invoice)
	h.waitSubmitted(t, a.ID, 1)
	h.waitSubmitted(t, b.ID, 1)
	reqs := h.waitRequests(t, 1)
	if reqs[0].FileID == b.ID {
		return b, a
	}
	return a, b
}

func TestPipeline_FailedParseResubmitsWaitingSibling(t *testing.T) {
	h := newHarness(t, true)
	owner, waiter := h.twins(t, []byte("%PDF-1.4 orphan"))

	h.callback(t, owner, pipeline.CallbackInput{})
	h.waitState(t, owner.ID, domain.ParseStateFailed)

	reqs := h.waitRequests(t, 2)
	assert.Equal(t, waiter.ID, reqs[1].FileID)
	h.waitState(t, waiter.ID, domain.ParseStateParsing)

	h.callback(t, waiter, pipeline.CallbackInput{Parse: parseArtifact(t, "Invoice No: O-1")})
	h.waitState(t, waiter.ID, domain.ParseStateComplete)
	assert.Equal(t, domain.ParseStateFailed, h.file(t, owner.ID).ParseState)
}

func TestPipeline_CancelResubmitsWaitingSibling(t *testing.T) {
	h := newHarness(t, true)
	owner, waiter := h.twins(t, []byte("%PDF-1.4 cancelled twin"))

	_, err := h.orch.Cancel(h.ctx, owner.ID)
	require.NoError(t, err)

	reqs := h.waitRequests(t, 2)
	assert.Equal(t, waiter.ID, reqs[1].FileID)

	// the cancelled file's late callback changes nothing
	h.callback(t, owner, pipeline.CallbackInput{Parse: parseArtifact(t, "late")})
	assert.Equal(t, domain.ParseStateCancelled, h.file(t, owner.ID).ParseState)

	h.callback(t, waiter, pipeline.CallbackInput{Parse: parseArtifact(t, "Invoice No: C-1")})
	h.waitState(t, waiter.ID, domain.ParseStateComplete)
}

func TestPipeline_Unsupported(t *testing.T) {
	h := newHarness(t, true)
	f := h.upload(t, "tool.exe", []byte("MZ"))
	f = h.waitState(t, f.ID, domain.ParseStateUnsupported)
	assert.Equal(t, "convert", f.Meta.String(domain.MetaFailedStage))
	assert.Equal(t, 1, h.conv.Calls())
	assert.Empty(t, h.parser.Requests())
}

func TestPipeline_ConversionRetriedOnce(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		h := newHarness(t, true)
		h.conv.failures = []error{errors.New("soffice crashed")}
		f := h.upload(t, "a.docx", []byte("docx"))
		h.waitState(t, f.ID, domain.ParseStateParsing)
		assert.Equal(t, 2, h.conv.Calls())
	})
	t.Run("gives up", func(t *testing.T) {
		h := newHarness(t, true)
		h.conv.failures = []error{errors.New("one"), errors.New("two")}
		f := h.upload(t, "a.docx", []byte("docx"))
		f = h.waitState(t, f.ID, domain.ParseStateFailed)
		assert.Equal(t, 2, h.conv.Calls())
		assert.Contains(t, f.Meta.String(domain.MetaFailedReason), "two")
		assert.NotEmpty(t, h.notifier.Reason(f.ID))
	})
}

func TestPipeline_SubmitErrors(t *testing.T) {
	t.Run("rejected fails the file", func(t *testing.T) {
		h := newHarness(t, true)
		h.parser.err = domain.NewPipelineError(domain.KindRemoteUnavailable, "parse_submit",
			fmt.Errorf("%w: status 400: bad pdf", parseclient.ErrRejected))
		f := h.upload(t, "a.pdf", []byte("%PDF rejected"))
		f = h.waitState(t, f.ID, domain.ParseStateFailed)
		assert.Equal(t, "parse_submit", f.Meta.String(domain.MetaFailedStage))
	})
	t.Run("transport failure waits for the sweeper", func(t *testing.T) {
		h := newHarness(t, true)
		h.parser.err = domain.NewPipelineError(domain.KindRemoteUnavailable, "parse_submit", errors.New("connection refused"))
		f := h.upload(t, "a.pdf", []byte("%PDF unreachable"))
		h.waitState(t, f.ID, domain.ParseStateParsing)

		assert.Equal(t, 0, h.orch.Sweep(h.ctx))
		h.store.Age(f.ID, 2*time.Minute)
		assert.Equal(t, 1, h.orch.Sweep(h.ctx))

		f = h.file(t, f.ID)
		assert.Equal(t, domain.ParseStateFailed, f.ParseState)
		assert.Equal(t, "parse_deadline", f.Meta.String(domain.MetaFailedStage))
	})
}

func TestPipeline_SchemaDetach(t *testing.T) {
	h := newHarness(t, true)
	f := h.complete(t, "a.pdf", []byte("%PDF-1.4 two schemas"), h.invoice, h.memo)

	before, err := h.store.Audits().ListByFile(h.ctx, f.ID)
	require.NoError(t, err)
	var keep []domain.AuditResult
	for _, r := range before {
		if r.SchemaID == h.invoice {
			keep = append(keep, r)
		}
	}
	require.NotEmpty(t, keep)
	q1, err := h.store.Questions().GetFor(h.ctx, f.ID, h.invoice)
	require.NoError(t, err)

	got, err := h.orch.DetachSchemas(h.ctx, f.ID, []int64{h.memo})
	require.NoError(t, err)
	assert.Equal(t, domain.Int64List{h.invoice}, got.AttachedSchemas)

	_, err = h.store.Questions().GetFor(h.ctx, f.ID, h.memo)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	after, err := h.store.Audits().ListByFile(h.ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, keep, after)

	q1After, err := h.store.Questions().GetFor(h.ctx, f.ID, h.invoice)
	require.NoError(t, err)
	assert.Equal(t, q1.Answer, q1After.Answer)
	assert.Equal(t, domain.ParseStateComplete, h.file(t, f.ID).ParseState)
}

func TestPipeline_SchemaAttach(t *testing.T) {
	h := newHarness(t, true)
	f := h.complete(t, "a.pdf", []byte("%PDF-1.4 attach"), h.invoice)

	_, err := h.orch.AttachSchemas(h.ctx, f.ID, []int64{999})
	assert.ErrorIs(t, err, domain.ErrSchemaNotFound)

	got, err := h.orch.AttachSchemas(h.ctx, f.ID, []int64{h.memo, h.invoice})
	require.NoError(t, err)
	assert.Equal(t, domain.Int64List{h.invoice, h.memo}, got.AttachedSchemas)

	require.Eventually(t, func() bool {
		q, err := h.store.Questions().GetFor(h.ctx, f.ID, h.memo)
		return err == nil && q.ExtractState == domain.ExtractDone
	}, 5*time.Second, 5*time.Millisecond)
}

func TestPipeline_SchemaAttachWhileParsing(t *testing.T) {
	h := newHarness(t, true)
	f := h.upload(t, "a.pdf", []byte("%PDF-1.4 late schema"))
	h.waitState(t, f.ID, domain.ParseStateParsing)

	_, err := h.orch.AttachSchemas(h.ctx, f.ID, []int64{h.invoice})
	require.NoError(t, err)
	assert.Equal(t, domain.ParseStateParsing, h.file(t, f.ID).ParseState)

	h.callback(t, f, pipeline.CallbackInput{Parse: parseArtifact(t, "Invoice No: L-1")})
	h.waitState(t, f.ID, domain.ParseStateComplete)
	h.waitAnswered(t, f.ID)
}

func TestPipeline_RerunPredictOnly(t *testing.T) {
	h := newHarness(t, true)
	f := h.complete(t, "a.pdf", []byte("%PDF-1.4 predict"), h.invoice)

	require.NoError(t, h.store.Edits().Create(h.ctx, &domain.AnswerEdit{
		FileID: f.ID, SchemaID: h.invoice, Key: "number", Value: "EDITED",
	}))

	_, err := h.orch.Rerun(h.ctx, f.ID, domain.RerunPredictOnly)
	require.NoError(t, err)
	h.waitAnswered(t, f.ID)

	after := h.file(t, f.ID)
	assert.Equal(t, f.ParseHash, after.ParseHash)
	assert.Equal(t, f.PDFHash, after.PDFHash)
	assert.Len(t, h.parser.Requests(), 1)

	q, err := h.store.Questions().GetFor(h.ctx, f.ID, h.invoice)
	require.NoError(t, err)
	preset, _ := q.AnswerPreset.Item("number")
	assert.Equal(t, "INV-42", preset.Value)
	final, _ := q.Answer.Item("number")
	assert.Equal(t, "EDITED", final.Value)

	_, err = h.orch.Rerun(h.ctx, f.ID, domain.RerunPredictOnly)
	assert.ErrorIs(t, err, domain.ErrThrottled)
}

func TestPipeline_RerunParseOnly(t *testing.T) {
	h := newHarness(t, true)
	f := h.complete(t, "a.pdf", []byte("%PDF-1.4 reparse"), h.invoice)

	_, err := h.orch.Rerun(h.ctx, f.ID, domain.RerunParseOnly)
	require.NoError(t, err)

	h.waitRequests(t, 2)
	mid := h.waitState(t, f.ID, domain.ParseStateParsing)
	assert.Empty(t, mid.ParseHash)
	assert.False(t, mid.Meta.Bool(domain.MetaReparse))
	res, err := h.store.Audits().ListByFile(h.ctx, f.ID)
	require.NoError(t, err)
	assert.Empty(t, res)

	h.callback(t, f, pipeline.CallbackInput{Parse: parseArtifact(t, "Invoice No: INV-43")})
	h.waitState(t, f.ID, domain.ParseStateComplete)
	h.waitAnswered(t, f.ID)
}

func TestPipeline_RerunRejectedBeforeComplete(t *testing.T) {
	h := newHarness(t, true)
	f := h.upload(t, "a.pdf", []byte("%PDF-1.4 early"))
	h.waitState(t, f.ID, domain.ParseStateParsing)

	_, err := h.orch.Rerun(h.ctx, f.ID, domain.RerunAuditOnly)
	assert.ErrorIs(t, err, domain.ErrStateRejected)

	// a rejected re-run does not hold the throttle
	_, err = h.orch.Rerun(h.ctx, f.ID, domain.RerunJudgeOnly)
	assert.ErrorIs(t, err, domain.ErrStateRejected)
}

func TestPipeline_Cancel(t *testing.T) {
	h := newHarness(t, true)
	f := h.upload(t, "a.pdf", []byte("%PDF-1.4 cancel"))
	h.waitSubmitted(t, f.ID, 1)

	got, err := h.orch.Cancel(h.ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ParseStateCancelled, got.ParseState)

	// the late callback is discarded
	h.callback(t, f, pipeline.CallbackInput{Parse: parseArtifact(t, "late")})
	assert.Equal(t, domain.ParseStateCancelled, h.file(t, f.ID).ParseState)

	_, err = h.orch.Cancel(h.ctx, f.ID)
	assert.ErrorIs(t, err, domain.ErrStateRejected)
}

func TestPipeline_CancelProject(t *testing.T) {
	h := newHarness(t, false)
	project, _ := h.store.AddProject(domain.Project{Name: "p"})
	other, _ := h.store.AddProject(domain.Project{Name: "q"})

	queued := h.createFile(t, &domain.File{Name: "a.pdf", ProjectID: &project.ID}, []byte("a"))
	require.NoError(t, h.orch.Enqueue(queued))
	done := h.createFile(t, &domain.File{Name: "b.pdf", ProjectID: &project.ID, ParseState: domain.ParseStateComplete}, []byte("b"))
	elsewhere := h.createFile(t, &domain.File{Name: "c.pdf", ProjectID: &other.ID}, []byte("c"))

	n, err := h.orch.CancelProject(h.ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, h.orch.QueueDepth())
	assert.Equal(t, domain.ParseStateCancelled, h.file(t, queued.ID).ParseState)
	assert.Equal(t, domain.ParseStateComplete, h.file(t, done.ID).ParseState)
	assert.Equal(t, domain.ParseStatePending, h.file(t, elsewhere.ID).ParseState)
}

func TestPipeline_Recover(t *testing.T) {
	h := newHarness(t, false)
	pending := h.create(t, "a.pdf", []byte("%PDF-1.4 recover"))

	parse := parseArtifact(t, "Invoice No: R-1")
	parseHash := blobstore.HashBytes(parse)
	require.NoError(t, h.blobs.Put(h.ctx, parseHash, domain.NSParse, parse))
	landed := h.createFile(t, &domain.File{
		Name:       "b.pdf",
		ParseHash:  parseHash,
		ParseState: domain.ParseStateParseSuccess,
	}, []byte("%PDF-1.4 landed"), h.invoice)

	require.NoError(t, h.orch.Recover(h.ctx))
	assert.Equal(t, 1, h.orch.QueueDepth())
	h.waitState(t, landed.ID, domain.ParseStateComplete)
	h.waitAnswered(t, landed.ID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.orch.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	h.waitState(t, pending.ID, domain.ParseStateParsing)
}
