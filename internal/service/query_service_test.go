package service_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/domain"
	"docpipe/internal/service"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		state  domain.ParseState
		meta   domain.Meta
		states []domain.ExtractState
		want   string
	}{
		{"pending", domain.ParseStatePending, nil, []domain.ExtractState{domain.ExtractPending}, service.StatusProcessing},
		{"page cached", domain.ParseStatePageCached, nil, []domain.ExtractState{domain.ExtractRunning}, service.StatusProcessing},
		{"complete settled", domain.ParseStateComplete, nil, []domain.ExtractState{domain.ExtractDone, domain.ExtractSkipped}, service.StatusSuccess},
		{"complete running", domain.ParseStateComplete, nil, []domain.ExtractState{domain.ExtractDone, domain.ExtractRunning}, service.StatusProcessing},
		{"question failed", domain.ParseStateComplete, nil, []domain.ExtractState{domain.ExtractDone, domain.ExtractFailed}, service.StatusFailed},
		{"no schemas", domain.ParseStateComplete, nil, nil, service.StatusSuccess},
		{"ocr expired", domain.ParseStateOCRExpired, nil, nil, service.StatusFailed},
		{"chapter failure", domain.ParseStatePageCached, domain.Meta{domain.MetaFailedReason: "chapter build failed"}, nil, service.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &domain.File{ID: 1, ParseState: tt.state, Meta: tt.meta}
			var qs []domain.Question
			for i, st := range tt.states {
				qs = append(qs, domain.Question{ID: int64(i + 1), SchemaID: int64(i + 10), ExtractState: st})
			}
			got := service.Summarize(f, qs)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.state, got.Extra.ParseState)
			assert.Len(t, got.Extra.Schemas, len(tt.states))
		})
	}
}

func TestStatusService_Get(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	svc := service.NewStatusService(fx.store.Files(), fx.store.Questions(), "https://api.example.com")

	f := fx.seed(t, "a.pdf", []byte("a"), domain.ParseStateParsing)
	st, err := svc.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StatusProcessing, st.Status)
	assert.Equal(t, domain.ExtractPending, st.Extra.Schemas[strconv.FormatInt(fx.schemaID, 10)].ExtractState)
	assert.Empty(t, st.URL)

	restore := &domain.File{Name: "scan.pdf", ContentHash: "h", TaskKind: domain.TaskScannedPDFRestore, ParseState: domain.ParseStateComplete}
	require.NoError(t, fx.store.Files().Create(ctx, restore))
	st, err = svc.Get(ctx, restore.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StatusSuccess, st.Status)
	assert.Contains(t, st.URL, "/api/v1/files/")
	assert.True(t, strings.HasSuffix(st.URL, "/scanned-pdf-restore"))

	require.NoError(t, fx.store.Files().SoftDelete(ctx, f.ID))
	_, err = svc.Get(ctx, f.ID)
	assert.True(t, errors.Is(err, domain.ErrFileGone))

	batch, err := svc.GetBatch(ctx, []int64{restore.ID, f.ID, 999})
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, service.StatusSuccess, batch[0].Status)
	assert.Equal(t, service.StatusFailed, batch[1].Status)
	assert.Equal(t, service.StatusFailed, batch[2].Status)
	assert.Equal(t, int64(999), batch[2].FileID)
}

func answeredFile(t *testing.T, fx *fixture) *domain.File {
	t.Helper()
	ctx := context.Background()
	f := fx.seed(t, "inv 7.pdf", []byte("inv"), domain.ParseStateComplete)
	q := fx.question(t, f.ID)
	preset := domain.Answer{SchemaID: fx.schemaID, Items: []domain.AnswerItem{
		{Key: "number", Value: "INV-7"},
		{Key: "vendor", Value: "Acme"},
	}}
	require.NoError(t, fx.store.Questions().SetAnswer(ctx, q.ID, preset, domain.OriginPreset))
	require.NoError(t, fx.store.Questions().SetState(ctx, q.ID, domain.ExtractDone))
	require.NoError(t, fx.store.Audits().CreateResults(ctx, []domain.AuditResult{{
		FileID: f.ID, SchemaID: fx.schemaID, QuestionID: q.ID, RuleKey: "number_required",
		Origin: domain.OriginFinal, Kind: domain.AuditKindRule, IsCompliant: true,
	}}))
	return f
}

func TestResultService_JSON(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	svc := service.NewResultService(fx.store.Files(), fx.store.Questions(), fx.store.Schemas(), fx.store.Audits())

	f := answeredFile(t, fx)
	res, err := svc.JSON(ctx, f.ID, nil)
	require.NoError(t, err)
	require.Len(t, res.Schemas, 1)
	s := res.Schemas[0]
	assert.Equal(t, "invoice", s.SchemaName)
	item, ok := s.Answer.Item("number")
	require.True(t, ok)
	assert.Equal(t, "INV-7", item.Value, "preset answer is served until the final one exists")
	require.Len(t, s.Audits, 1)
	assert.Equal(t, "number_required", s.Audits[0].RuleKey)

	busy := fx.seed(t, "busy.pdf", []byte("busy"), domain.ParseStatePageCached)
	_, err = svc.JSON(ctx, busy.ID, nil)
	assert.True(t, errors.Is(err, domain.ErrNotReady))
}

func TestResultService_CSV(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	svc := service.NewResultService(fx.store.Files(), fx.store.Questions(), fx.store.Schemas(), fx.store.Audits())
	f := answeredFile(t, fx)

	one, err := svc.CSV(ctx, f.ID, &fx.schemaID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(one.Filename, "inv_7_invoice_"))
	assert.True(t, strings.HasSuffix(one.Filename, ".csv"))
	body := string(one.Data)
	assert.Contains(t, body, "File ID,File Name,Parse State,Extract State,number,vendor")
	assert.Contains(t, body, "inv 7.pdf,complete,done,INV-7,Acme")

	all, err := svc.CSV(ctx, f.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/zip", all.ContentType)
	zr, err := zip.NewReader(bytes.NewReader(all.Data), int64(len(all.Data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	inner, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, one.Data, inner)
}

func TestArtifactService_Open(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	svc := service.NewArtifactService(fx.store.Files(), fx.blobs, fx.cache)

	data := []byte("original bytes")
	f := fx.seed(t, "report.docx", data, domain.ParseStatePending)

	art, err := svc.Open(ctx, f.ID, domain.ArtifactOrigin)
	require.NoError(t, err)
	defer art.Body.Close()
	got, err := io.ReadAll(art.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, `"`+f.ContentHash+`"`, art.ETag)
	assert.Equal(t, int64(len(data)), art.Size)
	assert.False(t, art.ModTime.IsZero())
	assert.Equal(t, "report.docx", art.Name)

	_, err = svc.Open(ctx, f.ID, domain.ArtifactPDF)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "no pdf converted yet")

	_, err = svc.Open(ctx, f.ID, "thumbnail")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	pdf := []byte("%PDF-1.4 converted")
	pdfHash := "c0ffee"
	require.NoError(t, fx.blobs.Put(ctx, pdfHash, domain.NSPDF, pdf))
	require.NoError(t, fx.store.Files().UpdateArtifacts(ctx, f.ID, domain.ArtifactUpdate{PDFHash: &pdfHash}))
	art, err = svc.Open(ctx, f.ID, domain.ArtifactPDF)
	require.NoError(t, err)
	defer art.Body.Close()
	assert.Equal(t, "report.pdf", art.Name)
	assert.Equal(t, "application/pdf", art.ContentType)
}
