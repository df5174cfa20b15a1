package parseclient_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/config"
	"docpipe/internal/domain"
	"docpipe/internal/lock"
	"docpipe/internal/logger"
	"docpipe/internal/parseclient"
	"docpipe/internal/port"
)

func newClient(t *testing.T, handler http.HandlerFunc) (*parseclient.Client, port.Locker, *parseclient.Signer) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	locker := lock.NewMemoryLocker()
	signer := parseclient.NewSigner("secret")
	cfg := &config.ParseServiceConfig{URL: srv.URL, CallbackBaseURL: "http://docpipe.local/"}
	c := parseclient.New(cfg, time.Minute, 5*time.Second, locker, signer, logger.Nop())
	return c.WithHTTPClient(srv.Client()), locker, signer
}

func TestSubmit_SendsMultipartWithCallbackToken(t *testing.T) {
	var gotCallback, gotOCR string
	var gotPDF []byte
	c, _, signer := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		gotPDF, _ = io.ReadAll(f)
		gotCallback = r.FormValue("callback_url")
		gotOCR = r.FormValue("ocr")
		w.WriteHeader(http.StatusAccepted)
	})

	ok, err := c.Submit(context.Background(), port.SubmitRequest{FileID: 7, ContentHash: "abc", PDF: []byte("%PDF"), OCR: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("%PDF"), gotPDF)
	assert.Equal(t, "true", gotOCR)

	u, err := url.Parse(gotCallback)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/callbacks/7/hash/abc/preprocess_complete", u.Path)
	assert.NoError(t, signer.Verify(u.Query().Get("token"), 7, "abc"))
	assert.ErrorIs(t, signer.Verify(u.Query().Get("token"), 8, "abc"), domain.ErrForbidden)
}

func TestSubmit_SecondSubmissionIsDeduplicated(t *testing.T) {
	var calls int32
	c, _, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	ok, err := c.Submit(context.Background(), port.SubmitRequest{FileID: 1, ContentHash: "h"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Submit(context.Background(), port.SubmitRequest{FileID: 2, ContentHash: "h"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	require.NoError(t, c.Release(context.Background(), "h"))
	ok, err = c.Submit(context.Background(), port.SubmitRequest{FileID: 2, ContentHash: "h"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSubmit_RejectedReleasesLock(t *testing.T) {
	c, locker, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	})

	ok, err := c.Submit(context.Background(), port.SubmitRequest{FileID: 1, ContentHash: "h"})
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, parseclient.ErrRejected))
	assert.True(t, errors.Is(err, domain.ErrRemoteUnavailable))

	acquired, err := locker.TryAcquire(context.Background(), lock.ParseKey("h"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestSigner_RejectsExpiredAndForeignTokens(t *testing.T) {
	signer := parseclient.NewSigner("secret")
	token, err := signer.Issue(1, "h", -time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, signer.Verify(token, 1, "h"), domain.ErrUnauthorized)

	other, err := parseclient.NewSigner("other").Issue(1, "h", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, signer.Verify(other, 1, "h"), domain.ErrUnauthorized)
	assert.ErrorIs(t, signer.Verify("garbage", 1, "h"), domain.ErrUnauthorized)
}
