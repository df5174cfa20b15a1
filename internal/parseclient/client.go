// Package parseclient submits PDFs to the remote parse service.
package parseclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"docpipe/internal/config"
	"docpipe/internal/domain"
	"docpipe/internal/lock"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

var (
	// ErrSubmitFailed marks a transport failure talking to the parse service.
	ErrSubmitFailed = errors.New("parse submit failed")
	// ErrRejected marks a non-2xx answer from the parse service.
	ErrRejected = errors.New("parse service rejected the request")
)

// Client posts PDFs to the parse service. One submission per content hash is
// in flight at a time; the parse:<hash> lock is released by the callback.
type Client struct {
	endpoint    string
	callbackURL string
	deadline    time.Duration
	httpClient  *http.Client
	locker      port.Locker
	signer      *Signer
	log         *logger.Logger
}

// New creates a parse Client.
func New(cfg *config.ParseServiceConfig, deadline, submitTimeout time.Duration, locker port.Locker, signer *Signer, log *logger.Logger) *Client {
	return &Client{
		endpoint:    cfg.URL,
		callbackURL: strings.TrimRight(cfg.CallbackBaseURL, "/"),
		deadline:    deadline,
		httpClient:  &http.Client{Timeout: submitTimeout},
		locker:      locker,
		signer:      signer,
		log:         log.With("component", "parseclient"),
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// CallbackPath returns the callback route for a file.
func CallbackPath(fileID int64, contentHash string) string {
	return fmt.Sprintf("/api/v1/callbacks/%d/hash/%s/preprocess_complete", fileID, contentHash)
}

// Submit sends req to the parse service. It returns false without error when
// a submission for the same content is already in flight.
func (c *Client) Submit(ctx context.Context, req port.SubmitRequest) (bool, error) {
	key := lock.ParseKey(req.ContentHash)
	acquired, err := c.locker.TryAcquire(ctx, key, c.deadline)
	if err != nil {
		// Lock backend trouble is soft: submit anyway, the callback dedups.
		c.log.Warn("parseclient.Submit: lock unavailable", "content_hash", req.ContentHash, "error", err)
	} else if !acquired {
		c.log.Info("parseclient.Submit: already in flight", "file_id", req.FileID, "content_hash", req.ContentHash)
		return false, nil
	}

	if err := c.post(ctx, req); err != nil {
		if relErr := c.locker.Release(ctx, key); relErr != nil {
			c.log.Warn("parseclient.Submit: release failed", "content_hash", req.ContentHash, "error", relErr)
		}
		return false, err
	}
	c.log.Info("parseclient.Submit: submitted", "file_id", req.FileID, "content_hash", req.ContentHash, "ocr", req.OCR)
	return true, nil
}

// Release drops the parse lock of a content hash.
func (c *Client) Release(ctx context.Context, contentHash string) error {
	return c.locker.Release(ctx, lock.ParseKey(contentHash))
}

func (c *Client) post(ctx context.Context, req port.SubmitRequest) error {
	token, err := c.signer.Issue(req.FileID, req.ContentHash, c.deadline)
	if err != nil {
		return err
	}
	callback := c.callbackURL + CallbackPath(req.FileID, req.ContentHash) + "?token=" + url.QueryEscape(token)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := writeFile(w, "file", req.ContentHash+".pdf", req.PDF); err != nil {
		return err
	}
	if len(req.OriginalDocx) > 0 {
		if err := writeFile(w, "docx", req.ContentHash+".docx", req.OriginalDocx); err != nil {
			return err
		}
	}
	pages := make([]string, len(req.ForceOCRPages))
	for i, p := range req.ForceOCRPages {
		pages[i] = strconv.Itoa(p)
	}
	fields := map[string]string{
		"callback_url":    callback,
		"ocr":             strconv.FormatBool(req.OCR),
		"force_ocr_pages": strings.Join(pages, ","),
		"return_docx":     strconv.FormatBool(req.ReturnDocx),
		"priority":        strconv.Itoa(req.Priority),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("building parse request: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("building parse request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return fmt.Errorf("creating parse request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.NewPipelineError(domain.KindRemoteUnavailable, "parse_submit",
			fmt.Errorf("%w: %v", ErrSubmitFailed, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.NewPipelineError(domain.KindRemoteUnavailable, "parse_submit",
			fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg))))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func writeFile(w *multipart.Writer, field, name string, data []byte) error {
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		return fmt.Errorf("building parse request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("building parse request: %w", err)
	}
	return nil
}
