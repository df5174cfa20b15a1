package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docpipe/internal/domain"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

type webhookNotifier struct {
	client *http.Client
	log    *logger.Logger
}

// NewWebhook creates a FailureNotifier that POSTs a JSON Failure to the
// file's meta.callback_url. Files without one are skipped.
func NewWebhook(timeout time.Duration, log *logger.Logger) port.FailureNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookNotifier{client: &http.Client{Timeout: timeout}, log: log}
}

func (n *webhookNotifier) NotifyFailure(ctx context.Context, f *domain.File, reason string) error {
	url := f.Meta.String(domain.MetaCallbackURL)
	if url == "" {
		n.log.Debug("notify.webhook: no callback url", "file_id", f.ID)
		return nil
	}

	body, err := json.Marshal(NewFailure(f, reason))
	if err != nil {
		return fmt.Errorf("marshaling failure payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
