package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"docpipe/internal/domain"
)

// officeRPC posts a presentation to the office conversion service and
// returns the PDF it answers with.
func (c *Converter) officeRPC(ctx context.Context, filename string, data []byte) ([]byte, error) {
	if c.officeRPCURL == "" {
		return nil, domain.NewPipelineError(domain.KindRemoteUnavailable, "office_rpc",
			errors.New("office conversion service is not configured"))
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("building office request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("building office request: %w", err)
	}
	if err := w.WriteField("to", "pdf"); err != nil {
		return nil, fmt.Errorf("building office request: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("building office request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.officeRPCURL, &body)
	if err != nil {
		return nil, fmt.Errorf("creating office request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindRemoteUnavailable, "office_rpc", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindRemoteUnavailable, "office_rpc", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("office service returned status %d: %s", resp.StatusCode, truncate(out, 200))
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
