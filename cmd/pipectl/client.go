package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docpipe/internal/domain"
	"docpipe/internal/service"
)

// apiClient calls the docpipe HTTP API with an operator token.
type apiClient struct {
	base   string
	token  string
	client *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/") + "/api/v1",
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Errors  []string        `json:"errors"`
}

func (c *apiClient) Rerun(ctx context.Context, fileID int64, mode string) (*domain.File, error) {
	var f domain.File
	body, _ := json.Marshal(map[string]string{"mode": mode})
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/files/%d/rerun", fileID), body, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *apiClient) Cancel(ctx context.Context, fileID int64) (*domain.File, error) {
	var f domain.File
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/files/%d/cancel", fileID), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *apiClient) Status(ctx context.Context, fileIDs []int64) ([]service.FileStatus, error) {
	ids := make([]string, len(fileIDs))
	for i, id := range fileIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	var out []service.FileStatus
	if err := c.do(ctx, http.MethodGet, "/files/status?ids="+strings.Join(ids, ","), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decoding response (HTTP %d): %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 {
		msg := env.Message
		if len(env.Errors) > 0 {
			msg += ": " + strings.Join(env.Errors, "; ")
		}
		return fmt.Errorf("%s %s: HTTP %d %s: %s", method, path, resp.StatusCode, env.Code, msg)
	}
	return json.Unmarshal(env.Data, out)
}
