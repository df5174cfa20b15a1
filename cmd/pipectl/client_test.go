package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient(t *testing.T) {
	var gotAuth, gotMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/files/3/rerun":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotMode = body["mode"]
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"status":"ok","data":{"id":3,"parse_state":"pending"}}`))
		case "/api/v1/files/status":
			_, _ = w.Write([]byte(`{"status":"ok","data":[{"file_id":1,"status":"processing","extra":{"parse_state":"parsing"}}]}`))
		default:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"status":"error","code":"STATE_CONFLICT","message":"not allowed","errors":["file is complete"]}`))
		}
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL+"/", "tok")
	ctx := context.Background()

	f, err := c.Rerun(ctx, 3, "predict-only")
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.ID)
	assert.Equal(t, "predict-only", gotMode)
	assert.Equal(t, "Bearer tok", gotAuth)

	statuses, err := c.Status(ctx, []int64{1})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "processing", statuses[0].Status)

	_, err = c.Cancel(ctx, 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 409 STATE_CONFLICT")
	assert.Contains(t, err.Error(), "file is complete")
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	for _, bad := range []string{"", "0", "-1", "x"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}
