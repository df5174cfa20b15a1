package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/metrics"
)

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	metrics.Register(reg)

	metrics.SetQueueDepth(3)
	metrics.RecordTransition("pending", "caching")
	metrics.RecordCallback("ok")
	metrics.ObserveStage("convert", time.Now().Add(-time.Second))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["docpipe_queue_depth"])
	assert.True(t, names["docpipe_state_transitions_total"])
	assert.True(t, names["docpipe_callbacks_total"])
	assert.True(t, names["docpipe_stage_duration_seconds"])
}
