package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCacheOp("tickets", "set")
	m.RecordCacheOp("tickets", "set")
	m.SetCacheRecords("tickets", 12)
	m.RecordPersist("tickets", nil, 0.01)
	m.RecordPersist("tickets", errors.New("disk full"), 0.02)
	m.RecordTickets("analyzed", 3)
	m.RecordTickets("skipped", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheOperationsTotal.WithLabelValues("tickets", "set")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.CacheRecords.WithLabelValues("tickets")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistWritesTotal.WithLabelValues("tickets", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PipelineTicketsTotal.WithLabelValues("analyzed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ftex_cache_operations_total"])
	assert.False(t, names["ftex_pipeline_runs_total"], "vectors without observations are not exported")
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.RecordCacheOp("tickets", "get")
	m.SetCacheRecords("tickets", 1)
	m.RecordLoadFailure("tickets")
	m.RecordPersist("tickets", nil, 0)
	m.RecordRecompute(1)
	m.RecordRun("ok")
	m.RecordTickets("analyzed", 1)
	m.RecordStage("analyze", 1)
	m.RecordEnrichment("mock", "ok")
}
