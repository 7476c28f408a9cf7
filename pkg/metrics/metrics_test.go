package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Records(t *testing.T) {
	m := New()
	m.Records("heat", "imported", 3)
	m.Records("heat", "imported", 2)
	m.Records("heat", "error", 0)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.records.WithLabelValues("heat", "imported")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.records.WithLabelValues("heat", "error")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Records("heat", "imported", 1)
		m.TaskFinished("heat", "completed", time.Second)
		m.LockConflict("heat")
		m.DeriveFailed("heat")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.TaskFinished("volume", "partial", 200*time.Millisecond)
	m.LockConflict("volume")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `heatrank_import_tasks_total{import_type="volume",status="partial"} 1`)
	assert.Contains(t, body, `heatrank_date_lock_conflicts_total{import_type="volume"} 1`)
	assert.Contains(t, body, "heatrank_date_group_duration_seconds_bucket")
}
