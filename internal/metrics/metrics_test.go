package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictCounters(t *testing.T) {
	m := New()
	m.ConflictDetected()
	m.ConflictDetected()
	m.ConflictResolved()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("detected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("resolved")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("abandoned")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", "/api/v1/notes", 200, 0.01)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `notesapp_requests_total{method="GET",route="/api/v1/notes",status="200"} 1`)
}
