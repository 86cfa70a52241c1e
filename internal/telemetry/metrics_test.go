package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObservePoll(t *testing.T) {
	m := NewMetrics()

	m.ObservePoll("directory", time.Now(), 3, 10, nil)
	m.ObservePoll("directory", time.Now(), 0, 0, errors.New("boom"))
	m.IncRotation("directory")
	m.AddCommitted(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Polls.WithLabelValues("directory", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Polls.WithLabelValues("directory", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsEmitted.WithLabelValues("directory")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.BytesEmitted.WithLabelValues("directory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rotations.WithLabelValues("directory")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CursorsCommitted))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePoll("single_file", time.Now(), 1, 1, nil)
	m.IncRotation("single_file")
	m.IncUnavailable("single_file")
	m.AddCommitted(1)
	m.IncPublishFailure()
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.IncPublishFailure()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "binsource_publish_failures_total 1"))
}
