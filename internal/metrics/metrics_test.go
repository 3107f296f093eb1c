package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordFetch(nil)
	m.RecordFetch(errors.New("boom"))
	m.RecordFetch(errors.New("boom"))
	m.RecordArticles(3, 2)
	m.RecordBuildRecord("full_success")
	m.RecordRun(2 * time.Second)
	m.SetPhase(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Articles.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuildRecords.WithLabelValues("full_success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Phase))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFetch(nil)
		m.RecordRun(time.Second)
		m.RecordFailure("network")
		m.SetPhase(1)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordFailure("parse")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `infovore_failures_total{kind="parse"} 1`)
}
