package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCommand(t *testing.T) {
	before := testutil.ToFloat64(commands.WithLabelValues("take_gems", OutcomeRejected))
	RecordCommand("take_gems", OutcomeRejected, 0)
	RecordCommand("take_gems", OutcomeRejected, 3*time.Millisecond)
	assert.Equal(t, before+2, testutil.ToFloat64(commands.WithLabelValues("take_gems", OutcomeRejected)))
}

func TestRecordProjected_IgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(projectedEvents.WithLabelValues(ProjectedDuplicate))
	RecordProjected(ProjectedDuplicate, 0)
	RecordProjected(ProjectedDuplicate, 3)
	assert.Equal(t, before+3, testutil.ToFloat64(projectedEvents.WithLabelValues(ProjectedDuplicate)))
}

func TestInstrumentHandler_CountsByRouteAndStatus(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), nil)

	counter := httpRequests.WithLabelValues("GET", "/games", "418")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/games/abc/history", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	RecordConflictRetry("buy_card")
	RecordNotificationFailure()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		"splendor_commands_conflict_retries_total",
		"splendor_notify_failures_total",
	} {
		assert.True(t, strings.Contains(body, name), "missing %s", name)
	}
}
