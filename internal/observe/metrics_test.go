package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRecordRPC(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(rpcCalls.WithLabelValues("ping", "ok"))
	RecordRPC("ping", "ok", time.Millisecond)
	if got := testutil.ToFloat64(rpcCalls.WithLabelValues("ping", "ok")); got != before+1 {
		t.Fatalf("expected counter %v, got %v", before+1, got)
	}

	beforeNone := testutil.ToFloat64(rpcCalls.WithLabelValues("none", "parse_error"))
	RecordRPC("", "parse_error", 0)
	if got := testutil.ToFloat64(rpcCalls.WithLabelValues("none", "parse_error")); got != beforeNone+1 {
		t.Fatalf("expected empty method recorded as none")
	}
}

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(activeConnections)
	AddConnections(1)
	AddConnections(1)
	AddConnections(-1)
	if got := testutil.ToFloat64(activeConnections); got != before+1 {
		t.Fatalf("expected gauge %v, got %v", before+1, got)
	}
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zerolog.Nop()), RequestMetrics())
	r.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/users/:id", "204"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/42", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/users/:id", "204")); got != before+1 {
		t.Fatalf("expected request recorded under route pattern")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404")); got < 1 {
		t.Fatalf("expected unmatched route recorded")
	}
}
