package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/clinical-mdr/internal/observability"
	"github.com/yungbote/clinical-mdr/internal/platform/ctxutil"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

func TestAttachRequestDataPropagatesIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachRequestData())
	var seen *ctxutil.RequestData
	r.GET("/x", func(c *gin.Context) {
		seen = ctxutil.GetRequestData(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	req.Header.Set(HeaderTraceID, "trace-1")
	req.Header.Set(HeaderAuthorID, "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if seen == nil || seen.RequestID != "req-1" || seen.TraceID != "trace-1" || seen.AuthorID != "alice" {
		t.Fatalf("unexpected request data: %+v", seen)
	}
	if w.Header().Get(HeaderRequestID) != "req-1" || w.Header().Get(HeaderTraceID) != "trace-1" {
		t.Fatalf("ids must be echoed: %v", w.Header())
	}
}

func TestAttachRequestDataGeneratesIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachRequestData())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get(HeaderRequestID) == "" || w.Header().Get(HeaderTraceID) == "" {
		t.Fatalf("missing generated ids: %v", w.Header())
	}
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.NewMetrics()
	r := gin.New()
	r.Use(RequestLogger(logger.NewNop()), Metrics(m))
	r.GET("/api/items/:uid", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	for _, p := range []string{"/api/items/A", "/api/items/B", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	if !strings.Contains(body, `route="/api/items/:uid"`) || !strings.Contains(body, `route="unmatched"`) {
		t.Fatalf("expected templated and unmatched route labels:\n%s", body)
	}
	if strings.Contains(body, `route="/metrics"`) {
		t.Fatalf("metrics scrapes must not be counted")
	}
}
