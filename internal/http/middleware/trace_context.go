package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/clinical-mdr/internal/platform/ctxutil"
)

const (
	HeaderTraceID   = "X-Trace-Id"
	HeaderRequestID = "X-Request-Id"
	HeaderAuthorID  = "X-Author-Id"
)

// AttachRequestData stores trace, request and author ids on the request
// context and echoes the ids back as response headers. The otel span id wins
// over a client supplied trace header so logs and traces line up.
func AttachRequestData() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := &ctxutil.RequestData{
			RequestID: strings.TrimSpace(c.GetHeader(HeaderRequestID)),
			AuthorID:  strings.TrimSpace(c.GetHeader(HeaderAuthorID)),
		}
		if rd.RequestID == "" {
			rd.RequestID = uuid.NewString()
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			rd.TraceID = sc.TraceID().String()
		} else if v := strings.TrimSpace(c.GetHeader(HeaderTraceID)); v != "" {
			rd.TraceID = v
		} else {
			rd.TraceID = uuid.NewString()
		}

		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Header(HeaderTraceID, rd.TraceID)
		c.Header(HeaderRequestID, rd.RequestID)
		c.Next()
	}
}
