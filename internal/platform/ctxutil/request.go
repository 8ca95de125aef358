package ctxutil

import "context"

type requestDataKey struct{}

// RequestData identifies one inbound request for logs and lifecycle events.
type RequestData struct {
	TraceID   string
	RequestID string
	AuthorID  string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	rd, _ := ctx.Value(requestDataKey{}).(*RequestData)
	return rd
}

// LogFields returns the non-empty request identifiers as logger key/value pairs.
func LogFields(ctx context.Context) []interface{} {
	rd := GetRequestData(ctx)
	if rd == nil {
		return nil
	}
	var out []interface{}
	if rd.TraceID != "" {
		out = append(out, "trace_id", rd.TraceID)
	}
	if rd.RequestID != "" {
		out = append(out, "request_id", rd.RequestID)
	}
	if rd.AuthorID != "" {
		out = append(out, "author_id", rd.AuthorID)
	}
	return out
}
