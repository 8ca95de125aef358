package ctxutil

import (
	"context"
	"testing"
)

func TestRequestDataRoundTrip(t *testing.T) {
	if GetRequestData(context.Background()) != nil {
		t.Fatalf("empty context must carry no request data")
	}
	ctx := WithRequestData(context.Background(), &RequestData{TraceID: "t1", AuthorID: "alice"})
	rd := GetRequestData(ctx)
	if rd == nil || rd.TraceID != "t1" || rd.AuthorID != "alice" {
		t.Fatalf("unexpected request data: %+v", rd)
	}
	fields := LogFields(ctx)
	if len(fields) != 4 || fields[0] != "trace_id" || fields[2] != "author_id" {
		t.Fatalf("unexpected log fields: %v", fields)
	}
}
