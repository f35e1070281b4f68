package store

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/marqocore/vespacore/pkg/store")

// startRPCSpan opens a span for one outbound store RPC and returns a
// finisher that records err (if any) on the span before ending it.
// Every exported RPC method on Client except GetSessionFile and
// DownloadApplication wraps its body in this so a trace backend can see the store as its own set of timed spans rather
// than one opaque HTTP call buried inside a larger operation.
func startRPCSpan(ctx context.Context, rpc string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := tracer.Start(ctx, "store."+rpc, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
