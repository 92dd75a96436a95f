package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"maid/message"
)

const tracerName = "maid/server"

// TracingMiddleware starts a server span per dispatched request. A nil tracer
// uses the global provider, which is a no-op until one is installed.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ctl *message.Controller, payload []byte) (any, error) {
			ctx, span := tracer.Start(ctx, ctl.Meta.ServiceName+"/"+ctl.Meta.MethodName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("rpc.system", "maid"),
					attribute.String("rpc.service", ctl.Meta.ServiceName),
					attribute.String("rpc.method", ctl.Meta.MethodName),
					attribute.Int64("rpc.maid.transmit_id", int64(ctl.Meta.TransmitID)),
					attribute.Int("rpc.maid.request_size", len(payload)),
				))
			defer span.End()

			resp, err := next(ctx, ctl, payload)
			if err != nil {
				span.SetStatus(codes.Error, message.ReasonOf(err))
			}
			return resp, err
		}
	}
}
