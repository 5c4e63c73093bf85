package broker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectTracing copies the current span context into msg headers.
func InjectTracing(ctx context.Context, msg *Message) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	if len(carrier) == 0 {
		return
	}

	if msg.Headers == nil {
		msg.Headers = make(map[string]string, len(carrier))
	}
	for k, v := range carrier {
		msg.Headers[k] = v
	}
}

func ExtractTracing(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}
