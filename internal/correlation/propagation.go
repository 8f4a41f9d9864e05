package correlation

import (
	"context"

	"go.opentelemetry.io/otel"
)

// headerCarrier adapts record headers to propagation.TextMapCarrier.
type headerCarrier map[string]string

func (c headerCarrier) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

func (c headerCarrier) Set(key, value string) {
	if c == nil {
		return
	}
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// ExtractTraceContext returns ctx carrying the remote span context found in
// headers, using the global propagator.
func ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	if headers == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier(headers))
}

// InjectTraceContext writes the span context of ctx into headers (creates map if nil).
func InjectTraceContext(ctx context.Context, headers map[string]string) map[string]string {
	if headers == nil {
		headers = make(map[string]string, 2)
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))
	return headers
}
