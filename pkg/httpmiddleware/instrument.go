package httpmiddleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Providers supplies the telemetry providers used by Instrument.
type Providers interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Instrument wraps handlers with otelhttp server spans and metrics. Span names
// are "METHOD path" and are replaced by the chi route pattern once routing
// has happened.
func Instrument(service string, p Providers) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(labelRoute(next), service,
			otelhttp.WithTracerProvider(p.TracerProvider()),
			otelhttp.WithMeterProvider(p.MeterProvider()),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

// labelRoute adds http.route to the span and metric labels after the router
// resolved the pattern.
func labelRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		route := RoutePattern(r)
		if route == "" {
			return
		}
		attr := attribute.String("http.route", route)
		span := trace.SpanFromContext(r.Context())
		span.SetName(r.Method + " " + route)
		span.SetAttributes(attr)
		if l, ok := otelhttp.LabelerFromContext(r.Context()); ok {
			l.Add(attr)
		}
	})
}
