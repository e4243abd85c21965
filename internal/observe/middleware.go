package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// EndpointOther labels requests to paths the admin server does not route.
const EndpointOther = "other"

// adminEndpoints are the routes served on server.listen_addr. Any other path
// is folded into [EndpointOther] so scanners cannot blow up label cardinality.
var adminEndpoints = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Endpoint returns the metric and span label for path.
func Endpoint(path string) string {
	if adminEndpoints[path] {
		return path
	}
	return EndpointOther
}

// statusRecorder captures the status code written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware wraps the admin endpoints (health, readiness and the Prometheus
// scrape) in a server span named "admin <endpoint>", echoes the trace id as
// X-Correlation-ID and records the latency to [Metrics.HTTPRequestDuration].
//
// Successful liveness and scrape requests arrive every few seconds and are
// logged at debug. A failing readiness check or a 5xx is logged at warn.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			endpoint := Endpoint(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "admin "+endpoint,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					attribute.String("celestial.endpoint", endpoint),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("endpoint", endpoint),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			level := slog.LevelDebug
			msg := "admin: served"
			switch {
			case endpoint == "/readyz" && rec.statusCode != http.StatusOK:
				level, msg = slog.LevelWarn, "admin: not ready for consultations"
			case rec.statusCode >= http.StatusInternalServerError:
				level, msg = slog.LevelWarn, "admin: endpoint failed"
			}
			Logger(ctx).LogAttrs(ctx, level, msg,
				slog.String("endpoint", endpoint),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
