package observe

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/provider/tts"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// roundTripper times outbound platform API requests. Tracing is done by the
// wrapped otelhttp transport.
type roundTripper struct {
	next    http.RoundTripper
	metrics *Metrics
}

// RoundTripper wraps base so every request runs in a client span carrying
// W3C trace context, and its latency lands in [Metrics.APIDuration]. m may be
// nil; base nil means [http.DefaultTransport].
func RoundTripper(m *Metrics, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &roundTripper{
		next: otelhttp.NewTransport(base,
			otelhttp.WithPropagators(propagation.TraceContext{}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "HTTP " + r.Method + " " + r.URL.Host
			}),
		),
		metrics: m,
	}
}

// HTTPClient returns a client using [RoundTripper] with the given timeout.
func HTTPClient(m *Metrics, timeout time.Duration) *http.Client {
	return &http.Client{Transport: RoundTripper(m, nil), Timeout: timeout}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := rt.next.RoundTrip(req)
	elapsed := time.Since(start)

	status := 0
	if err == nil {
		status = resp.StatusCode
	}
	ctx := req.Context()
	if rt.metrics != nil {
		rt.metrics.RecordAPIRequest(ctx, req.URL.Host, req.Method, status, elapsed.Seconds())
	}
	Logger(ctx).Debug("api request", "method", req.Method, "host", req.URL.Host,
		"path", req.URL.Path, "status", status, "duration", elapsed)
	return resp, err
}

// ── TTS timing ────────────────────────────────────────────────────────────────

type timedTTS struct {
	tts.Provider
	metrics *Metrics
}

// TimedTTS records the latency of every synthesis by p in
// [Metrics.TTSDuration].
func TimedTTS(p tts.Provider, m *Metrics) tts.Provider {
	if m == nil {
		return p
	}
	return &timedTTS{Provider: p, metrics: m}
}

func (t *timedTTS) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (audio.Segment, error) {
	start := time.Now()
	seg, err := t.Provider.Synthesize(ctx, text, voice)
	t.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	return seg, err
}
