// Package health serves liveness, readiness and batch progress endpoints for
// long batch runs.
//
//   - /healthz: liveness probe; always 200 OK.
//   - /readyz: 200 only when every registered [Checker] passes.
//   - /statusz: batch progress as tracked by a [Progress].
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map holding the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ── Progress ──────────────────────────────────────────────────────────────────

// Status is a snapshot of batch progress.
type Status struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// Current lists the batches in flight.
	Current []string `json:"current,omitempty"`

	// Last is the summary of the most recently finished batch.
	Last string `json:"last,omitempty"`
}

// Progress counts batch outcomes. It is safe for concurrent use.
type Progress struct {
	mu      sync.Mutex
	total   int
	running map[string]struct{}
	ok      int
	failed  int
	last    string
}

// NewProgress returns a tracker for total batches.
func NewProgress(total int) *Progress {
	return &Progress{total: total, running: make(map[string]struct{})}
}

// Start marks batchID as running.
func (p *Progress) Start(batchID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[batchID] = struct{}{}
}

// Finish records the outcome of batchID.
func (p *Progress) Finish(batchID string, success bool, summary string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, batchID)
	if success {
		p.ok++
	} else {
		p.failed++
	}
	p.last = summary
}

// Snapshot returns the current progress.
func (p *Progress) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Status{
		Total:     p.total,
		Running:   len(p.running),
		Succeeded: p.ok,
		Failed:    p.failed,
		Last:      p.last,
	}
	s.Current = slices.Sorted(maps.Keys(p.running))
	return s
}

// ── Handler ───────────────────────────────────────────────────────────────────

// Handler serves the probe and progress endpoints. The checker list is fixed
// at construction time.
type Handler struct {
	progress *Progress
	checkers []Checker
}

// New creates a [Handler] reporting progress (which may be nil) and
// evaluating checkers in order on each /readyz request.
func New(progress *Progress, checkers ...Checker) *Handler {
	return &Handler{progress: progress, checkers: append([]Checker(nil), checkers...)}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every [Checker] passes. Each check gets
// [checkTimeout] derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Statusz reports batch progress.
func (h *Handler) Statusz(w http.ResponseWriter, _ *http.Request) {
	if h.progress == nil {
		writeJSON(w, http.StatusOK, Status{})
		return
	}
	writeJSON(w, http.StatusOK, h.progress.Snapshot())
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statusz", h.Statusz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
