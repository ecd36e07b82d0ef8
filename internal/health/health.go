// Package health provides HTTP liveness and readiness handlers.
//
// /healthz always answers 200 while the process serves HTTP. /readyz runs
// every registered [Checker] concurrently: a failing required checker turns
// the response into 503, a failing optional one only marks the service as
// "degraded". Detector backends are optional because sessions keep running
// with reduced metrics when they are down.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Response status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check.
type Checker struct {
	// Name is the key in the JSON "checks" map (e.g. "reportstore").
	Name string

	// Check returns nil when the dependency is healthy. It must respect
	// context cancellation.
	Check func(ctx context.Context) error

	// Optional checkers degrade the service instead of failing it.
	Optional bool
}

// Pinger is implemented by dependencies with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker returns a required checker calling p.Ping.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ErrUnhealthy is reported by [StateChecker] when healthy returns false.
var ErrUnhealthy = errors.New("unhealthy")

// StateChecker returns an optional checker backed by a boolean check such as
// a circuit breaker's Healthy method.
func StateChecker(name string, healthy func() bool) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Check: func(context.Context) error {
			if !healthy() {
				return ErrUnhealthy
			}
			return nil
		},
	}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness endpoint that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// Readyz runs all checkers in parallel, each with a [checkTimeout] deadline
// derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu       sync.Mutex
		checks   = make(map[string]string, len(h.checkers))
		failed   bool
		degraded bool
		eg       errgroup.Group
	)
	for _, c := range h.checkers {
		eg.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				checks[c.Name] = StatusOK
				return nil
			}
			checks[c.Name] = "fail: " + err.Error()
			if c.Optional {
				degraded = true
			} else {
				failed = true
			}
			return nil
		})
	}
	_ = eg.Wait()

	res := result{Status: StatusOK, Checks: checks}
	status := http.StatusOK
	switch {
	case failed:
		res.Status = StatusFail
		status = http.StatusServiceUnavailable
	case degraded:
		res.Status = StatusDegraded
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
