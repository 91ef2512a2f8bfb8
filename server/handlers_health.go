package server

import (
	"context"
	"net/http"
	"sort"
)

// HandleHealthz responds to liveness checks.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		if err := h.deps.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz runs the database check and any extra checks, stopping at the first failure.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	type check struct {
		name string
		fn   func(context.Context) error
	}
	var checks []check
	if h.deps.DB != nil {
		checks = append(checks, check{"database", h.deps.DB.PingContext})
	}
	names := make([]string, 0, len(h.deps.Ready))
	for name := range h.deps.Ready {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		checks = append(checks, check{name, h.deps.Ready[name]})
	}

	for _, c := range checks {
		if err := c.fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": c.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
