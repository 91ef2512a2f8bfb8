package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockServer is an httptest server routing by "METHOD /path" (or just "/path")
// and counting calls per route.
type MockServer struct {
	*httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string]int
}

// NewMockServer starts a server; unknown routes answer 404.
func NewMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := &MockServer{handlers: make(map[string]http.HandlerFunc), calls: make(map[string]int)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		h, ok := m.handlers[r.Method+" "+r.URL.Path]
		key := r.Method + " " + r.URL.Path
		if !ok {
			h, ok = m.handlers[r.URL.Path]
			key = r.URL.Path
		}
		if ok {
			m.calls[key]++
		}
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers h for route.
func (m *MockServer) Handle(route string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[route] = h
}

// JSON registers a route answering status with body encoded as JSON.
func (m *MockServer) JSON(route string, status int, body any) {
	m.Handle(route, func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, status, body)
	})
}

// Calls returns how many requests hit route.
func (m *MockServer) Calls(route string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[route]
}

// WriteJSON writes body as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
}

// Episode builds a SpeedGaming episode payload with two players.
func Episode(id, slug, name string, players ...string) map[string]any {
	ps := make([]map[string]any, 0, len(players))
	for _, p := range players {
		ps = append(ps, map[string]any{"displayName": p, "publicStream": p, "streamingFrom": p, "discordId": "", "discordTag": p + "#0001"})
	}
	return map[string]any{
		"id":            id,
		"event":         map[string]any{"slug": slug, "name": name},
		"match1":        map[string]any{"players": ps},
		"commentators":  []any{},
		"trackers":      []any{},
		"channels":      []any{map[string]any{"name": "SpeedGaming"}},
		"when":          "2020-11-21T18:00:00-05:00",
		"whenCountdown": "2020-11-21T18:10:00-05:00",
	}
}

// RaceData builds a racetime room data payload.
func RaceData(name, status string, entrants ...map[string]any) map[string]any {
	if entrants == nil {
		entrants = []map[string]any{}
	}
	return map[string]any{
		"name":     name,
		"url":      "/" + name,
		"status":   map[string]any{"value": status},
		"entrants": entrants,
	}
}

// Entrant builds a racetime entrant; finish may be nil.
func Entrant(user string, place any, finish any) map[string]any {
	return map[string]any{"user": map[string]any{"name": user}, "place": place, "finish_time": finish}
}
