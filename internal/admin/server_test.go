package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netscane/rhythm/pkg/membuf"
)

type staticStats struct {
	stats membuf.Stats
}

func (s staticStats) Stats() membuf.Stats { return s.stats }

func newTestRouter(sources ...StatsSource) http.Handler {
	registry := prometheus.NewRegistry()
	return NewServer(0, registry, sources...).createRouter()
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	router := newTestRouter(
		staticStats{stats: membuf.Stats{Name: "artists", ActiveEntries: 3, PendingGenerations: 1}},
		staticStats{stats: membuf.Stats{Name: "tracks", FlushError: "store unavailable"}},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Buffers []membuf.Stats `json:"buffers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body.Buffers) != 2 {
		t.Fatalf("expected 2 buffers, got %d", len(body.Buffers))
	}
	if body.Buffers[0].Name != "artists" || body.Buffers[0].ActiveEntries != 3 {
		t.Fatalf("unexpected first buffer: %+v", body.Buffers[0])
	}
	if body.Buffers[1].FlushError != "store unavailable" {
		t.Fatalf("flush error not surfaced: %+v", body.Buffers[1])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_flushes_total"})
	registry.MustRegister(counter)
	counter.Inc()
	router := NewServer(0, registry).createRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "test_flushes_total 1") {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}
}
