package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncSweep("completed")
	ObserveSweepDuration(3.5)
	SetSweepRunning(true)
	IncItem("ok", "normal")
	ObserveFetch("storefront", "ok", 0.2)
	IncAlert("new_low")
	IncNotifyFailure()
	IncCacheLookup("hit")
	AddCacheInvalidated(4)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"pricewatch_sweep_runs_total":             false,
		"pricewatch_sweep_duration_seconds":       false,
		"pricewatch_sweep_running":                false,
		"pricewatch_sweep_items_total":            false,
		"pricewatch_fetch_duration_seconds":       false,
		"pricewatch_alert_fired_total":            false,
		"pricewatch_alert_notify_failures_total":  false,
		"pricewatch_cache_lookups_total":          false,
		"pricewatch_cache_invalidated_keys_total": false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", mf.GetName())
			}
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("expected metric %s", name)
		}
	}
}

func TestHandlerServesText(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "# HELP") {
		t.Fatalf("expected exposition format, got %q", string(body))
	}
}
