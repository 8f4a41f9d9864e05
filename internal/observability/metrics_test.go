package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_RegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.RecordsTotal == nil {
		t.Error("RecordsTotal is nil")
	}
	if m.MaterializeErrors == nil {
		t.Error("MaterializeErrors is nil")
	}
	if m.CommitsTotal == nil {
		t.Error("CommitsTotal is nil")
	}
	if m.CommitCursor == nil {
		t.Error("CommitCursor is nil")
	}
	if m.LookupsTotal == nil {
		t.Error("LookupsTotal is nil")
	}
	if m.ApplyDuration == nil {
		t.Error("ApplyDuration is nil")
	}
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewMetrics(reg)
}

func TestMetrics_IncrementCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordsTotal.WithLabelValues(StatusProcessed).Inc()
	m.RecordsTotal.WithLabelValues(StatusSkipped).Inc()
	m.MaterializeErrors.WithLabelValues(ViewTable).Inc()
	m.MissingKeyTotal.Inc()
	m.DecodeErrors.Inc()
	m.CommitsTotal.WithLabelValues("batch", "ok").Inc()
	m.CommitCursor.WithLabelValues("0").Set(41)
	m.LookupsTotal.WithLabelValues(ViewRaw, ResultHit).Inc()
	m.DLQTotal.Inc()
	m.ApplyDuration.WithLabelValues(ViewRaw).Observe(0.002)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"streamview_records_total",
		"streamview_materialize_errors_total",
		"streamview_missing_key_total",
		"streamview_decode_errors_total",
		"streamview_commits_total",
		"streamview_commit_cursor",
		"streamview_lookups_total",
		"streamview_dlq_total",
		"streamview_apply_duration_seconds",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("expected metric %s not found", name)
		}
	}
}
