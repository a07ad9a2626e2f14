package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordImport(t *testing.T) {
	before := testutil.ToFloat64(ImportRuns.WithLabelValues("admin", "success"))

	RecordImport("admin", "success", 3*time.Second)

	after := testutil.ToFloat64(ImportRuns.WithLabelValues("admin", "success"))
	if after != before+1 {
		t.Errorf("expected counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestRecordCatalog(t *testing.T) {
	at := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	RecordCatalog(14, 10, 57, at)

	if got := testutil.ToFloat64(CandidateVenues); got != 14 {
		t.Errorf("expected 14 candidates, got %v", got)
	}
	if got := testutil.ToFloat64(CatalogVenues); got != 10 {
		t.Errorf("expected 10 venues, got %v", got)
	}
	if got := testutil.ToFloat64(CatalogEvents); got != 57 {
		t.Errorf("expected 57 events, got %v", got)
	}
	if got := testutil.ToFloat64(LastImportTimestamp); got != float64(at.Unix()) {
		t.Errorf("expected timestamp %d, got %v", at.Unix(), got)
	}
}
