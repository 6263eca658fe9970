package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordReportRun(t *testing.T) {
	before := testutil.ToFloat64(ReportRuns.WithLabelValues("top_events", "hogql", OutcomeSuccess))

	RecordReportRun("top_events", "hogql", OutcomeSuccess, 120*time.Millisecond)

	after := testutil.ToFloat64(ReportRuns.WithLabelValues("top_events", "hogql", OutcomeSuccess))
	if after != before+1 {
		t.Errorf("expected counter to increase by 1, got %v -> %v", before, after)
	}
	if n := testutil.CollectAndCount(ReportDuration, "insights_report_duration_seconds"); n == 0 {
		t.Error("expected duration histogram to have series")
	}
}

func TestRecordDBQuery(t *testing.T) {
	before := testutil.ToFloat64(DBQueryErrors.WithLabelValues("timeout"))

	RecordDBQuery(time.Second, "")
	RecordDBQuery(time.Second, "timeout")

	if got := testutil.ToFloat64(DBQueryErrors.WithLabelValues("timeout")); got != before+1 {
		t.Errorf("expected one timeout error recorded, got %v -> %v", before, got)
	}
}
