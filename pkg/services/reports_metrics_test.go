package services

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-insights/pkg/metrics"
)

func TestReportService_Run_RecordsOutcome(t *testing.T) {
	runs := func(outcome string) float64 {
		return testutil.ToFloat64(metrics.ReportRuns.WithLabelValues("signups_by_day", "postgres", outcome))
	}

	tests := []struct {
		name    string
		runner  *mockRunner
		params  map[string]any
		outcome string
	}{
		{"success", &mockRunner{}, nil, metrics.OutcomeSuccess},
		{"rejected", &mockRunner{}, map[string]any{"limit": "ten"}, metrics.OutcomeRejected},
		{"failed", &mockRunner{err: errors.New("connection reset")}, nil, metrics.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := runs(tt.outcome)
			service := newTestReportService(t, tt.runner, nil)

			_, _ = service.Run(context.Background(), "signups_by_day", tt.params)

			assert.Equal(t, before+1, runs(tt.outcome))
		})
	}
}

func TestReportService_Run_UnknownReportNotRecorded(t *testing.T) {
	before := testutil.CollectAndCount(metrics.ReportRuns)
	service := newTestReportService(t, &mockRunner{}, nil)

	_, err := service.Run(context.Background(), "no_such_report_for_metrics", nil)

	assert.Error(t, err)
	assert.Equal(t, before, testutil.CollectAndCount(metrics.ReportRuns))
}
