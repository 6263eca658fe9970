package handlers

import (
	"context"
	"errors"

	"github.com/ekaya-inc/ekaya-insights/pkg/queries"
	"github.com/ekaya-inc/ekaya-insights/pkg/services"
)

// mockReportService is a configurable mock for report handler tests.
type mockReportService struct {
	reports    []*queries.Template
	result     *services.ReportResult
	rendered   *services.RenderedReport
	err        error
	errByName  map[string]error
	lastName   string
	lastParams map[string]any
}

func (m *mockReportService) List() []*queries.Template {
	return m.reports
}

func (m *mockReportService) Render(ctx context.Context, name string, params map[string]any) (*services.RenderedReport, error) {
	m.lastName, m.lastParams = name, params
	if m.err != nil {
		return nil, m.err
	}
	return m.rendered, nil
}

func (m *mockReportService) Run(ctx context.Context, name string, params map[string]any) (*services.ReportResult, error) {
	m.lastName, m.lastParams = name, params
	if err := m.errByName[name]; err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &services.ReportResult{Report: name, Rows: []map[string]any{}}, nil
}

func (m *mockReportService) RunBatch(ctx context.Context, requests []services.ReportRequest) []services.BatchResult {
	out := make([]services.BatchResult, len(requests))
	for i, req := range requests {
		res, err := m.Run(ctx, req.Report, req.Params)
		out[i] = services.BatchResult{Report: req.Report, Result: res, Err: err}
	}
	return out
}

var errBackend = errors.New("backend down")
