package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-insights/pkg/analytics"
	"github.com/ekaya-inc/ekaya-insights/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-insights/pkg/audit"
	"github.com/ekaya-inc/ekaya-insights/pkg/metrics"
	"github.com/ekaya-inc/ekaya-insights/pkg/queries"
	"github.com/ekaya-inc/ekaya-insights/pkg/sql"
)

// QueryRunner executes rendered PostgreSQL reports. *database.Runner satisfies it.
type QueryRunner interface {
	Run(ctx context.Context, query string, params ...any) ([]map[string]any, error)
}

// AnalyticsQuerier executes rendered HogQL reports. *analytics.Client satisfies it.
type AnalyticsQuerier interface {
	IsConfigured() bool
	ExecuteQuery(ctx context.Context, query string) (*analytics.QueryResult, error)
}

// TemplateSource provides report templates. *queries.Catalog satisfies it.
type TemplateSource interface {
	Get(name string) (*queries.Template, error)
	List() []*queries.Template
}

// TemplateRenderer renders template text with values for one dialect.
type TemplateRenderer interface {
	Render(ctx context.Context, name, text string, values sql.Values) (string, error)
}

// ReportService renders and runs catalog reports.
type ReportService interface {
	// List returns every report in the catalog ordered by name.
	List() []*queries.Template

	// Render returns the final query text of a report without running it.
	Render(ctx context.Context, name string, params map[string]any) (*RenderedReport, error)

	// Run renders a report and executes it against its backend.
	Run(ctx context.Context, name string, params map[string]any) (*ReportResult, error)

	// RunBatch runs several reports concurrently. Results follow request
	// order; a failing report does not stop the others.
	RunBatch(ctx context.Context, requests []ReportRequest) []BatchResult
}

// RenderedReport is the query a report would run.
type RenderedReport struct {
	Report  string          `json:"report"`
	Dialect queries.Dialect `json:"dialect"`
	Query   string          `json:"query"`
}

// ReportResult is the outcome of one report run.
type ReportResult struct {
	Report       string           `json:"report"`
	Dialect      queries.Dialect  `json:"dialect"`
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	LimitReached bool             `json:"limit_reached,omitempty"`
}

// ReportRequest names one report of a batch.
type ReportRequest struct {
	Report string         `json:"report"`
	Params map[string]any `json:"params,omitempty"`
}

// BatchResult is one entry of a batch run.
type BatchResult struct {
	Report string        `json:"report"`
	Result *ReportResult `json:"result,omitempty"`
	Err    error         `json:"-"`
}

type reportService struct {
	templates TemplateSource
	sqlRender TemplateRenderer
	hogRender TemplateRenderer
	runner    QueryRunner
	analytics AnalyticsQuerier
	pool      *WorkerPool
	auditor   *audit.SecurityAuditor
	logger    *zap.Logger
}

// NewReportService creates a new report service.
func NewReportService(
	templates TemplateSource,
	sqlRender TemplateRenderer,
	hogRender TemplateRenderer,
	runner QueryRunner,
	analyticsClient AnalyticsQuerier,
	pool *WorkerPool,
	logger *zap.Logger,
) ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = NewWorkerPool(WorkerPoolConfig{}, logger)
	}
	return &reportService{
		templates: templates,
		sqlRender: sqlRender,
		hogRender: hogRender,
		runner:    runner,
		analytics: analyticsClient,
		pool:      pool,
		auditor:   audit.NewSecurityAuditor(logger),
		logger:    logger.Named("reports"),
	}
}

var _ ReportService = (*reportService)(nil)

func (s *reportService) List() []*queries.Template {
	return s.templates.List()
}

func (s *reportService) Render(ctx context.Context, name string, params map[string]any) (*RenderedReport, error) {
	t, query, err := s.render(ctx, name, params)
	if err != nil {
		return nil, err
	}
	return &RenderedReport{Report: t.Name, Dialect: t.Dialect, Query: query}, nil
}

func (s *reportService) Run(ctx context.Context, name string, params map[string]any) (*ReportResult, error) {
	start := time.Now()
	t, query, err := s.render(ctx, name, params)
	if t == nil {
		return nil, err
	}

	var result *ReportResult
	if err == nil {
		switch t.Dialect {
		case queries.DialectHogQL:
			result, err = s.runHogQL(ctx, t, query)
		default:
			result, err = s.runPostgres(ctx, t, query)
		}
	}

	metrics.RecordReportRun(t.Name, string(t.Dialect), runOutcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// render returns the template whenever it exists, even when rendering fails,
// so callers can label the failure.
func (s *reportService) render(ctx context.Context, name string, params map[string]any) (*queries.Template, string, error) {
	t, err := s.templates.Get(name)
	if err != nil {
		return nil, "", err
	}

	values, err := buildValues(t, params)
	if err != nil {
		var injection *injectionError
		if errors.As(err, &injection) {
			s.auditor.LogInjectionAttempt(ctx, t.Name, audit.SQLInjectionDetails{
				ParamName:   injection.result.Name,
				ParamValue:  injection.result.Value,
				Fingerprint: injection.result.Fingerprint,
			})
		} else {
			s.auditor.LogParameterValidation(ctx, t.Name, err.Error())
		}
		return t, "", err
	}

	renderer := s.sqlRender
	if t.Dialect == queries.DialectHogQL {
		renderer = s.hogRender
	}

	query, err := renderer.Render(ctx, t.Name, t.Text, values)
	if err != nil {
		return t, "", fmt.Errorf("failed to render report %s: %w", t.Name, err)
	}

	if t.Dialect == queries.DialectPostgres {
		result := sql.ValidateAndNormalize(query)
		if result.Error != nil {
			return t, "", fmt.Errorf("report %s: %w", t.Name, result.Error)
		}
		query = result.NormalizedSQL
	}

	return t, query, nil
}

func (s *reportService) runPostgres(ctx context.Context, t *queries.Template, query string) (*ReportResult, error) {
	if s.runner == nil {
		return nil, fmt.Errorf("report %s: database: %w", t.Name, apperrors.ErrNotConfigured)
	}

	rows, err := s.runner.Run(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to run report %s: %w", t.Name, err)
	}

	var columns []string
	if len(rows) > 0 {
		columns = slices.Sorted(maps.Keys(rows[0]))
	}

	s.logger.Debug("Report completed",
		zap.String("report", t.Name),
		zap.Int("rows", len(rows)))

	return &ReportResult{
		Report:  t.Name,
		Dialect: t.Dialect,
		Columns: columns,
		Rows:    rows,
	}, nil
}

func (s *reportService) runHogQL(ctx context.Context, t *queries.Template, query string) (*ReportResult, error) {
	if s.analytics == nil || !s.analytics.IsConfigured() {
		s.logger.Debug("Analytics not configured, returning empty report", zap.String("report", t.Name))
		return &ReportResult{Report: t.Name, Dialect: t.Dialect, Rows: []map[string]any{}}, nil
	}

	res, err := s.analytics.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to run report %s: %w", t.Name, err)
	}

	rows := make([]map[string]any, 0, len(res.Results))
	for _, r := range res.Results {
		row := make(map[string]any, len(r))
		for i, v := range r {
			row[columnName(res.Columns, i)] = v
		}
		rows = append(rows, row)
	}

	s.logger.Debug("Report completed",
		zap.String("report", t.Name),
		zap.Int("rows", len(rows)),
		zap.Bool("limit_reached", res.LimitReached))

	return &ReportResult{
		Report:       t.Name,
		Dialect:      t.Dialect,
		Columns:      res.Columns,
		Rows:         rows,
		LimitReached: res.LimitReached,
	}, nil
}

func (s *reportService) RunBatch(ctx context.Context, requests []ReportRequest) []BatchResult {
	items := make([]WorkItem[*ReportResult], len(requests))
	for i, req := range requests {
		items[i] = WorkItem[*ReportResult]{
			ID: req.Report,
			Execute: func(ctx context.Context) (*ReportResult, error) {
				return s.Run(ctx, req.Report, req.Params)
			},
		}
	}

	results := Process(ctx, s.pool, items)

	out := make([]BatchResult, len(results))
	failed := 0
	for i, r := range results {
		out[i] = BatchResult{Report: r.ID, Result: r.Result, Err: r.Err}
		if r.Err != nil {
			failed++
		}
	}

	if failed > 0 {
		s.logger.Info("Batch finished with failures",
			zap.Int("reports", len(requests)),
			zap.Int("failed", failed))
	}
	return out
}

// IsClientError reports whether err was caused by the request rather than
// by a backend.
func IsClientError(err error) bool {
	var unresolved *sql.UnresolvedPlaceholderError
	return errors.Is(err, apperrors.ErrInvalidParameter) ||
		errors.Is(err, sql.ErrMultipleStatements) ||
		errors.As(err, &unresolved)
}

func runOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case IsClientError(err):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFailed
	}
}

func columnName(columns []string, i int) string {
	if i < len(columns) && columns[i] != "" {
		return columns[i]
	}
	return fmt.Sprintf("column_%d", i)
}
