package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-insights/pkg/analytics"
	"github.com/ekaya-inc/ekaya-insights/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-insights/pkg/queries"
	"github.com/ekaya-inc/ekaya-insights/pkg/requestctx"
	"github.com/ekaya-inc/ekaya-insights/pkg/services"
)

// MaxBatchSize caps the reports accepted by one batch request.
const MaxBatchSize = 20

// ListReportsResponse is the catalog listing.
type ListReportsResponse struct {
	Reports []*queries.Template `json:"reports"`
}

// RunReportRequest is the optional body of POST /api/reports/{name}.
type RunReportRequest struct {
	Params map[string]any `json:"params"`
}

// BatchRequest is the body of POST /api/reports/batch.
type BatchRequest struct {
	Reports []services.ReportRequest `json:"reports"`
}

// BatchEntry is one report of a batch response.
type BatchEntry struct {
	Report  string                 `json:"report"`
	Success bool                   `json:"success"`
	Data    *services.ReportResult `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// BatchResponse lists batch results in request order.
type BatchResponse struct {
	Results []BatchEntry `json:"results"`
}

// ReportsHandler handles report HTTP requests.
type ReportsHandler struct {
	reportService services.ReportService
	logger        *zap.Logger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(reportService services.ReportService, logger *zap.Logger) *ReportsHandler {
	return &ReportsHandler{
		reportService: reportService,
		logger:        logger,
	}
}

// RegisterRoutes registers the reports handler's routes on the given mux.
func (h *ReportsHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/reports"

	mux.HandleFunc("GET "+base, h.List)
	mux.HandleFunc("POST "+base+"/batch", h.Batch)
	mux.HandleFunc("GET "+base+"/{name}", h.Run)
	mux.HandleFunc("POST "+base+"/{name}", h.Run)
	mux.HandleFunc("GET "+base+"/{name}/query", h.Query)
}

// List handles GET /api/reports
func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	data := ListReportsResponse{Reports: h.reportService.List()}

	response := ApiResponse{Success: true, Data: data}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Run handles GET and POST /api/reports/{name}. GET reads params from the
// query string; POST reads them from a RunReportRequest body.
func (h *ReportsHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	params, ok := h.readParams(w, r)
	if !ok {
		return
	}

	result, err := h.reportService.Run(r.Context(), name, params)
	if err != nil {
		h.writeReportError(w, name, err)
		return
	}

	response := ApiResponse{Success: true, Data: result}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Query handles GET /api/reports/{name}/query, returning the rendered query
// without running it.
func (h *ReportsHandler) Query(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	params, ok := h.readParams(w, r)
	if !ok {
		return
	}

	rendered, err := h.reportService.Render(r.Context(), name, params)
	if err != nil {
		h.writeReportError(w, name, err)
		return
	}

	response := ApiResponse{Success: true, Data: rendered}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Batch handles POST /api/reports/batch
func (h *ReportsHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if len(req.Reports) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_reports", "At least one report is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if len(req.Reports) > MaxBatchSize {
		msg := fmt.Sprintf("A batch may contain at most %d reports", MaxBatchSize)
		if err := ErrorResponse(w, http.StatusBadRequest, "batch_too_large", msg); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	results := h.reportService.RunBatch(r.Context(), req.Reports)

	data := BatchResponse{Results: make([]BatchEntry, len(results))}
	for i, res := range results {
		entry := BatchEntry{Report: res.Report, Success: res.Err == nil, Data: res.Result}
		if res.Err != nil {
			_, entry.Error, entry.Message = classifyReportError(res.Err)
		}
		data.Results[i] = entry
	}

	response := ApiResponse{Success: true, Data: data}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// readParams collects report params. Scope parameters (tz, filterInternal,
// filterFree) are consumed by middleware and never passed on.
func (h *ReportsHandler) readParams(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	params := make(map[string]any)

	if r.Method == http.MethodPost && r.Body != nil {
		var req RunReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return nil, false
		}
		for k, v := range req.Params {
			params[k] = v
		}
	}

	for key, values := range r.URL.Query() {
		if requestctx.IsScopeParam(key) || len(values) == 0 {
			continue
		}
		if _, set := params[key]; !set {
			params[key] = values[0]
		}
	}

	return params, true
}

func (h *ReportsHandler) writeReportError(w http.ResponseWriter, name string, err error) {
	status, code, message := classifyReportError(err)

	switch {
	case status >= http.StatusInternalServerError:
		h.logger.Error("Report failed",
			zap.String("report", name),
			zap.Int("status", status),
			zap.Error(err))
	default:
		h.logger.Debug("Report rejected",
			zap.String("report", name),
			zap.Error(err))
	}

	if errors.Is(err, analytics.ErrThrottled) {
		w.Header().Set("Retry-After", strconv.Itoa(int(analytics.DefaultRetryDelay.Seconds())))
	}

	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// classifyReportError maps a report failure to an HTTP status, an error code
// and a client-facing message. Backend details stay in the logs.
func classifyReportError(err error) (int, string, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", "Report not found"
	case services.IsClientError(err):
		return http.StatusBadRequest, "invalid_parameter", err.Error()
	case errors.Is(err, analytics.ErrThrottled):
		return http.StatusServiceUnavailable, "analytics_throttled", "Analytics service is throttling requests"
	case errors.Is(err, analytics.ErrServer), errors.Is(err, analytics.ErrGeneric):
		return http.StatusBadGateway, "analytics_error", "Analytics query failed"
	case errors.Is(err, apperrors.ErrQueryTimeout):
		return http.StatusGatewayTimeout, "query_timeout", "Report query timed out"
	case errors.Is(err, apperrors.ErrNotConfigured):
		return http.StatusServiceUnavailable, "not_configured", "Report backend is not configured"
	default:
		return http.StatusInternalServerError, "query_failed", "Failed to run report"
	}
}
