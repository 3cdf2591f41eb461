package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/autoforensics/autoforensics/pkg/postgres"
)

// ReportsHandler serves the archived report catalog. All endpoints degrade to
// 503 when the service runs without a database.
type ReportsHandler struct {
	db     *postgres.Pool
	logger zerolog.Logger
}

// NewReportsHandler creates a new ReportsHandler. db may be nil.
func NewReportsHandler(db *postgres.Pool, logger zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{
		db:     db,
		logger: logger.With().Str("handler", "reports").Logger(),
	}
}

// Routes returns the report-archive routes.
func (h *ReportsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListReports)
	r.Get("/{reportId}", h.GetReport)
	r.Delete("/{reportId}", h.DeleteReport)

	return r
}

// ReportListResponse represents the response for listing archived reports.
type ReportListResponse struct {
	Reports       []postgres.ReportRow `json:"reports"`
	Total         int                  `json:"total"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
	CorrelationID string               `json:"correlation_id"`
}

// ListReports handles GET /api/v1/reports
func (h *ReportsHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	if h.db == nil {
		WriteError(w, http.StatusServiceUnavailable, "Report archive is not configured", correlationID)
		return
	}

	filter := postgres.ReportFilter{
		AttackType:  r.URL.Query().Get("attack_type"),
		ThreatLevel: r.URL.Query().Get("threat_level"),
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if since, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = &since
		}
	}

	reports, err := h.db.ListReports(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list reports")
		WriteError(w, http.StatusInternalServerError, "Failed to list reports", correlationID)
		return
	}

	if reports == nil {
		reports = []postgres.ReportRow{}
	}

	WriteJSON(w, http.StatusOK, ReportListResponse{
		Reports:       reports,
		Total:         len(reports),
		Limit:         filter.Limit,
		Offset:        filter.Offset,
		CorrelationID: correlationID,
	})
}

// ReportDetailResponse represents a single archived report.
type ReportDetailResponse struct {
	Report        postgres.ReportRow `json:"report"`
	CorrelationID string             `json:"correlation_id"`
}

// GetReport handles GET /api/v1/reports/{reportId}
func (h *ReportsHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	reportID := chi.URLParam(r, "reportId")

	if h.db == nil {
		WriteError(w, http.StatusServiceUnavailable, "Report archive is not configured", correlationID)
		return
	}
	if reportID == "" {
		WriteError(w, http.StatusBadRequest, "Report ID is required", correlationID)
		return
	}

	report, err := h.db.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Report not found", correlationID)
			return
		}
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("report_id", reportID).Msg("Failed to get report")
		WriteError(w, http.StatusInternalServerError, "Failed to get report", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, ReportDetailResponse{
		Report:        *report,
		CorrelationID: correlationID,
	})
}

// DeleteReport handles DELETE /api/v1/reports/{reportId}
func (h *ReportsHandler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	reportID := chi.URLParam(r, "reportId")

	if h.db == nil {
		WriteError(w, http.StatusServiceUnavailable, "Report archive is not configured", correlationID)
		return
	}
	if reportID == "" {
		WriteError(w, http.StatusBadRequest, "Report ID is required", correlationID)
		return
	}

	if err := h.db.DeleteReport(ctx, reportID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Report not found", correlationID)
			return
		}
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("report_id", reportID).Msg("Failed to delete report")
		WriteError(w, http.StatusInternalServerError, "Failed to delete report", correlationID)
		return
	}

	WriteSuccess(w, http.StatusOK, "Report deleted", nil, correlationID)
}
