package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/autoforensics/autoforensics/pkg/events"
	"github.com/autoforensics/autoforensics/pkg/forensics"
	"github.com/autoforensics/autoforensics/pkg/postgres"
	"github.com/autoforensics/autoforensics/pkg/upload"
)

// Prometheus metrics for the analysis pipeline
var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoforensics_analyses_total",
			Help: "Total analyses run, by attack type and outcome",
		},
		[]string{"attack_type", "outcome"},
	)

	analysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoforensics_analysis_duration_seconds",
			Help:    "Analysis duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"attack_type"},
	)

	threatLevelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoforensics_threat_levels_total",
			Help: "Completed analyses by resulting threat level",
		},
		[]string{"attack_type", "threat_level"},
	)

	anomaliesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoforensics_anomalies_detected_total",
			Help: "Anomalies detected across all analyses, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(analysesTotal, analysisDuration, threatLevelsTotal, anomaliesDetectedTotal)
}

// recordFindings feeds the per-kind anomaly counters from a completed report.
func recordFindings(findings interface{}) {
	switch f := findings.(type) {
	case forensics.PositionFindings:
		anomaliesDetectedTotal.WithLabelValues(string(forensics.AnomalyTeleportation)).Add(float64(f.Teleportations))
		anomaliesDetectedTotal.WithLabelValues(string(forensics.AnomalyImpossibleSpeed)).Add(float64(f.ImpossibleSpeeds))
		anomaliesDetectedTotal.WithLabelValues(string(forensics.AnomalyInconsistentSpeed)).Add(float64(f.InconsistentSpeeds))
		anomaliesDetectedTotal.WithLabelValues(string(forensics.AnomalyNonIncreasingTimestamp)).Add(float64(f.TimestampAnomalies))
		anomaliesDetectedTotal.WithLabelValues(string(forensics.AnomalyRepeatedPosition)).Add(float64(f.RepeatedPositions))
	case forensics.SybilFindings:
		anomaliesDetectedTotal.WithLabelValues(string(forensics.AnomalyClonedTrajectory)).Add(float64(len(f.ClonedTrajectories)))
		anomaliesDetectedTotal.WithLabelValues(string(forensics.AnomalyPositionConflict)).Add(float64(len(f.PositionConflicts)))
		anomaliesDetectedTotal.WithLabelValues(string(forensics.AnomalyBehaviorClone)).Add(float64(len(f.BehaviorClones)))
	}
}

// AnalyzeHandler runs the forensic detectors against uploaded evidence files.
// A fresh detector value is constructed per request so concurrent analyses
// share no state.
type AnalyzeHandler struct {
	store     *upload.Store
	db        *postgres.Pool
	publisher *events.Publisher
	logger    zerolog.Logger
}

// NewAnalyzeHandler creates a new AnalyzeHandler. db may be nil (no report
// archive) and publisher may wrap a nil connection (no events).
func NewAnalyzeHandler(store *upload.Store, db *postgres.Pool, publisher *events.Publisher, logger zerolog.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		store:     store,
		db:        db,
		publisher: publisher,
		logger:    logger.With().Str("handler", "analyze").Logger(),
	}
}

// Routes returns the analysis routes.
func (h *AnalyzeHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/sybil", h.AnalyzeSybil)
	r.Post("/position", h.AnalyzePosition)

	return r
}

// AnalyzeRequest is the JSON body for both analysis endpoints.
type AnalyzeRequest struct {
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename,omitempty"`
}

// AnalysisReport is the report envelope returned to the client.
type AnalysisReport struct {
	ReportID        string           `json:"report_id"`
	AttackType      string           `json:"attack_type"`
	Filename        string           `json:"filename"`
	Timestamp       time.Time        `json:"timestamp"`
	AnalysisResults forensics.Result `json:"analysis_results"`
}

// AnalyzeResponse wraps the report envelope.
type AnalyzeResponse struct {
	Success       bool           `json:"success"`
	Report        AnalysisReport `json:"report"`
	CorrelationID string         `json:"correlation_id"`
}

// AnalyzeSybil handles POST /api/v1/analyze/sybil
func (h *AnalyzeHandler) AnalyzeSybil(w http.ResponseWriter, r *http.Request) {
	h.analyze(w, r, forensics.AttackSybil, "SYBIL", func(path string, logger zerolog.Logger) forensics.Result {
		return forensics.NewSybilDetector(logger).Analyze(path)
	})
}

// AnalyzePosition handles POST /api/v1/analyze/position
func (h *AnalyzeHandler) AnalyzePosition(w http.ResponseWriter, r *http.Request) {
	h.analyze(w, r, forensics.AttackPositionFalsification, "POSITION", func(path string, logger zerolog.Logger) forensics.Result {
		return forensics.NewPositionDetector(logger).Analyze(path)
	})
}

func (h *AnalyzeHandler) analyze(w http.ResponseWriter, r *http.Request, attack forensics.AttackType, idPrefix string, run func(string, zerolog.Logger) forensics.Result) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	var req AnalyzeRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body", correlationID)
		return
	}
	if req.Filename == "" {
		WriteError(w, http.StatusBadRequest, "No filename provided", correlationID)
		return
	}

	path, err := h.store.Path(req.Filename)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "File not found", correlationID)
			return
		}
		WriteError(w, http.StatusBadRequest, "Invalid filename", correlationID)
		return
	}

	start := time.Now()
	result := run(path, h.logger.With().Str("correlation_id", correlationID).Logger())
	duration := time.Since(start)

	analysisDuration.WithLabelValues(string(attack)).Observe(duration.Seconds())
	if result.IsError() {
		analysesTotal.WithLabelValues(string(attack), "error").Inc()
		h.logger.Warn().
			Str("correlation_id", correlationID).
			Str("filename", req.Filename).
			Str("message", result.Err.Message).
			Msg("Analysis returned error envelope")
	} else {
		analysesTotal.WithLabelValues(string(attack), "completed").Inc()
		threatLevelsTotal.WithLabelValues(string(attack), result.Report.ThreatLevel.String()).Inc()
		recordFindings(result.Report.Findings)
	}

	displayName := req.OriginalFilename
	if displayName == "" {
		displayName = req.Filename
	}

	report := AnalysisReport{
		ReportID:        fmt.Sprintf("%s_%s", idPrefix, time.Now().UTC().Format("20060102_150405.000000")),
		AttackType:      string(attack),
		Filename:        displayName,
		Timestamp:       time.Now().UTC(),
		AnalysisResults: result,
	}

	// Archive and publish are best-effort: their failure never fails the
	// analysis request.
	if !result.IsError() {
		h.archiveReport(ctx, correlationID, report)
		h.publisher.PublishReport(events.SubjectFor(report.AttackType), events.ReportEvent{
			ReportID:      report.ReportID,
			AttackType:    report.AttackType,
			Filename:      report.Filename,
			ThreatLevel:   result.Report.ThreatLevel.String(),
			Confidence:    result.Report.ConfidenceScore,
			CorrelationID: correlationID,
			Timestamp:     report.Timestamp,
			Report:        report,
		})
	}

	h.logger.Info().
		Str("correlation_id", correlationID).
		Str("report_id", report.ReportID).
		Str("attack_type", report.AttackType).
		Dur("duration", duration).
		Bool("error", result.IsError()).
		Msg("Analysis request complete")

	WriteJSON(w, http.StatusOK, AnalyzeResponse{
		Success:       true,
		Report:        report,
		CorrelationID: correlationID,
	})
}

func (h *AnalyzeHandler) archiveReport(ctx context.Context, correlationID string, report AnalysisReport) {
	if h.db == nil {
		return
	}

	payload, err := json.Marshal(report)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to marshal report for archive")
		return
	}

	row := postgres.ReportRow{
		ReportID:        report.ReportID,
		AttackType:      report.AttackType,
		Filename:        report.Filename,
		ThreatLevel:     report.AnalysisResults.Report.ThreatLevel.String(),
		ConfidenceScore: report.AnalysisResults.Report.ConfidenceScore,
		Report:          payload,
		CreatedAt:       report.Timestamp,
	}

	if err := h.db.InsertReport(ctx, row); err != nil {
		h.logger.Error().Err(err).
			Str("correlation_id", correlationID).
			Str("report_id", report.ReportID).
			Msg("Failed to archive report")
		return
	}

	h.logger.Debug().
		Str("correlation_id", correlationID).
		Str("report_id", report.ReportID).
		Msg("Archived report")
}
