// Package events publishes analysis lifecycle events to NATS for real-time
// consumers (the WebSocket hub and any external subscriber). Publishing is
// fire-and-forget; a nil connection disables it without error.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects for completed analysis reports.
const (
	SubjectReportSybil    = "forensics.report.sybil"
	SubjectReportPosition = "forensics.report.position"
	// SubjectReportAll is the wildcard consumers subscribe to.
	SubjectReportAll = "forensics.report.>"
)

// ReportEvent is the envelope published when an analysis completes.
type ReportEvent struct {
	ReportID      string      `json:"report_id"`
	AttackType    string      `json:"attack_type"`
	Filename      string      `json:"filename"`
	ThreatLevel   string      `json:"threat_level"`
	Confidence    float64     `json:"confidence_score"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	Report        interface{} `json:"report"`
}

// Publisher publishes report events over a core NATS connection.
type Publisher struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewPublisher wraps a NATS connection. nc may be nil, in which case every
// publish is a no-op.
func NewPublisher(nc *nats.Conn, logger zerolog.Logger) *Publisher {
	return &Publisher{
		nc:     nc,
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Connected reports whether events will actually be delivered.
func (p *Publisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// PublishReport sends a completed-report event on the given subject. Failures
// are logged, never returned: event delivery must not fail an analysis
// request.
func (p *Publisher) PublishReport(subject string, event ReportEvent) {
	if p.nc == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("Failed to marshal report event")
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("Failed to publish report event")
		return
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("report_id", event.ReportID).
		Str("threat_level", event.ThreatLevel).
		Msg("Published report event")
}

// SubjectFor maps an attack type name to its publish subject.
func SubjectFor(attackType string) string {
	switch attackType {
	case "Sybil Attack":
		return SubjectReportSybil
	case "Position Falsification":
		return SubjectReportPosition
	default:
		return "forensics.report.unknown"
	}
}
