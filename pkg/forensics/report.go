package forensics

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// AttackType names the analysis that produced a report.
type AttackType string

const (
	AttackSybil                 AttackType = "Sybil Attack"
	AttackPositionFalsification AttackType = "Position Falsification"
)

// Report is a completed analysis report handed to the transport and
// persistence layers. Findings is one of PositionFindings or SybilFindings.
type Report struct {
	AttackType        AttackType  `json:"attack_type"`
	AnalysisTimestamp time.Time   `json:"analysis_timestamp"`
	FileAnalyzed      string      `json:"file_analyzed"`
	ThreatLevel       ThreatLevel `json:"threat_level"`
	ConfidenceScore   float64     `json:"confidence_score"`
	Status            string      `json:"status"`
	Findings          interface{} `json:"findings"`
	Summary           string      `json:"summary"`
	Recommendations   []string    `json:"recommendations"`
}

// ErrorEnvelope is the structured failure shape crossing the engine boundary.
// Callers check the Error marker; the engine never propagates a raw error or
// panic past Analyze.
type ErrorEnvelope struct {
	Error     bool      `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is the engine's boundary value: exactly one of Report or Err is set.
type Result struct {
	Report *Report
	Err    *ErrorEnvelope
}

// IsError reports whether the analysis failed.
func (r Result) IsError() bool {
	return r.Err != nil
}

// MarshalJSON serializes whichever side of the union is populated.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(r.Err)
	}
	return json.Marshal(r.Report)
}

func reportResult(report *Report) Result {
	return Result{Report: report}
}

func errorResult(err error) Result {
	return Result{Err: &ErrorEnvelope{
		Error:     true,
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	}}
}

// guard runs fn and converts a panic into the error envelope, so an internal
// numeric or logic fault cannot escape the engine boundary.
func guard(logger zerolog.Logger, fn func() Result) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("analysis panicked, returning error envelope")
			result = errorResult(fmt.Errorf("analysis failed: internal error: %v", rec))
		}
	}()
	return fn()
}

// compileReport assembles the final report envelope with tier-selected
// summary prose and recommendations.
func compileReport(attack AttackType, path string, level ThreatLevel, confidence float64, findings interface{}) *Report {
	return &Report{
		AttackType:        attack,
		AnalysisTimestamp: time.Now().UTC(),
		FileAnalyzed:      filepath.Base(path),
		ThreatLevel:       level,
		ConfidenceScore:   confidence,
		Status:            "completed",
		Findings:          findings,
		Summary:           summaryFor(attack, level),
		Recommendations:   recommendationsFor(attack, level),
	}
}

func summaryFor(attack AttackType, level ThreatLevel) string {
	switch attack {
	case AttackSybil:
		switch {
		case level >= ThreatHigh:
			return "Critical Sybil attack patterns detected. Multiple malicious nodes " +
				"are creating fake identities to compromise network integrity. " +
				"Immediate action required."
		case level == ThreatMedium:
			return "Moderate Sybil attack indicators found. Some suspicious identity " +
				"patterns detected that warrant further investigation and monitoring."
		default:
			return "Low-level suspicious activity detected. No immediate threat, " +
				"but continued monitoring recommended."
		}
	default:
		switch {
		case level >= ThreatHigh:
			return "Significant position falsification detected. Multiple vehicles " +
				"broadcasting false GPS coordinates. This poses serious safety and " +
				"security risks to the vehicular network. Immediate intervention required."
		case level == ThreatMedium:
			return "Moderate position falsification indicators found. Several anomalous " +
				"GPS patterns detected that suggest potential location spoofing. " +
				"Further investigation and monitoring recommended."
		default:
			return "Minor GPS inconsistencies detected. Likely due to normal signal " +
				"degradation or environmental factors. No immediate security concern."
		}
	}
}

func recommendationsFor(attack AttackType, level ThreatLevel) []string {
	var recs []string
	var urgent []string

	switch attack {
	case AttackSybil:
		recs = []string{
			"Implement robust identity verification mechanisms",
			"Deploy distributed trust management systems",
			"Monitor for duplicate MAC addresses and certificate chains",
			"Implement rate limiting for message broadcasts",
			"Use cryptographic authentication for all V2X communications",
		}
		urgent = []string{
			"URGENT: Isolate suspected malicious nodes immediately",
			"Perform network-wide security audit",
		}
	default:
		recs = []string{
			"Implement GPS signal authentication mechanisms",
			"Deploy multi-source location verification (GPS + cellular + inertial)",
			"Cross-reference position data with neighboring vehicles",
			"Monitor for physically impossible movements",
			"Implement speed and acceleration sanity checks",
			"Use cryptographic signatures for position messages",
			"Deploy position plausibility checking algorithms",
		}
		urgent = []string{
			"URGENT: Flag and isolate vehicles with falsified positions",
			"Notify traffic management systems of compromised data",
			"Implement emergency position verification protocols",
		}
	}

	if level >= ThreatHigh {
		return append(urgent, recs...)
	}
	return recs
}
