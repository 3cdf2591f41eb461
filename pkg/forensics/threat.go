package forensics

import (
	"encoding/json"
	"math"
)

// ThreatLevel represents the overall severity of an analysis outcome.
type ThreatLevel int

const (
	ThreatUnknown ThreatLevel = iota
	ThreatLow
	ThreatMedium
	ThreatHigh
	ThreatCritical
)

func (t ThreatLevel) String() string {
	switch t {
	case ThreatLow:
		return "Low"
	case ThreatMedium:
		return "Medium"
	case ThreatHigh:
		return "High"
	case ThreatCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

func (t ThreatLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ThreatLevel) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "Low":
		*t = ThreatLow
	case "Medium":
		*t = ThreatMedium
	case "High":
		*t = ThreatHigh
	case "Critical":
		*t = ThreatCritical
	default:
		*t = ThreatUnknown
	}
	return nil
}

// scoreMovement maps aggregated position-falsification counts to a threat level
// and a confidence score derived from anomaly density. totalPoints is every
// record visited, including the first point of each trajectory.
func scoreMovement(teleportations, impossibleSpeeds, inconsistentSpeeds, timestampAnomalies, totalPoints int) (ThreatLevel, float64) {
	if totalPoints == 0 {
		return ThreatUnknown, 0.0
	}

	totalAnomalies := teleportations + impossibleSpeeds + inconsistentSpeeds + timestampAnomalies
	confidence := math.Min(1.0, float64(totalAnomalies)/float64(totalPoints)*10)

	teleportRate := float64(teleportations) / float64(totalPoints)
	impossibleRate := float64(impossibleSpeeds) / float64(totalPoints)

	var level ThreatLevel
	switch {
	case teleportations > 5 || teleportRate > 0.01:
		level = ThreatCritical
	case teleportations > 0 || impossibleSpeeds > 10 || impossibleRate > 0.02:
		level = ThreatHigh
	case impossibleSpeeds > 0 || inconsistentSpeeds > 20:
		level = ThreatMedium
	default:
		level = ThreatLow
	}

	return level, confidence
}

// scoreIdentity maps the total count of Sybil indicators to a threat level with
// a fixed confidence per tier. Unlike scoreMovement, confidence is a lookup, not
// a density.
func scoreIdentity(totalIndicators int) (ThreatLevel, float64) {
	switch {
	case totalIndicators >= 10:
		return ThreatCritical, 0.95
	case totalIndicators >= 5:
		return ThreatHigh, 0.88
	case totalIndicators >= 2:
		return ThreatMedium, 0.75
	default:
		return ThreatLow, 0.60
	}
}
