package forensics

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
)

// Motion thresholds for the position-falsification pipeline, in SI units.
const (
	// minTimeDelta is the floor applied to non-positive or near-zero time
	// deltas before dividing, so near-duplicate timestamps cannot blow up
	// the computed speed.
	minTimeDelta = 0.1
	// teleportSpeed is the computed speed above which a movement is
	// physically unrealizable for any ground vehicle.
	teleportSpeed = 100.0
	// impossibleSpeed is the computed speed above which a movement is
	// implausible for normal traffic.
	impossibleSpeed = 50.0
	// speedRatioLimit gates the reported-vs-computed mismatch check.
	speedRatioLimit = 2.0
	// minComparableSpeed is the floor below which reported and computed
	// speeds are too small for the ratio check to be meaningful.
	minComparableSpeed = 0.1
	// repeatedPositionRadius is the movement below which two consecutive
	// reports count as the same position.
	repeatedPositionRadius = 0.1
	// repeatedPositionSampling bounds output size: only every Nth repeated
	// position emits an anomaly record.
	repeatedPositionSampling = 10
	// hotspotPrecision rounds hotspot coordinates to ~11m buckets.
	hotspotPrecision = 4
	// maxHotspots caps the hotspot list in the findings.
	maxHotspots = 10
)

// PositionFindings aggregates the position-falsification analysis of one
// input table.
type PositionFindings struct {
	TotalPositionsAnalyzed int              `json:"total_positions_analyzed"`
	TotalVehicles          int              `json:"total_vehicles"`
	DroppedRecords         int              `json:"dropped_records"`
	Teleportations         int              `json:"teleportations"`
	ImpossibleSpeeds       int              `json:"impossible_speeds"`
	InconsistentSpeeds     int              `json:"inconsistent_speeds"`
	TimestampAnomalies     int              `json:"timestamp_anomalies"`
	RepeatedPositions      int              `json:"repeated_positions"`
	Anomalies              []Anomaly        `json:"anomalies"`
	AffectedVehicles       []string         `json:"affected_vehicles"`
	GeographicHotspots     []Hotspot        `json:"geographic_hotspots"`
	BaselineMetrics        DetectionMetrics `json:"baseline_detection_metrics"`
}

// PositionDetector analyzes per-vehicle trajectories for physically impossible
// movement. Construct a fresh value per request; the detector holds no mutable
// state across calls.
type PositionDetector struct {
	logger zerolog.Logger
}

// NewPositionDetector creates a position-falsification detector.
func NewPositionDetector(logger zerolog.Logger) *PositionDetector {
	return &PositionDetector{
		logger: logger.With().Str("detector", "position_falsification").Logger(),
	}
}

// Analyze reads the file at path and runs the full position-falsification
// pipeline. Failures never propagate: the returned Result carries either a
// completed report or the structured error envelope.
func (d *PositionDetector) Analyze(path string) Result {
	return guard(d.logger, func() Result {
		rows, err := ReadRecords(path)
		if err != nil {
			d.logger.Warn().Err(err).Str("path", path).Msg("position analysis failed to read input")
			return errorResult(fmt.Errorf("analysis failed: %w", err))
		}

		records, dropped := NormalizeTelemetry(rows)
		groups := GroupTrajectories(records)
		findings := d.analyzeTrajectories(groups, dropped)

		level, confidence := scoreMovement(
			findings.Teleportations,
			findings.ImpossibleSpeeds,
			findings.InconsistentSpeeds,
			findings.TimestampAnomalies,
			findings.TotalPositionsAnalyzed,
		)

		d.logger.Info().
			Int("positions", findings.TotalPositionsAnalyzed).
			Int("vehicles", findings.TotalVehicles).
			Int("teleportations", findings.Teleportations).
			Int("impossible_speeds", findings.ImpossibleSpeeds).
			Str("threat_level", level.String()).
			Msg("Position falsification analysis complete")

		return reportResult(compileReport(AttackPositionFalsification, path, level, confidence, findings))
	})
}

// analyzeTrajectories walks every trajectory pairwise and aggregates anomaly
// counts, events and hotspots.
func (d *PositionDetector) analyzeTrajectories(groups map[string][]NormalizedRecord, dropped int) PositionFindings {
	findings := PositionFindings{
		DroppedRecords:  dropped,
		TotalVehicles:   len(groups),
		Anomalies:       []Anomaly{},
		BaselineMetrics: positionBaselineMetrics(),
	}

	hotspots := make(map[[2]float64]int)
	affected := make(map[string]bool)
	repeatCount := 0

	flag := func(a Anomaly) {
		findings.Anomalies = append(findings.Anomalies, a)
		affected[a.VehicleID] = true
	}

	for _, vehicleID := range sortedKeys(groups) {
		traj := groups[vehicleID]
		findings.TotalPositionsAnalyzed += len(traj)

		for i := 1; i < len(traj); i++ {
			prev, curr := traj[i-1], traj[i]

			dt := curr.Timestamp - prev.Timestamp
			if dt <= 0 {
				findings.TimestampAnomalies++
				flag(Anomaly{
					Kind:      AnomalyNonIncreasingTimestamp,
					VehicleID: vehicleID,
					Timestamp: curr.Timestamp,
					Latitude:  curr.Latitude,
					Longitude: curr.Longitude,
					TimeDelta: dt,
				})
			}
			// The clamp applies even after flagging so the speed checks
			// still run on the degenerate interval.
			if dt < minTimeDelta {
				dt = minTimeDelta
			}

			distance := Haversine(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude)
			computed := distance / dt

			if curr.Speed != nil && *curr.Speed > minComparableSpeed && computed > minComparableSpeed {
				ratio := math.Max(*curr.Speed, computed) / math.Min(*curr.Speed, computed)
				if ratio > speedRatioLimit {
					findings.InconsistentSpeeds++
					flag(Anomaly{
						Kind:          AnomalyInconsistentSpeed,
						VehicleID:     vehicleID,
						Timestamp:     curr.Timestamp,
						Latitude:      curr.Latitude,
						Longitude:     curr.Longitude,
						ComputedSpeed: computed,
						ReportedSpeed: *curr.Speed,
						SpeedRatio:    ratio,
					})
				}
			}

			switch {
			case computed > teleportSpeed:
				findings.Teleportations++
				hotspots[hotspotKey(curr.Latitude, curr.Longitude)]++
				flag(Anomaly{
					Kind:           AnomalyTeleportation,
					VehicleID:      vehicleID,
					Timestamp:      curr.Timestamp,
					Latitude:       curr.Latitude,
					Longitude:      curr.Longitude,
					ComputedSpeed:  computed,
					DistanceMeters: distance,
					TimeDelta:      dt,
				})
			case computed > impossibleSpeed:
				findings.ImpossibleSpeeds++
				hotspots[hotspotKey(curr.Latitude, curr.Longitude)]++
				flag(Anomaly{
					Kind:           AnomalyImpossibleSpeed,
					VehicleID:      vehicleID,
					Timestamp:      curr.Timestamp,
					Latitude:       curr.Latitude,
					Longitude:      curr.Longitude,
					ComputedSpeed:  computed,
					DistanceMeters: distance,
					TimeDelta:      dt,
				})
			}

			if distance < repeatedPositionRadius {
				findings.RepeatedPositions++
				repeatCount++
				// Sampled: unbounded GPS-lock streams would otherwise
				// dominate the findings.
				if repeatCount%repeatedPositionSampling == 0 {
					flag(Anomaly{
						Kind:           AnomalyRepeatedPosition,
						VehicleID:      vehicleID,
						Timestamp:      curr.Timestamp,
						Latitude:       curr.Latitude,
						Longitude:      curr.Longitude,
						DistanceMeters: distance,
						MatchCount:     repeatCount,
					})
				}
			}
		}
	}

	findings.AffectedVehicles = sortedKeys(affected)
	findings.GeographicHotspots = topHotspots(hotspots, maxHotspots)
	return findings
}

func hotspotKey(lat, lon float64) [2]float64 {
	return [2]float64{roundTo(lat, hotspotPrecision), roundTo(lon, hotspotPrecision)}
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

// topHotspots returns the n busiest coordinate buckets, count descending with
// coordinate order as a deterministic tie-break.
func topHotspots(counts map[[2]float64]int, n int) []Hotspot {
	spots := make([]Hotspot, 0, len(counts))
	for key, count := range counts {
		spots = append(spots, Hotspot{Lat: key[0], Lon: key[1], IncidentCount: count})
	}
	sort.Slice(spots, func(i, j int) bool {
		if spots[i].IncidentCount != spots[j].IncidentCount {
			return spots[i].IncidentCount > spots[j].IncidentCount
		}
		if spots[i].Lat != spots[j].Lat {
			return spots[i].Lat < spots[j].Lat
		}
		return spots[i].Lon < spots[j].Lon
	})
	if len(spots) > n {
		spots = spots[:n]
	}
	return spots
}
