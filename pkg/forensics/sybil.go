package forensics

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
)

// Pairwise similarity thresholds for the Sybil pipeline, in raw simulator
// units (planar x/y, m/s, radians).
const (
	cloneDeltaXY      = 3.0
	cloneDeltaSpeed   = 0.5
	cloneDeltaHeading = 0.3
	cloneMinMatches   = 5

	conflictTimeBucket = 0.1
	conflictRadius     = 2.0

	behaviorDeltaSpeed   = 1.0
	behaviorDeltaHeading = 0.5
	behaviorMinMatches   = 5
)

// TrajectoryMatch records an unordered pair of vehicles whose trajectories
// align index-by-index within the clone tolerances.
type TrajectoryMatch struct {
	VehicleA   string `json:"vehicle_a"`
	VehicleB   string `json:"vehicle_b"`
	MatchCount int    `json:"match_count"`
}

// PositionConflict records two distinct identities occupying near-identical
// planar coordinates in the same 0.1s time bucket.
type PositionConflict struct {
	Timestamp float64 `json:"timestamp"`
	VehicleA  string  `json:"vehicle_a"`
	VehicleB  string  `json:"vehicle_b"`
	Distance  float64 `json:"distance"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// BehaviorClone is a one-directional link from a vehicle to the first peer
// whose speed/heading signature matches it. The relation is intentionally
// partial: scanning stops at the first match per vehicle, so the result is
// not a symmetric adjacency list.
type BehaviorClone struct {
	VehicleID  string  `json:"vehicle_id"`
	CloneOf    string  `json:"clone_of"`
	MatchCount int     `json:"match_count"`
	AccelDelta float64 `json:"accel_delta"`
}

// SybilFindings aggregates the Sybil-attack analysis of one input table.
type SybilFindings struct {
	TotalVehiclesAnalyzed int                `json:"total_vehicles_analyzed"`
	TotalMessages         int                `json:"total_messages"`
	ClonedTrajectories    []TrajectoryMatch  `json:"cloned_trajectory_nodes"`
	PositionConflicts     []PositionConflict `json:"position_conflicts"`
	BehaviorClones        []BehaviorClone    `json:"behavior_clones"`
	SuspiciousIdentities  []string           `json:"suspicious_identities"`
	BaselineMetrics       DetectionMetrics   `json:"baseline_detection_metrics"`
}

// TotalIndicators is the count fed to the threat scorer.
func (f SybilFindings) TotalIndicators() int {
	return len(f.ClonedTrajectories) + len(f.PositionConflicts) + len(f.BehaviorClones)
}

// SybilDetector compares trajectories pairwise across pseudonym identities to
// find cloned paths, same-time/same-place conflicts and matching behavioral
// signatures. Construct a fresh value per request.
//
// The pairwise stages are O(V²·L) in vehicle count and trajectory length; for
// populations beyond a few hundred vehicles, spatial/temporal pre-binning
// would be needed before the similarity scoring.
type SybilDetector struct {
	logger zerolog.Logger
}

// NewSybilDetector creates a Sybil-attack detector.
func NewSybilDetector(logger zerolog.Logger) *SybilDetector {
	return &SybilDetector{
		logger: logger.With().Str("detector", "sybil_attack").Logger(),
	}
}

// Analyze reads the file at path and runs the full Sybil pipeline. Failures
// never propagate: the returned Result carries either a completed report or
// the structured error envelope.
func (d *SybilDetector) Analyze(path string) Result {
	return guard(d.logger, func() Result {
		rows, err := ReadRecords(path)
		if err != nil {
			d.logger.Warn().Err(err).Str("path", path).Msg("sybil analysis failed to read input")
			return errorResult(fmt.Errorf("analysis failed: %w", err))
		}

		records := NormalizeSybil(rows)
		groups := GroupSybilTrajectories(records)
		findings := d.analyzeIdentities(records, groups)

		var level ThreatLevel
		var confidence float64
		if len(records) == 0 {
			level, confidence = ThreatUnknown, 0.0
		} else {
			level, confidence = scoreIdentity(findings.TotalIndicators())
		}

		d.logger.Info().
			Int("messages", findings.TotalMessages).
			Int("vehicles", findings.TotalVehiclesAnalyzed).
			Int("cloned_trajectories", len(findings.ClonedTrajectories)).
			Int("position_conflicts", len(findings.PositionConflicts)).
			Int("behavior_clones", len(findings.BehaviorClones)).
			Str("threat_level", level.String()).
			Msg("Sybil attack analysis complete")

		return reportResult(compileReport(AttackSybil, path, level, confidence, findings))
	})
}

func (d *SybilDetector) analyzeIdentities(records []SybilRecord, groups map[string][]SybilRecord) SybilFindings {
	findings := SybilFindings{
		TotalVehiclesAnalyzed: len(groups),
		TotalMessages:         len(records),
		ClonedTrajectories:    []TrajectoryMatch{},
		PositionConflicts:     []PositionConflict{},
		BehaviorClones:        []BehaviorClone{},
		BaselineMetrics:       sybilBaselineMetrics(),
	}

	vehicles := sortedKeys(groups)
	suspicious := make(map[string]bool)

	findings.ClonedTrajectories = d.findClonedTrajectories(vehicles, groups, suspicious)
	findings.PositionConflicts = d.findPositionConflicts(records, suspicious)
	findings.BehaviorClones = d.findBehaviorClones(vehicles, groups, suspicious)
	findings.SuspiciousIdentities = sortedKeys(suspicious)

	return findings
}

// findClonedTrajectories zips every unordered vehicle pair index-by-index and
// counts positions where planar location, speed and heading all agree within
// the clone tolerances. The comparison is positional, not time-aligned; it
// assumes comparable sampling cadence across vehicles.
func (d *SybilDetector) findClonedTrajectories(vehicles []string, groups map[string][]SybilRecord, suspicious map[string]bool) []TrajectoryMatch {
	matches := []TrajectoryMatch{}

	for i := 0; i < len(vehicles); i++ {
		for j := i + 1; j < len(vehicles); j++ {
			a, b := groups[vehicles[i]], groups[vehicles[j]]
			n := len(a)
			if len(b) < n {
				n = len(b)
			}

			count := 0
			for k := 0; k < n; k++ {
				ra, rb := a[k], b[k]
				if ra.X == nil || ra.Y == nil || rb.X == nil || rb.Y == nil ||
					ra.Speed == nil || rb.Speed == nil ||
					ra.Heading == nil || rb.Heading == nil {
					continue
				}
				if math.Abs(*ra.X-*rb.X) < cloneDeltaXY &&
					math.Abs(*ra.Y-*rb.Y) < cloneDeltaXY &&
					math.Abs(*ra.Speed-*rb.Speed) < cloneDeltaSpeed &&
					math.Abs(*ra.Heading-*rb.Heading) < cloneDeltaHeading {
					count++
				}
			}

			if count >= cloneMinMatches {
				matches = append(matches, TrajectoryMatch{
					VehicleA:   vehicles[i],
					VehicleB:   vehicles[j],
					MatchCount: count,
				})
				suspicious[vehicles[i]] = true
				suspicious[vehicles[j]] = true
			}
		}
	}

	return matches
}

// findPositionConflicts buckets all records by timestamp rounded to 0.1s and
// flags pairs of distinct identities closer than the conflict radius within a
// bucket. Two physical vehicles cannot occupy near-identical coordinates at
// the same instant.
func (d *SybilDetector) findPositionConflicts(records []SybilRecord, suspicious map[string]bool) []PositionConflict {
	buckets := make(map[int64][]SybilRecord)
	for _, rec := range records {
		if rec.LocalTime == nil || rec.X == nil || rec.Y == nil {
			continue
		}
		key := int64(math.Round(*rec.LocalTime / conflictTimeBucket))
		buckets[key] = append(buckets[key], rec)
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	conflicts := []PositionConflict{}
	for _, key := range keys {
		bucket := buckets[key]
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				a, b := bucket[i], bucket[j]
				if a.PSN == b.PSN {
					continue
				}
				dist := planarDistance(*a.X, *a.Y, *b.X, *b.Y)
				if dist < conflictRadius {
					conflicts = append(conflicts, PositionConflict{
						Timestamp: *a.LocalTime,
						VehicleA:  a.PSN,
						VehicleB:  b.PSN,
						Distance:  dist,
						X:         *a.X,
						Y:         *a.Y,
					})
					suspicious[a.PSN] = true
					suspicious[b.PSN] = true
				}
			}
		}
	}

	return conflicts
}

// findBehaviorClones compares each vehicle's speed/heading signature sequence
// against every other vehicle positionally. Acceleration deltas are recorded
// as evidence but do not gate the match. Scanning stops at the first matching
// peer per vehicle, so the output is a partial, asymmetric relation.
func (d *SybilDetector) findBehaviorClones(vehicles []string, groups map[string][]SybilRecord, suspicious map[string]bool) []BehaviorClone {
	clones := []BehaviorClone{}

	for _, v := range vehicles {
		for _, peer := range vehicles {
			if peer == v {
				continue
			}
			a, b := groups[v], groups[peer]
			n := len(a)
			if len(b) < n {
				n = len(b)
			}

			count := 0
			accelDelta := 0.0
			accelSamples := 0
			for k := 0; k < n; k++ {
				ra, rb := a[k], b[k]
				if ra.Speed == nil || rb.Speed == nil || ra.Heading == nil || rb.Heading == nil {
					continue
				}
				if math.Abs(*ra.Speed-*rb.Speed) < behaviorDeltaSpeed &&
					math.Abs(*ra.Heading-*rb.Heading) < behaviorDeltaHeading {
					count++
					if ra.Accel != nil && rb.Accel != nil {
						accelDelta += math.Abs(*ra.Accel - *rb.Accel)
						accelSamples++
					}
				}
			}

			if count >= behaviorMinMatches {
				if accelSamples > 0 {
					accelDelta /= float64(accelSamples)
				}
				clones = append(clones, BehaviorClone{
					VehicleID:  v,
					CloneOf:    peer,
					MatchCount: count,
					AccelDelta: accelDelta,
				})
				suspicious[v] = true
				suspicious[peer] = true
				break
			}
		}
	}

	return clones
}
