package forensics

import (
	"math"
	"sort"
)

// GroupTrajectories partitions position-pipeline records by vehicle and orders
// each group by ascending timestamp. The sort is stable so records sharing a
// timestamp keep their input order. Groups of size one produce no pairwise
// comparisons but still count toward the vehicle population.
func GroupTrajectories(records []NormalizedRecord) map[string][]NormalizedRecord {
	groups := make(map[string][]NormalizedRecord)
	for _, rec := range records {
		groups[rec.VehicleID] = append(groups[rec.VehicleID], rec)
	}
	for id := range groups {
		traj := groups[id]
		sort.SliceStable(traj, func(i, j int) bool {
			return traj[i].Timestamp < traj[j].Timestamp
		})
	}
	return groups
}

// GroupSybilTrajectories partitions Sybil-pipeline records by PSN, ordering
// each trajectory by localtime. Records without a localtime sort first and
// keep their input order.
func GroupSybilTrajectories(records []SybilRecord) map[string][]SybilRecord {
	groups := make(map[string][]SybilRecord)
	for _, rec := range records {
		groups[rec.PSN] = append(groups[rec.PSN], rec)
	}
	for id := range groups {
		traj := groups[id]
		sort.SliceStable(traj, func(i, j int) bool {
			return sortKey(traj[i].LocalTime) < sortKey(traj[j].LocalTime)
		})
	}
	return groups
}

// sortKey orders null localtimes before everything else.
func sortKey(t *float64) float64 {
	if t == nil {
		return math.Inf(-1)
	}
	return *t
}

// sortedKeys returns map keys in deterministic order, used wherever pairwise
// iteration must produce stable output.
func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
