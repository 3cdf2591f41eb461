package forensics

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sybilReport(t *testing.T, csv string) (*Report, SybilFindings) {
	t.Helper()
	path := writeTempFile(t, "messages.csv", csv)

	result := NewSybilDetector(zerolog.Nop()).Analyze(path)
	require.False(t, result.IsError(), "expected report, got error: %+v", result.Err)

	report := result.Report
	findings, ok := report.Findings.(SybilFindings)
	require.True(t, ok)
	return report, findings
}

func TestSybilDetectorClonedTrajectories(t *testing.T) {
	// Two pseudonyms replaying the same path with the same kinematics at
	// different times: a cloned trajectory plus two behavior-clone links,
	// but no same-instant conflicts.
	var sb strings.Builder
	sb.WriteString("psn,x,y,spd,heading,localtime,instant_accel\n")
	for i := 0; i < 5; i++ {
		sb.WriteString(fmt.Sprintf("101,%d,20,10,1.0,%d,0.1\n", 10+i, i))
	}
	for i := 0; i < 5; i++ {
		sb.WriteString(fmt.Sprintf("102,%d,20,10,1.0,%d,0.3\n", 10+i, 100+i))
	}

	report, findings := sybilReport(t, sb.String())

	assert.Equal(t, AttackSybil, report.AttackType)
	assert.Equal(t, 2, findings.TotalVehiclesAnalyzed)
	assert.Equal(t, 10, findings.TotalMessages)

	require.Len(t, findings.ClonedTrajectories, 1)
	match := findings.ClonedTrajectories[0]
	assert.Equal(t, "101", match.VehicleA)
	assert.Equal(t, "102", match.VehicleB)
	assert.Equal(t, 5, match.MatchCount)

	assert.Empty(t, findings.PositionConflicts)

	// The behavior scan links each vehicle to its first matching peer.
	require.Len(t, findings.BehaviorClones, 2)
	assert.Equal(t, "101", findings.BehaviorClones[0].VehicleID)
	assert.Equal(t, "102", findings.BehaviorClones[0].CloneOf)
	assert.Equal(t, "102", findings.BehaviorClones[1].VehicleID)
	assert.Equal(t, "101", findings.BehaviorClones[1].CloneOf)
	assert.InDelta(t, 0.2, findings.BehaviorClones[0].AccelDelta, 1e-9)

	assert.Equal(t, []string{"101", "102"}, findings.SuspiciousIdentities)

	// 1 clone + 2 behavior links
	assert.Equal(t, 3, findings.TotalIndicators())
	assert.Equal(t, ThreatMedium, report.ThreatLevel)
	assert.Equal(t, 0.75, report.ConfidenceScore)
}

func TestSybilDetectorPositionConflict(t *testing.T) {
	// Two identities one meter apart within the same 0.1s bucket, with
	// dissimilar kinematics so nothing else fires.
	report, findings := sybilReport(t,
		"psn,x,y,spd,heading,localtime\n"+
			"201,0,0,5,0,10.02\n"+
			"202,1,0,20,3,10.04\n")

	require.Len(t, findings.PositionConflicts, 1)
	conflict := findings.PositionConflicts[0]
	assert.Equal(t, "201", conflict.VehicleA)
	assert.Equal(t, "202", conflict.VehicleB)
	assert.InDelta(t, 1.0, conflict.Distance, 1e-9)
	assert.Equal(t, 10.02, conflict.Timestamp)

	assert.Empty(t, findings.ClonedTrajectories)
	assert.Empty(t, findings.BehaviorClones)
	assert.Equal(t, []string{"201", "202"}, findings.SuspiciousIdentities)

	assert.Equal(t, ThreatLow, report.ThreatLevel)
	assert.Equal(t, 0.60, report.ConfidenceScore)
}

func TestSybilDetectorNoConflictAcrossBuckets(t *testing.T) {
	// Same spot, but 0.3s apart: different time buckets, no conflict.
	_, findings := sybilReport(t,
		"psn,x,y,spd,heading,localtime\n"+
			"201,0,0,5,0,10.0\n"+
			"202,0,0,20,3,10.3\n")

	assert.Empty(t, findings.PositionConflicts)
	assert.Empty(t, findings.SuspiciousIdentities)
}

func TestSybilDetectorBehaviorCloneFirstMatch(t *testing.T) {
	// Three far-apart vehicles sharing a speed/heading signature. The scan
	// stops at the first matching peer, so each vehicle yields exactly one
	// link and the relation is not symmetric.
	var sb strings.Builder
	sb.WriteString("psn,x,y,spd,heading,localtime\n")
	for _, psn := range []string{"301", "302", "303"} {
		for i := 0; i < 5; i++ {
			x := map[string]int{"301": 0, "302": 1000, "303": 2000}[psn] + i
			sb.WriteString(fmt.Sprintf("%s,%d,0,10,1.0,%d\n", psn, x, i))
		}
	}

	_, findings := sybilReport(t, sb.String())

	assert.Empty(t, findings.ClonedTrajectories)
	assert.Empty(t, findings.PositionConflicts)

	require.Len(t, findings.BehaviorClones, 3)
	assert.Equal(t, "301", findings.BehaviorClones[0].VehicleID)
	assert.Equal(t, "302", findings.BehaviorClones[0].CloneOf)
	assert.Equal(t, "302", findings.BehaviorClones[1].VehicleID)
	assert.Equal(t, "301", findings.BehaviorClones[1].CloneOf)
	assert.Equal(t, "303", findings.BehaviorClones[2].VehicleID)
	assert.Equal(t, "301", findings.BehaviorClones[2].CloneOf)
}

func TestSybilDetectorEmptyInput(t *testing.T) {
	report, findings := sybilReport(t, "psn,x,y,spd,heading,localtime\n")

	assert.Equal(t, ThreatUnknown, report.ThreatLevel)
	assert.Equal(t, 0.0, report.ConfidenceScore)
	assert.Zero(t, findings.TotalMessages)
	assert.Zero(t, findings.TotalVehiclesAnalyzed)
	assert.Empty(t, findings.ClonedTrajectories)
	assert.Empty(t, findings.PositionConflicts)
	assert.Empty(t, findings.BehaviorClones)
}

func TestSybilDetectorMissingFieldsTolerated(t *testing.T) {
	// Records with unparseable coordinates are kept but excluded from the
	// pairwise comparisons, never panicking the pipeline.
	result := NewSybilDetector(zerolog.Nop()).Analyze(writeTempFile(t, "m.csv",
		"psn,x,y,spd,heading,localtime\n"+
			"401,,0,10,1.0,0\n"+
			"402,5,0,10,1.0,0\n"))

	require.False(t, result.IsError())
	findings := result.Report.Findings.(SybilFindings)
	assert.Equal(t, 2, findings.TotalMessages)
	assert.Empty(t, findings.PositionConflicts)
}

func TestSybilDetectorUnreadableFile(t *testing.T) {
	result := NewSybilDetector(zerolog.Nop()).Analyze("/nonexistent/input.csv")
	require.True(t, result.IsError())
	assert.True(t, result.Err.Error)
	assert.Contains(t, result.Err.Message, "analysis failed")
}
