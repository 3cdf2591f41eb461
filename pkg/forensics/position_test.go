package forensics

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func positionReport(t *testing.T, csv string) (*Report, PositionFindings) {
	t.Helper()
	path := writeTempFile(t, "telemetry.csv", csv)

	result := NewPositionDetector(zerolog.Nop()).Analyze(path)
	require.False(t, result.IsError(), "expected report, got error: %+v", result.Err)

	report := result.Report
	findings, ok := report.Findings.(PositionFindings)
	require.True(t, ok)
	return report, findings
}

func TestPositionDetectorTeleportation(t *testing.T) {
	// ~1112m in one second is far beyond any ground vehicle.
	report, findings := positionReport(t,
		"vehicle_id,timestamp,latitude,longitude\n"+
			"V1,0,0,0\n"+
			"V1,1,0,0.01\n")

	assert.Equal(t, AttackPositionFalsification, report.AttackType)
	assert.Equal(t, ThreatCritical, report.ThreatLevel)
	assert.InDelta(t, 1.0, report.ConfidenceScore, 1e-9)
	assert.Equal(t, "completed", report.Status)

	assert.Equal(t, 2, findings.TotalPositionsAnalyzed)
	assert.Equal(t, 1, findings.TotalVehicles)
	assert.Equal(t, 1, findings.Teleportations)
	assert.Zero(t, findings.ImpossibleSpeeds)
	assert.Equal(t, []string{"V1"}, findings.AffectedVehicles)

	require.Len(t, findings.Anomalies, 1)
	anomaly := findings.Anomalies[0]
	assert.Equal(t, AnomalyTeleportation, anomaly.Kind)
	assert.Equal(t, "V1", anomaly.VehicleID)
	assert.InDelta(t, 1112.0, anomaly.ComputedSpeed, 1.0)

	require.Len(t, findings.GeographicHotspots, 1)
	assert.Equal(t, 0.01, findings.GeographicHotspots[0].Lon)
	assert.Equal(t, 1, findings.GeographicHotspots[0].IncidentCount)
}

func TestPositionDetectorImpossibleSpeed(t *testing.T) {
	// ~55.6 m/s computed: above the plausible ceiling, below teleport.
	report, findings := positionReport(t,
		"vehicle_id,timestamp,latitude,longitude\n"+
			"V1,0,0,0\n"+
			"V1,1,0.0005,0\n")

	assert.Equal(t, ThreatMedium, report.ThreatLevel)
	assert.Equal(t, 1, findings.ImpossibleSpeeds)
	assert.Zero(t, findings.Teleportations)
	require.Len(t, findings.Anomalies, 1)
	assert.Equal(t, AnomalyImpossibleSpeed, findings.Anomalies[0].Kind)
}

func TestPositionDetectorEmptyInput(t *testing.T) {
	report, findings := positionReport(t, "vehicle_id,timestamp,latitude,longitude\n")

	assert.Equal(t, ThreatUnknown, report.ThreatLevel)
	assert.Equal(t, 0.0, report.ConfidenceScore)
	assert.Zero(t, findings.TotalPositionsAnalyzed)
	assert.Empty(t, findings.Anomalies)
	assert.Empty(t, findings.AffectedVehicles)
}

func TestPositionDetectorNonIncreasingTimestamp(t *testing.T) {
	report, findings := positionReport(t,
		"vehicle_id,timestamp,latitude,longitude\n"+
			"V1,5,48.1,11.5\n"+
			"V1,5,48.1,11.5\n"+
			"V1,5,48.1,11.5\n")

	// One anomaly per degenerate pair
	assert.Equal(t, 2, findings.TimestampAnomalies)
	assert.Equal(t, ThreatLow, report.ThreatLevel)

	for _, a := range findings.Anomalies {
		assert.Equal(t, AnomalyNonIncreasingTimestamp, a.Kind)
		assert.LessOrEqual(t, a.TimeDelta, 0.0)
	}
}

func TestPositionDetectorTimeDeltaClamp(t *testing.T) {
	// 11m in 0.05s: the delta clamps to 0.1s, so the computed speed is
	// ~111 m/s rather than ~222.
	_, findings := positionReport(t,
		"vehicle_id,timestamp,latitude,longitude\n"+
			"V1,0,48,11\n"+
			"V1,0.05,48.0001,11\n")

	require.Len(t, findings.Anomalies, 1)
	assert.Equal(t, AnomalyTeleportation, findings.Anomalies[0].Kind)
	assert.InDelta(t, 111.2, findings.Anomalies[0].ComputedSpeed, 0.5)
	assert.Equal(t, 0.1, findings.Anomalies[0].TimeDelta)
}

func TestPositionDetectorInconsistentSpeed(t *testing.T) {
	// Vehicle reports 20 m/s but only moves ~5.6m per second.
	report, findings := positionReport(t,
		"vehicle_id,timestamp,latitude,longitude,speed\n"+
			"V1,0,48,11,20\n"+
			"V1,1,48.00005,11,20\n")

	assert.Equal(t, 1, findings.InconsistentSpeeds)
	assert.Zero(t, findings.ImpossibleSpeeds)
	assert.Equal(t, ThreatLow, report.ThreatLevel)

	require.Len(t, findings.Anomalies, 1)
	anomaly := findings.Anomalies[0]
	assert.Equal(t, AnomalyInconsistentSpeed, anomaly.Kind)
	assert.Equal(t, 20.0, anomaly.ReportedSpeed)
	assert.Greater(t, anomaly.SpeedRatio, 2.0)
}

func TestPositionDetectorStationaryVehicle(t *testing.T) {
	// A parked vehicle with clean timestamps: repeated positions accumulate
	// but only every tenth emits an anomaly record.
	var sb strings.Builder
	sb.WriteString("vehicle_id,timestamp,latitude,longitude\n")
	for i := 0; i < 11; i++ {
		sb.WriteString(fmt.Sprintf("V1,%d,48.1,11.5\n", i))
	}

	report, findings := positionReport(t, sb.String())

	assert.Equal(t, 10, findings.RepeatedPositions)
	assert.Zero(t, findings.Teleportations)
	assert.Zero(t, findings.ImpossibleSpeeds)
	assert.Equal(t, ThreatLow, report.ThreatLevel)

	require.Len(t, findings.Anomalies, 1)
	assert.Equal(t, AnomalyRepeatedPosition, findings.Anomalies[0].Kind)
	assert.Equal(t, 10, findings.Anomalies[0].MatchCount)
}

func TestPositionDetectorDroppedRecords(t *testing.T) {
	_, findings := positionReport(t,
		"vehicle_id,timestamp,latitude,longitude\n"+
			"V1,0,48.1,11.5\n"+
			"V1,1,not-a-number,11.5\n")

	assert.Equal(t, 1, findings.DroppedRecords)
	assert.Equal(t, 1, findings.TotalPositionsAnalyzed)
}

func TestPositionDetectorUnsupportedFile(t *testing.T) {
	path := writeTempFile(t, "capture.bin", "xx")

	result := NewPositionDetector(zerolog.Nop()).Analyze(path)
	require.True(t, result.IsError())
	assert.True(t, result.Err.Error)
	assert.Contains(t, result.Err.Message, "analysis failed")
	assert.False(t, result.Err.Timestamp.IsZero())
}

func TestTopHotspots(t *testing.T) {
	counts := map[[2]float64]int{
		{48.1, 11.5}: 3,
		{48.2, 11.6}: 5,
		{48.3, 11.7}: 5,
		{48.4, 11.8}: 1,
	}

	spots := topHotspots(counts, 3)
	require.Len(t, spots, 3)
	// Count descending, coordinates break ties
	assert.Equal(t, 5, spots[0].IncidentCount)
	assert.Equal(t, 48.2, spots[0].Lat)
	assert.Equal(t, 5, spots[1].IncidentCount)
	assert.Equal(t, 48.3, spots[1].Lat)
	assert.Equal(t, 3, spots[2].IncidentCount)
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 48.1234, roundTo(48.12344, 4))
	assert.Equal(t, 48.1235, roundTo(48.12346, 4))
	assert.Equal(t, -11.5, roundTo(-11.50004, 4))
}
