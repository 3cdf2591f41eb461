package forensics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTelemetry(t *testing.T) {
	t.Run("canonical columns", func(t *testing.T) {
		rows := []RawRecord{
			{"vehicle_id": "V1", "timestamp": "1.5", "longitude": "11.5", "latitude": "48.1", "speed": "13.2"},
		}

		records, dropped := NormalizeTelemetry(rows)
		require.Len(t, records, 1)
		assert.Zero(t, dropped)

		rec := records[0]
		assert.Equal(t, "V1", rec.VehicleID)
		assert.Equal(t, 1.5, rec.Timestamp)
		assert.Equal(t, 11.5, rec.Longitude)
		assert.Equal(t, 48.1, rec.Latitude)
		require.NotNil(t, rec.Speed)
		assert.Equal(t, 13.2, *rec.Speed)
		assert.Nil(t, rec.Heading)
		assert.Nil(t, rec.Acceleration)
	})

	t.Run("simulator column names", func(t *testing.T) {
		rows := []RawRecord{
			{"psn": "1042", "localtime": 2.0, "lon": -122.4, "lat": 37.7, "spd": 9.0, "hdg": 1.2, "instant_accel": 0.3},
		}

		records, dropped := NormalizeTelemetry(rows)
		require.Len(t, records, 1)
		assert.Zero(t, dropped)

		rec := records[0]
		assert.Equal(t, "1042", rec.VehicleID)
		assert.Equal(t, 2.0, rec.Timestamp)
		require.NotNil(t, rec.Heading)
		assert.Equal(t, 1.2, *rec.Heading)
		require.NotNil(t, rec.Acceleration)
		assert.Equal(t, 0.3, *rec.Acceleration)
	})

	t.Run("synonym priority", func(t *testing.T) {
		// psn outranks vehicle_id, localtime outranks timestamp
		rows := []RawRecord{
			{"psn": "A", "vehicle_id": "B", "localtime": 1.0, "timestamp": 99.0, "lon": 1.0, "lat": 2.0},
		}

		records, _ := NormalizeTelemetry(rows)
		require.Len(t, records, 1)
		assert.Equal(t, "A", records[0].VehicleID)
		assert.Equal(t, 1.0, records[0].Timestamp)
	})

	t.Run("rows missing required fields are dropped", func(t *testing.T) {
		rows := []RawRecord{
			{"vehicle_id": "V1", "timestamp": 1.0, "longitude": 11.5, "latitude": 48.1},
			{"vehicle_id": "V2", "timestamp": 2.0, "longitude": 11.5}, // no latitude
			{"timestamp": 3.0, "longitude": 11.5, "latitude": 48.1},  // no id
			{"vehicle_id": "V3", "timestamp": "bogus", "longitude": 11.5, "latitude": 48.1},
		}

		records, dropped := NormalizeTelemetry(rows)
		assert.Len(t, records, 1)
		assert.Equal(t, 3, dropped)
	})

	t.Run("unparseable optional fields stay nil", func(t *testing.T) {
		rows := []RawRecord{
			{"vehicle_id": "V1", "timestamp": 1.0, "longitude": 11.5, "latitude": 48.1, "speed": "n/a"},
		}

		records, dropped := NormalizeTelemetry(rows)
		require.Len(t, records, 1)
		assert.Zero(t, dropped)
		assert.Nil(t, records[0].Speed)
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		rows := []RawRecord{
			{"vehicle_id": "V1", "timestamp": 1.0, "longitude": 11.5, "latitude": 48.1, "speed": 13.2},
			{"vehicle_id": "V2", "timestamp": 2.0, "longitude": 11.6, "latitude": 48.2},
		}

		first, droppedFirst := NormalizeTelemetry(rows)
		second, droppedSecond := NormalizeTelemetry(rows)
		assert.Equal(t, first, second)
		assert.Equal(t, droppedFirst, droppedSecond)
	})
}

func TestNormalizeSybil(t *testing.T) {
	t.Run("keys strictly on psn", func(t *testing.T) {
		rows := []RawRecord{
			{"psn": "101", "x": 10.0, "y": 20.0, "spd": 5.0, "heading": 0.5, "localtime": 1.0, "instant_accel": 0.1},
			{"vehicle_id": "V1", "x": 10.0, "y": 20.0}, // no psn, excluded
		}

		records := NormalizeSybil(rows)
		require.Len(t, records, 1)
		assert.Equal(t, "101", records[0].PSN)
	})

	t.Run("unparseable fields nulled, row kept", func(t *testing.T) {
		rows := []RawRecord{
			{"psn": "101", "x": "not-a-number", "y": 20.0},
		}

		records := NormalizeSybil(rows)
		require.Len(t, records, 1)
		assert.Nil(t, records[0].X)
		require.NotNil(t, records[0].Y)
		assert.Equal(t, 20.0, *records[0].Y)
		assert.Nil(t, records[0].Speed)
		assert.Nil(t, records[0].LocalTime)
	})

	t.Run("numeric psn values stringified", func(t *testing.T) {
		rows := []RawRecord{
			{"psn": 1042.0, "x": 1.0, "y": 2.0},
		}

		records := NormalizeSybil(rows)
		require.Len(t, records, 1)
		assert.Equal(t, "1042", records[0].PSN)
	})
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		name     string
		in       interface{}
		expected float64
		ok       bool
	}{
		{"float64", 1.5, 1.5, true},
		{"int", 3, 3.0, true},
		{"numeric string", "2.25", 2.25, true},
		{"padded string", "  7 ", 7.0, true},
		{"empty string", "", 0, false},
		{"garbage", "abc", 0, false},
		{"nil-ish bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := toFloat(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, f)
			}
		})
	}
}
