// Package forensics implements the VANET forensic detection engine: record
// normalization, per-vehicle trajectory analysis, Sybil identity comparison,
// threat scoring and report compilation. All state is request-scoped; a fresh
// detector value is constructed per analysis and nothing is shared between
// invocations.
package forensics

import (
	"encoding/json"
	"strconv"
	"strings"
)

// RawRecord is one row of the input table, keyed by lowercased column names.
// Values are strings for delimited input and raw JSON scalars for JSON input.
type RawRecord map[string]interface{}

// NormalizedRecord is the canonical record consumed by the position pipeline.
// VehicleID, Timestamp, Longitude and Latitude are guaranteed present; the
// remaining fields are nil when the source row had no parseable value.
type NormalizedRecord struct {
	VehicleID    string   `json:"vehicle_id"`
	Timestamp    float64  `json:"timestamp"`
	Longitude    float64  `json:"longitude"`
	Latitude     float64  `json:"latitude"`
	Speed        *float64 `json:"speed,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	Acceleration *float64 `json:"acceleration,omitempty"`
}

// SybilRecord is the canonical record consumed by the Sybil pipeline. It keys
// strictly on the PSN column; numeric fields that fail to parse are kept nil
// rather than dropping the row, deferring robustness to per-comparison checks.
type SybilRecord struct {
	PSN       string   `json:"psn"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	Heading   *float64 `json:"heading"`
	Speed     *float64 `json:"spd"`
	LocalTime *float64 `json:"localtime"`
	Accel     *float64 `json:"instant_accel"`
}

// Synonym lists per canonical field, evaluated in priority order. The first
// key that is present with a non-empty, parseable value wins.
var (
	vehicleIDKeys = []string{"psn", "vehicle_id", "vehicleid", "vehicle", "node_id", "id"}
	timestampKeys = []string{"localtime", "timestamp", "time", "t", "sendtime"}
	longitudeKeys = []string{"longitude", "lon", "lng", "long"}
	latitudeKeys  = []string{"latitude", "lat"}
	speedKeys     = []string{"spd", "speed", "velocity"}
	headingKeys   = []string{"heading", "hdg", "bearing"}
	accelKeys     = []string{"instant_accel", "accel", "acceleration"}
)

// NormalizeTelemetry converts raw rows into position-pipeline records. Rows
// that do not resolve all four required fields are dropped; the dropped count
// is returned for observability. The function is pure: calling it twice on the
// same input yields identical output.
func NormalizeTelemetry(rows []RawRecord) ([]NormalizedRecord, int) {
	records := make([]NormalizedRecord, 0, len(rows))
	dropped := 0

	for _, row := range rows {
		id, ok := resolveString(row, vehicleIDKeys)
		if !ok {
			dropped++
			continue
		}
		ts, ok := resolveFloat(row, timestampKeys)
		if !ok {
			dropped++
			continue
		}
		lon, ok := resolveFloat(row, longitudeKeys)
		if !ok {
			dropped++
			continue
		}
		lat, ok := resolveFloat(row, latitudeKeys)
		if !ok {
			dropped++
			continue
		}

		rec := NormalizedRecord{
			VehicleID: id,
			Timestamp: ts,
			Longitude: lon,
			Latitude:  lat,
		}
		if v, ok := resolveFloat(row, speedKeys); ok {
			rec.Speed = &v
		}
		if v, ok := resolveFloat(row, headingKeys); ok {
			rec.Heading = &v
		}
		if v, ok := resolveFloat(row, accelKeys); ok {
			rec.Acceleration = &v
		}
		records = append(records, rec)
	}

	return records, dropped
}

// NormalizeSybil converts raw rows into Sybil-pipeline records. Rows without a
// PSN are excluded; every other field is nulled on parse failure and the row
// is kept.
func NormalizeSybil(rows []RawRecord) []SybilRecord {
	records := make([]SybilRecord, 0, len(rows))

	for _, row := range rows {
		psn, ok := resolveString(row, []string{"psn"})
		if !ok {
			continue
		}
		records = append(records, SybilRecord{
			PSN:       psn,
			X:         floatField(row, "x"),
			Y:         floatField(row, "y"),
			Heading:   floatField(row, "heading"),
			Speed:     floatField(row, "spd"),
			LocalTime: floatField(row, "localtime"),
			Accel:     floatField(row, "instant_accel"),
		})
	}

	return records
}

// resolveString returns the first non-empty string value among the candidate
// keys.
func resolveString(row RawRecord, keys []string) (string, bool) {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		s := stringify(v)
		if s != "" {
			return s, true
		}
	}
	return "", false
}

// resolveFloat returns the first numerically parseable value among the
// candidate keys.
func resolveFloat(row RawRecord, keys []string) (float64, bool) {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

// floatField parses a single exact key into a nullable float.
func floatField(row RawRecord, key string) *float64 {
	v, ok := row[key]
	if !ok || v == nil {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return ""
	default:
		return ""
	}
}
