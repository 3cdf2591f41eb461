package forensics

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors for the file-reading boundary.
var (
	// ErrUnsupportedFormat is returned for file extensions the engine does
	// not know how to parse.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrMalformedInput is returned when a structurally valid file cannot be
	// parsed at the file level. Row-level failures never produce this error;
	// they are recovered by dropping or nulling fields.
	ErrMalformedInput = errors.New("malformed input")
)

// ReadRecords reads a telemetry table from disk, dispatching on the file
// extension. Supported: .json (array of objects, or an object wrapping one),
// .csv (header-keyed), .txt/.log (line-oriented key=value). Column names are
// lowercased so downstream field resolution is case-insensitive.
func ReadRecords(path string) ([]RawRecord, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	switch ext {
	case "json":
		return readJSON(path)
	case "csv":
		return readCSV(path)
	case "txt", "log":
		return readLines(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func readJSON(path string) ([]RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		// Tolerate a top-level object wrapping the record array, e.g.
		// {"records": [...]} or {"messages": [...]}.
		var wrapper map[string]interface{}
		if err2 := json.Unmarshal(data, &wrapper); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		rows = unwrapRecordArray(wrapper)
		if rows == nil {
			return nil, fmt.Errorf("%w: JSON contains no record array", ErrMalformedInput)
		}
	}

	records := make([]RawRecord, 0, len(rows))
	for _, row := range rows {
		rec := make(RawRecord, len(row))
		for k, v := range row {
			rec[normalizeKey(k)] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

// unwrapRecordArray finds the first array-of-objects value in a wrapper
// object, preferring conventional field names.
func unwrapRecordArray(wrapper map[string]interface{}) []map[string]interface{} {
	for _, key := range []string{"records", "data", "messages", "rows"} {
		if rows := asRecordArray(wrapper[key]); rows != nil {
			return rows
		}
	}
	for _, v := range wrapper {
		if rows := asRecordArray(v); rows != nil {
			return rows
		}
	}
	return nil
}

func asRecordArray(v interface{}) []map[string]interface{} {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil
		}
		rows = append(rows, obj)
	}
	return rows
}

func readCSV(path string) ([]RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := make([]string, len(rows[0]))
	for i, col := range rows[0] {
		header[i] = normalizeKey(col)
	}

	records := make([]RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(RawRecord, len(header))
		for i, val := range row {
			if i >= len(header) {
				break
			}
			rec[header[i]] = val
		}
		records = append(records, rec)
	}
	return records, nil
}

// readLines parses line-oriented logs where each line carries key=value
// tokens separated by commas, semicolons or whitespace. Lines yielding no
// recognizable pair are skipped silently, the same tolerance the normalizer
// applies to incomplete rows.
func readLines(path string) ([]RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var records []RawRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rec := make(RawRecord)
		for _, token := range strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\t'
		}) {
			key, value, found := strings.Cut(token, "=")
			if !found || key == "" {
				continue
			}
			rec[normalizeKey(key)] = value
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return records, nil
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}
