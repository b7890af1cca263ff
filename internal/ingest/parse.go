// Package ingest turns upstream parking API responses into reading tables.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/afroash/parking-monitor/internal/models"
)

const spotsMarker = "spots:"

// ErrMalformedResponse is returned when the response body is not a JSON array of records
// or a usable record carries a timestamp that cannot be parsed.
var ErrMalformedResponse = errors.New("malformed upstream response")

// ParseStats reports how many records a response held and how many became readings
type ParseStats struct {
	Records  int `json:"records"`
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// record is one element of the upstream JSON array.
// Payload is either a string or an object holding the string.
type record struct {
	DeviceID  string          `json:"deviceId"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// TryParseSpots extracts the integer that follows the literal "spots:" in a free-text payload.
// Whitespace between the marker and the digits is skipped; anything after the digits is ignored.
func TryParseSpots(payload string) (int, bool) {
	idx := strings.Index(payload, spotsMarker)
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimLeft(payload[idx+len(spotsMarker):], " \t\r\n")

	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}

	spots, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return spots, true
}

// ParseResponse converts a raw response body into a table sorted by timestamp.
// An empty body is a valid "no data" answer. Records without a usable spots payload are
// dropped and counted in the returned stats.
func ParseResponse(body []byte) (models.ReadingTable, ParseStats, error) {
	var stats ParseStats

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return models.ReadingTable{}, stats, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, stats, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	stats.Records = len(elems)

	table := make(models.ReadingTable, 0, len(elems))
	for i, elem := range elems {
		var rec record
		if err := json.Unmarshal(elem, &rec); err != nil {
			stats.Dropped++
			continue
		}

		text, nestedID, ok := payloadText(rec.Payload)
		if !ok {
			stats.Dropped++
			continue
		}
		spots, ok := TryParseSpots(text)
		if !ok {
			stats.Dropped++
			continue
		}

		deviceID := rec.DeviceID
		if deviceID == "" {
			deviceID = nestedID
		}
		if deviceID == "" {
			stats.Dropped++
			continue
		}

		ts, err := ParseTimestamp(rec.Timestamp)
		if err != nil {
			return nil, stats, fmt.Errorf("%w: record %d: %v", ErrMalformedResponse, i, err)
		}

		table = append(table, models.NewReading(deviceID, spots, ts))
	}

	stats.Accepted = len(table)
	sort.SliceStable(table, func(i, j int) bool {
		return table[i].Timestamp.Before(table[j].Timestamp)
	})
	return table, stats, nil
}

// payloadText returns the free-text field of a payload and any device id nested inside it.
func payloadText(raw json.RawMessage) (string, string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", "", false
		}
		return s, "", true

	case '{':
		var fields map[string]interface{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return "", "", false
		}
		deviceID := stringField(fields, "DeviceID", "deviceId")

		if s, ok := fields["Payload"].(string); ok {
			return s, deviceID, true
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := fields[k].(string); ok && strings.Contains(s, spotsMarker) {
				return s, deviceID, true
			}
		}
		return "", deviceID, false
	}

	return "", "", false
}

func stringField(fields map[string]interface{}, names ...string) string {
	for _, name := range names {
		if s, ok := fields[name].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ParseTimestamp accepts the ISO-8601 shapes the upstream API emits.
// Timestamps without a zone are taken as UTC.
func ParseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
	}

	ts = strings.TrimSpace(ts)
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, ts, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %q", ts)
}
