package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"soundmeter/internal/normalize"
)

func ParseJSONBytes(data []byte) (normalize.ReadingFields, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return normalize.ReadingFields{}, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]any) normalize.ReadingFields {
	fields := normalize.ReadingFields{Extras: map[string]string{}}
	for key, val := range obj {
		if val == nil {
			continue
		}
		fields.Extras[strings.ToLower(key)] = stringify(val)
	}
	fields.Timestamp = firstNonEmpty(fields.Extras, "timestamp", "time", "ts")
	fields.Decibels = firstNonEmpty(fields.Extras, "decibels", "db", "level", "value")
	fields.ClientID = firstNonEmpty(fields.Extras, "client_id", "client", "monitor", "device")
	return fields
}

func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
