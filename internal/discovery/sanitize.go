package discovery

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"Go2NetSentry/internal/model"
)

// Advertisement payload limits. Anything over a cap is truncated (values) or
// dropped (keys); malformed records are dropped with a logged warning and are
// never fatal to the scan.
const (
	maxRecordKeyLen     = 255
	maxTextValueLen     = 1024
	maxOpaqueValueLen   = 2048
	maxRecordsPerDevice = 50
)

// validRecordKey is intentionally strict: advertisement records come straight
// off the wire from untrusted devices.
func validRecordKey(key string) bool {
	if key == "" || len(key) > maxRecordKeyLen {
		return false
	}
	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '.' || c == '-':
		default:
			return false
		}
	}
	return true
}

// SanitizeTXT parses raw mDNS TXT entries ("key=value") into bounded,
// validated records. It returns the kept records and a slice of warnings for
// the records it dropped.
func SanitizeTXT(entries []string) ([]model.Record, []string) {
	var warnings []string
	byKey := make(map[string]model.Record)

	for _, entry := range entries {
		key, value := entry, ""
		if idx := strings.IndexByte(entry, '='); idx >= 0 {
			key, value = entry[:idx], entry[idx+1:]
		}

		if !validRecordKey(key) {
			warnings = append(warnings, fmt.Sprintf("dropped malformed record key %.32q", key))
			continue
		}

		rec := model.Record{Key: key}
		if utf8.ValidString(value) {
			if len(value) > maxTextValueLen {
				value = value[:maxTextValueLen]
			}
			rec.Value = value
		} else {
			raw := []byte(value)
			if len(raw) > maxOpaqueValueLen {
				raw = raw[:maxOpaqueValueLen]
			}
			rec.Opaque = raw
		}
		byKey[key] = rec
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxRecordsPerDevice {
		warnings = append(warnings, fmt.Sprintf("record cap reached, dropped %d records", len(keys)-maxRecordsPerDevice))
		keys = keys[:maxRecordsPerDevice]
	}

	records := make([]model.Record, 0, len(keys))
	for _, k := range keys {
		records = append(records, byKey[k])
	}
	return records, warnings
}
