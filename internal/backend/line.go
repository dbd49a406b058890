package backend

import (
	"sort"
	"strconv"
	"strings"
)

// FieldName is the line protocol field carrying a point's value.
const FieldName = "value"

// FormatLine formats p as an InfluxDB line protocol string.
//
// Format: metric,tag1=val1,tag2=val2 value=<v> timestamp_ns
//
// Tags are sorted for deterministic output. Integer values carry the "i"
// suffix so the series is stored as an integer.
func FormatLine(p Point) string {
	var b strings.Builder

	b.WriteString(escapeMeasurement(p.Metric))

	keys := make([]string, 0, len(p.Tags))
	for k := range p.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		b.WriteString(escapeTag(p.Tags[k]))
	}

	b.WriteByte(' ')
	b.WriteString(FieldName)
	b.WriteByte('=')
	if p.Value.IsInt() {
		b.WriteString(strconv.FormatInt(p.Value.Int(), 10))
		b.WriteByte('i')
	} else {
		b.WriteString(strconv.FormatFloat(p.Value.Float(), 'g', -1, 64))
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(p.Time().UnixNano(), 10))

	return b.String()
}

// escapeTag escapes special characters in tag keys/values.
// Commas, equals signs, and spaces are backslash-escaped; newlines are
// stripped to prevent line injection.
func escapeTag(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "=", "\\=")
	return s
}

// escapeMeasurement escapes special characters in metric names.
func escapeMeasurement(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	return s
}
