package influx

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
)

// Line-protocol escaping rules differ per element: measurements escape commas
// and spaces, tag keys/values and field keys additionally escape equals, and
// string field values escape quotes and backslashes.

var (
	measurementEscaper = strings.NewReplacer(",", `\,`, " ", `\ `)
	tagEscaper         = strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`)
	stringEscaper      = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
)

// encodeValue renders a field value with its type suffix: trailing i for
// integers, t/f for booleans, double quotes for strings, bare for floats.
func encodeValue(v Value) string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10) + "i"
	case KindBool:
		if v.Bool {
			return "t"
		}
		return "f"
	case KindString:
		return `"` + stringEscaper.Replace(v.Str) + `"`
	default:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	}
}

// EncodeLine renders one point as an InfluxDB line-protocol line with a
// nanosecond timestamp. Tags are written in lexicographic order.
func EncodeLine(measurement string, p Point) string {
	var b strings.Builder
	b.WriteString(measurementEscaper.Replace(measurement))

	if len(p.Tags) > 0 {
		keys := make([]string, 0, len(p.Tags))
		for k := range p.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			b.WriteByte(',')
			b.WriteString(tagEscaper.Replace(k))
			b.WriteByte('=')
			b.WriteString(tagEscaper.Replace(p.Tags[k]))
		}
	}

	b.WriteByte(' ')
	b.WriteString(tagEscaper.Replace(p.Field))
	b.WriteByte('=')
	b.WriteString(encodeValue(p.Value))

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(p.Timestamp, 10))

	return b.String()
}

// EncodeBatch renders a batch of points as a newline-separated line-protocol
// payload.
func EncodeBatch(measurement string, points []Point) []byte {
	var buf bytes.Buffer
	for i, p := range points {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(EncodeLine(measurement, p))
	}
	return buf.Bytes()
}
