package influx

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func jsonNumber(s string) json.Number { return json.Number(s) }

func TestEncodeLineTypes(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"float", FloatValue(23.5), "weather temperature=23.5 1700000000000000000"},
		{"integer", IntValue(42), "weather temperature=42i 1700000000000000000"},
		{"bool true", BoolValue(true), "weather temperature=t 1700000000000000000"},
		{"bool false", BoolValue(false), "weather temperature=f 1700000000000000000"},
		{"string", StringValue("ok"), `weather temperature="ok" 1700000000000000000`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := EncodeLine("weather", Point{
				Timestamp: 1700000000000000000,
				Field:     "temperature",
				Value:     tt.value,
			})
			assert.Equal(t, tt.want, line)
		})
	}
}

func TestEncodeLineTagsSorted(t *testing.T) {
	line := EncodeLine("weather", Point{
		Timestamp: 1,
		Tags:      map[string]string{"zone": "north", "sensor": "s1", "alt": "high"},
		Field:     "temperature",
		Value:     FloatValue(1),
	})
	assert.Equal(t, "weather,alt=high,sensor=s1,zone=north temperature=1 1", line)
}

func TestEncodeLineEscaping(t *testing.T) {
	line := EncodeLine("my measurement", Point{
		Timestamp: 9,
		Tags:      map[string]string{"lo cation": "new=york,ny"},
		Field:     "temp erature",
		Value:     StringValue(`say "hi" \now`),
	})
	assert.Equal(t, `my\ measurement,lo\ cation=new\=york\,ny temp\ erature="say \"hi\" \\now" 9`, line)
}

func TestEncodeBatch(t *testing.T) {
	points := []Point{
		{Timestamp: 1, Field: "f", Value: FloatValue(1)},
		{Timestamp: 2, Field: "f", Value: FloatValue(2)},
	}
	batch := string(EncodeBatch("m", points))

	lines := strings.Split(batch, "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, "m f=1 1", lines[0])
	assert.Equal(t, "m f=2 2", lines[1])
}

func TestValueFromJSONCoercesByDeclaredType(t *testing.T) {
	// Whole-valued floats must not be inferred as integers.
	v, ok := valueFromJSON(jsonNumber("42"), NativeFloat)
	assert.True(t, ok)
	assert.Equal(t, KindFloat, v.Kind)
	assert.Equal(t, 42.0, v.Float)

	v, ok = valueFromJSON(jsonNumber("42"), NativeInteger)
	assert.True(t, ok)
	assert.Equal(t, KindInt, v.Kind)
	assert.Equal(t, int64(42), v.Int)

	v, ok = valueFromJSON(jsonNumber("42.5"), NativeFloat)
	assert.True(t, ok)
	assert.Equal(t, KindFloat, v.Kind)
	assert.Equal(t, 42.5, v.Float)

	v, ok = valueFromJSON("up", NativeString)
	assert.True(t, ok)
	assert.Equal(t, KindString, v.Kind)

	v, ok = valueFromJSON(true, NativeBoolean)
	assert.True(t, ok)
	assert.Equal(t, KindBool, v.Kind)

	_, ok = valueFromJSON(nil, NativeFloat)
	assert.False(t, ok)
}
