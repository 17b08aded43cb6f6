package ldtest

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

func TestFormatValue(t *testing.T) {
	for _, p := range []struct {
		name     string
		value    interface{}
		expected string
	}{
		{"nil", nil, "null"},
		{"true", true, "true"},
		{"int", 42, "42"},
		{"float", 1.5, "1.5"},
		{"whole float", 3.0, "3"},
		{"negative zero", math.Copysign(0, -1), "-0"},
		{"zero", 0.0, "0"},
		{"NaN", math.NaN(), "NaN"},
		{"infinity", math.Inf(-1), "-Infinity"},
		{"large", 1e21, "1e+21"},
		{"small", 1e-7, "1e-7"},
		{"string", "abc", `"abc"`},
		{"quotes and backslashes", `a"b\c`, `"a\"b\\c"`},
		{"control characters", "a\nb\tc\x00\x01", `"a\nb\tc\0\x01"`},
		{"replacement character", "\ufffd", `"\ufffd"`},
		{"slice", []interface{}{1, "x", []int{2, 3}}, `[1, "x", [2, 3]]`},
		{"empty slice", []string{}, "[]"},
		{"ldvalue array", ldvalue.ArrayOf(ldvalue.String("a"), ldvalue.Bool(false)), `["a", false]`},
		{"error", errors.New("boom"), `*errors.errorString "boom"`},
	} {
		t.Run(p.name, func(t *testing.T) {
			assert.Equal(t, p.expected, FormatValue(p.value))
		})
	}
}

func TestFormatValueAbbreviatesRepeatedSlices(t *testing.T) {
	inner := []int{1}
	assert.Equal(t, "[[1], [...]]", FormatValue([]interface{}{inner, inner}))

	self := make([]interface{}, 1)
	self[0] = self
	assert.Equal(t, "[[...]]", FormatValue(self))
}

func TestFormatValueTruncatesLongValues(t *testing.T) {
	s := FormatValue(map[string]string{"k": strings.Repeat("x", 2000)})
	assert.True(t, strings.HasPrefix(s, `map[string]string "map[k:xxx`))
	assert.True(t, strings.HasSuffix(s, `..."`))
	assert.Len(t, s, len(`map[string]string ""`)+maxFormattedLength)
}
