package ldtest

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

const maxFormattedLength = 1000

var controlCharEscapes = map[rune]string{
	0:  `\0`,
	8:  `\b`,
	9:  `\t`,
	10: `\n`,
	11: `\v`,
	12: `\f`,
	13: `\r`,
}

// FormatValue renders a value recorded by a test in a compact, readable form: strings are quoted
// and escaped, negative zero is shown as -0, and slices are shown element by element. A slice
// that was already shown is abbreviated as [...].
func FormatValue(value interface{}) string {
	return formatValue(value, make(map[uintptr]bool))
}

func formatValue(value interface{}, seen map[uintptr]bool) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case ldvalue.Value:
		return formatValue(v.AsArbitraryValue(), seen)
	case string:
		return quoteValue(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return formatNumber(v)
	case float32:
		return formatNumber(float64(v))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Kind() == reflect.Slice && rv.Len() > 0 {
			if seen[rv.Pointer()] {
				return "[...]"
			}
			seen[rv.Pointer()] = true
		}
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, formatValue(rv.Index(i).Interface(), seen))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf(`%T "%s"`, value, truncateValue(fmt.Sprint(value), maxFormattedLength))
}

func quoteValue(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '"':
			b.WriteString(`\"`)
		case r < 32:
			if e, ok := controlCharEscapes[r]; ok {
				b.WriteString(e)
			} else {
				fmt.Fprintf(&b, `\x%02x`, r)
			}
		case r >= 0xfffd && r <= 0xffff:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func formatNumber(f float64) string {
	switch {
	case f == 0 && math.Signbit(f):
		return "-0"
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		return mantissa + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncateValue(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
