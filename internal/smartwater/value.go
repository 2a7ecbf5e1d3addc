package smartwater

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Convert applies the datapoint format to a raw value. It returns false
// when the value is absent or cannot be represented in the format.
func (d Datapoint) Convert(raw any) (any, bool) {
	if raw == nil {
		return nil, false
	}

	switch d.Format {
	case FormatString:
		return toString(raw), true

	case FormatBool:
		return toBinary(raw)

	case FormatInt:
		f, ok := toFloat(raw)
		if !ok {
			return nil, false
		}
		return int64(f), true

	case FormatTimestamp:
		f, ok := toFloat(raw)
		if !ok {
			return nil, false
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true

	case FormatFloat1, FormatFloat2, FormatFloat3, FormatFloat4:
		f, ok := toFloat(raw)
		if !ok {
			return nil, false
		}
		return round(f, d.Precision()), true

	default:
		if label, ok := d.Options[toString(raw)]; ok {
			return label, true
		}
		return raw, true
	}
}

// toBinary maps true/1/"1" to on and false/0/"0" to off.
func toBinary(v any) (any, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch b {
		case "1":
			return true, true
		case "0":
			return false, true
		}
		return nil, false
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, false
	}
	switch f {
	case 1:
		return true, true
	case 0:
		return false, true
	}
	return nil, false
}

// toFloat accepts JSON numbers, Go numeric types and numeric strings.
// NaN and infinities are rejected.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func round(f float64, decimals int) float64 {
	if decimals < 0 {
		return f
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(f*p) / p
}
