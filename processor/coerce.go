package processor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/x448/float16"

	"stocklake/models"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	models.DateLayout,
}

// ParseTimestamp parses the timestamp forms the upstream API emits and
// returns the instant in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// TruncateDate returns midnight UTC of t's calendar day.
func TruncateDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Coercible reports whether a column of kind from can be cast to kind to.
// Individual values may still fail to convert.
func Coercible(from, to models.Kind) bool {
	if from == to || to == models.KindString {
		return true
	}
	switch to {
	case models.KindCategory:
		return from == models.KindString || from == models.KindInt64 || from == models.KindBool
	case models.KindInt64:
		return from == models.KindFloat64 || from == models.KindFloat16 || from == models.KindString
	case models.KindFloat64, models.KindFloat16:
		return from.Numeric() || from == models.KindString
	case models.KindBool:
		return from == models.KindString || from == models.KindInt64
	case models.KindTimestamp:
		return from == models.KindString || from == models.KindDate
	case models.KindDate:
		return from == models.KindString || from == models.KindTimestamp
	}
	return false
}

// CoerceValue converts one non-null cell to kind to.
func CoerceValue(v any, to models.Kind) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch to {
	case models.KindString, models.KindCategory:
		return models.FormatValue(v), nil
	case models.KindInt64:
		return toInt64(v)
	case models.KindFloat64:
		return toFloat64(v)
	case models.KindFloat16:
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		return toFloat16(f)
	case models.KindBool:
		return toBool(v)
	case models.KindTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			return ParseTimestamp(x)
		}
	case models.KindDate:
		switch x := v.(type) {
		case time.Time:
			return TruncateDate(x), nil
		case string:
			t, err := ParseTimestamp(x)
			if err != nil {
				return nil, err
			}
			return TruncateDate(t), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, to)
}

func toInt64(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return nil, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case float32:
		return toInt64(float64(x))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if ferr != nil {
				return nil, fmt.Errorf("%q is not an integer", x)
			}
			return toInt64(f)
		}
		return n, nil
	}
	return nil, fmt.Errorf("cannot convert %T to int64", v)
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert %T to float", v)
}

const maxFloat16 = 65504

// toFloat16 rounds f to half precision. Finite values beyond the half range
// are rejected rather than stored as infinity.
func toFloat16(f float64) (any, error) {
	h := float16.Fromfloat32(float32(f))
	if (h.IsInf(0) || math.IsInf(float64(float32(f)), 0)) && !math.IsInf(f, 0) {
		return nil, fmt.Errorf("%v overflows float16 (max %v)", f, maxFloat16)
	}
	return h.Float32(), nil
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%v is not a boolean", v)
}
