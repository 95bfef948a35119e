// Package normalize turns schema-less source documents into rows with a
// fixed column set and fixed column types.
//
// Field normalizers in this file are total: they never fail and degrade to
// null (or the supplied default) when a value cannot be coerced.
package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"mongobq/internal/util"
	"mongobq/internal/value"
)

// ToString renders scalars as text: booleans lowercase, numbers in plain
// decimal, times as RFC 3339 UTC. Lists and maps are rendered as compact
// JSON so the column stays a string.
func ToString(v value.Value) value.Value {
	switch v.Kind() {
	case value.KindNull:
		return value.Null
	case value.KindString:
		return v
	case value.KindBool:
		b, _ := v.AsBool()
		return value.String(strconv.FormatBool(b))
	case value.KindInt:
		i, _ := v.AsInt()
		return value.String(strconv.FormatInt(i, 10))
	case value.KindFloat:
		f, _ := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return value.Null
		}
		return value.String(strconv.FormatFloat(f, 'f', -1, 64))
	case value.KindTime:
		t, _ := v.AsTime()
		return value.String(t.UTC().Format(time.RFC3339Nano))
	default:
		return value.String(string(value.AppendJSON(nil, v)))
	}
}

var (
	truthy = map[string]bool{"true": true, "1": true, "yes": true}
	falsy  = map[string]bool{"false": true, "0": true, "no": true}
)

// ToBooleanFromString maps "true"/"1"/"yes" and "false"/"0"/"no"
// (case-insensitive) to booleans. Booleans pass through and the numbers 1 and
// 0 map like their string forms. Anything else is null.
func ToBooleanFromString(v value.Value) value.Value {
	switch v.Kind() {
	case value.KindBool:
		return v
	case value.KindString:
		s, _ := v.AsString()
		s = strings.ToLower(strings.TrimSpace(s))
		if truthy[s] {
			return value.Bool(true)
		}
		if falsy[s] {
			return value.Bool(false)
		}
	case value.KindInt, value.KindFloat:
		return ToBooleanFromString(ToString(v))
	}
	return value.Null
}

// ToFloatFlag maps boolean-like inputs to 1.0 or 0.0. Numbers other than 1
// and 0 are null.
func ToFloatFlag(v value.Value) value.Value {
	switch v.Kind() {
	case value.KindInt:
		i, _ := v.AsInt()
		return flagFromNumber(float64(i))
	case value.KindFloat:
		f, _ := v.AsFloat()
		return flagFromNumber(f)
	}
	b, ok := ToBooleanFromString(v).AsBool()
	if !ok {
		return value.Null
	}
	if b {
		return value.Float(1)
	}
	return value.Float(0)
}

func flagFromNumber(f float64) value.Value {
	switch f {
	case 1:
		return value.Float(1)
	case 0:
		return value.Float(0)
	default:
		return value.Null
	}
}

// ToFloat coerces numbers, numeric strings and booleans to a float.
func ToFloat(v value.Value) value.Value {
	switch v.Kind() {
	case value.KindFloat:
		f, _ := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return value.Null
		}
		return v
	case value.KindInt:
		i, _ := v.AsInt()
		return value.Float(float64(i))
	case value.KindBool:
		b, _ := v.AsBool()
		if b {
			return value.Float(1)
		}
		return value.Float(0)
	case value.KindString:
		s, _ := v.AsString()
		if f, ok := util.ParseDecimal(s); ok {
			return value.Float(f)
		}
	}
	return value.Null
}

// ToIntegerOrDefault returns integers and numeric-looking strings as an
// integer and def for everything else.
func ToIntegerOrDefault(v value.Value, def value.Value) value.Value {
	switch v.Kind() {
	case value.KindInt:
		return v
	case value.KindFloat:
		f, _ := v.AsFloat()
		if f == math.Trunc(f) && f < math.MaxInt64 && f >= math.MinInt64 {
			return value.Int(int64(f))
		}
	case value.KindString:
		s, _ := v.AsString()
		if i, ok := util.ParseInteger(s); ok {
			return value.Int(i)
		}
	}
	return def
}

// ToTimestamp parses times in any common layout, unix seconds or unix
// milliseconds included. Unparseable input is null.
func ToTimestamp(v value.Value) value.Value {
	switch v.Kind() {
	case value.KindTime:
		t, _ := v.AsTime()
		return value.Time(t.UTC())
	case value.KindString:
		s, _ := v.AsString()
		return parseTime(strings.TrimSpace(s))
	case value.KindInt, value.KindFloat:
		s, _ := ToString(v).AsString()
		return parseTime(s)
	}
	return value.Null
}

func parseTime(s string) (out value.Value) {
	if s == "" {
		return value.Null
	}
	// dateparse has panicked on some malformed inputs in the past.
	defer func() {
		if r := recover(); r != nil {
			out = value.Null
		}
	}()
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return value.Null
	}
	return value.Time(t.UTC())
}
