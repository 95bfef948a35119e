package normalize

import (
	"math"
	"strconv"
	"strings"

	"mongobq/internal/util"
	"mongobq/internal/value"
)

// recordShapes extracts the list of objects to normalize from a record
// column's raw value. The rules fail open: a shape that is not understood
// yields no records instead of an error.
//
//	null / absent          -> none
//	single object          -> that object
//	list                   -> its object entries; other entries are dropped
//	anything else          -> none (line items: see lineItemSeeds)
func recordShapes(raw value.Value) []*value.Map {
	switch raw.Kind() {
	case value.KindMap:
		m, _ := raw.AsMap()
		return []*value.Map{m}
	case value.KindList:
		items, _ := raw.AsList()
		out := make([]*value.Map, 0, len(items))
		for _, item := range items {
			if m, ok := item.AsMap(); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// lineItemSeeds handles the scalar shapes a products field takes when it
// holds bare product ids. Precedence: a purely numeric value wins over a
// comma-separated list, which wins over "unrecognized". Only unsigned
// integer ids are accepted; decimals such as "0.5" are not product ids.
func lineItemSeeds(raw value.Value, idField string) []*value.Map {
	var ids []string
	switch raw.Kind() {
	case value.KindInt:
		i, _ := raw.AsInt()
		if i >= 0 {
			ids = []string{strconv.FormatInt(i, 10)}
		}
	case value.KindFloat:
		f, _ := raw.AsFloat()
		if f >= 0 && f == math.Trunc(f) && f < math.MaxInt64 {
			ids = []string{strconv.FormatInt(int64(f), 10)}
		}
	case value.KindString:
		s, _ := raw.AsString()
		switch {
		case util.IsDigits(strings.TrimSpace(s)):
			ids = []string{strings.TrimSpace(s)}
		case strings.Contains(s, ","):
			ids = util.DigitTokens(s, ",")
		}
	}
	out := make([]*value.Map, 0, len(ids))
	for _, id := range ids {
		m := value.NewMap(1)
		m.Set(idField, value.String(id))
		out = append(out, m)
	}
	return out
}
