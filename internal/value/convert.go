package value

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FromAny converts decoded driver or JSON values into a Value. BSON-specific
// types that have no scalar counterpart are rendered to their canonical
// string form so no document is rejected at decode time.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		if t > math.MaxInt64 {
			return Float(float64(t))
		}
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return String(t.String())
	case string:
		return String(t)
	case time.Time:
		return Time(t)
	case primitive.ObjectID:
		return String(t.Hex())
	case primitive.DateTime:
		return Time(t.Time().UTC())
	case primitive.Timestamp:
		return Time(time.Unix(int64(t.T), 0).UTC())
	case primitive.Decimal128:
		return String(t.String())
	case primitive.Null, primitive.Undefined:
		return Null
	case primitive.Symbol:
		return String(string(t))
	case primitive.Regex:
		return String(t.String())
	case primitive.JavaScript:
		return String(string(t))
	case primitive.Binary:
		return String(fmt.Sprintf("%x", t.Data))
	case bson.D:
		m := NewMap(len(t))
		for _, e := range t {
			m.Set(e.Key, FromAny(e.Value))
		}
		return Object(m)
	case bson.M:
		return Object(fromUnordered(t))
	case map[string]any:
		return Object(fromUnordered(t))
	case bson.A:
		return fromSlice(t)
	case []any:
		return fromSlice(t)
	case *Map:
		return Object(t)
	default:
		return String(fmt.Sprint(t))
	}
}

// FromDocument converts one decoded source document.
func FromDocument(doc bson.D) *Map {
	m, _ := FromAny(doc).AsMap()
	if m == nil {
		return NewMap(0)
	}
	return m
}

func fromSlice(items []any) Value {
	out := make([]Value, len(items))
	for i, item := range items {
		out[i] = FromAny(item)
	}
	return List(out...)
}

// Go maps carry no order; keys are sorted so conversion is deterministic.
func fromUnordered(src map[string]any) *Map {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m := NewMap(len(keys))
	for _, k := range keys {
		m.Set(k, FromAny(src[k]))
	}
	return m
}
