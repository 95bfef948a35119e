package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// AppendJSON appends the JSON encoding of v to dst. Strings are written
// without HTML escaping and non-ASCII text is kept as UTF-8. Non-finite
// floats encode as null; times encode as RFC 3339 in UTC.
func AppendJSON(dst []byte, v Value) []byte {
	switch v.kind {
	case KindNull:
		return append(dst, "null"...)
	case KindBool:
		return strconv.AppendBool(dst, v.b)
	case KindInt:
		return strconv.AppendInt(dst, v.i, 10)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return append(dst, "null"...)
		}
		return strconv.AppendFloat(dst, v.f, 'g', -1, 64)
	case KindString:
		return appendString(dst, v.s)
	case KindTime:
		return appendString(dst, v.t.UTC().Format(time.RFC3339Nano))
	case KindList:
		dst = append(dst, '[')
		for i, item := range v.list {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = AppendJSON(dst, item)
		}
		return append(dst, ']')
	case KindMap:
		dst = append(dst, '{')
		first := true
		v.m.Range(func(k string, item Value) bool {
			if !first {
				dst = append(dst, ',')
			}
			first = false
			dst = appendString(dst, k)
			dst = append(dst, ':')
			dst = AppendJSON(dst, item)
			return true
		})
		return append(dst, '}')
	}
	return append(dst, "null"...)
}

func appendString(dst []byte, s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return append(dst, bytes.TrimRight(buf.Bytes(), "\n")...)
}

// ParseJSON decodes a single JSON value preserving object key order.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := Decode(dec)
	if err != nil {
		return Null, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Null, errors.New("value: trailing data after JSON value")
	}
	return v, nil
}

// Decode reads the next JSON value from dec. The decoder should have
// UseNumber enabled so integers survive as KindInt.
func Decode(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := NewMap(8)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Null, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Null, fmt.Errorf("value: unexpected object key %v", keyTok)
				}
				item, err := Decode(dec)
				if err != nil {
					return Null, err
				}
				m.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Null, err
			}
			return Object(m), nil
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := Decode(dec)
				if err != nil {
					return Null, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Null, err
			}
			return List(items...), nil
		default:
			return Null, fmt.Errorf("value: unexpected delimiter %v", t)
		}
	default:
		return FromAny(t), nil
	}
}
