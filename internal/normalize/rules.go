package normalize

import (
	"fmt"
	"sort"
	"strings"

	"mongobq/internal/schema"
	"mongobq/internal/value"
)

// Coercion names one entry of the field table. Tables are plain data so a
// new field is an edit to the descriptor or to an override list.
type Coercion string

const (
	CoerceAuto      Coercion = ""
	CoerceString    Coercion = "string"
	CoerceBoolean   Coercion = "boolean"
	CoerceFloat     Coercion = "float"
	CoerceFloatFlag Coercion = "float_flag"
	CoerceInteger   Coercion = "integer"
	CoerceAmount    Coercion = "integer_default_1"
	CoerceTimestamp Coercion = "timestamp"
	CoerceRecords   Coercion = "records"
	CoerceOptions   Coercion = "options"
	CoerceLineItems Coercion = "line_items"
)

// DefaultOverrides are the per-field exceptions to type-derived coercion for
// the event summary collection.
var DefaultOverrides = map[string]Coercion{
	"is_paypal":            CoerceFloatFlag,
	"option":               CoerceOptions,
	"cart_products":        CoerceLineItems,
	"cart_products.amount": CoerceAmount,
	"cart_products.option": CoerceOptions,
}

// ParseOverrides reads "path=coercion" pairs separated by commas, the format
// used by the FIELD_RULES setting.
func ParseOverrides(rules string) (map[string]Coercion, error) {
	out := map[string]Coercion{}
	for _, pair := range strings.Split(rules, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		path, name, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("field rule %q: expected path=coercion", pair)
		}
		c := Coercion(strings.TrimSpace(name))
		if !c.valid() {
			return nil, fmt.Errorf("field rule %q: unknown coercion %q", pair, c)
		}
		out[strings.TrimSpace(path)] = c
	}
	return out, nil
}

func (c Coercion) valid() bool {
	switch c {
	case CoerceString, CoerceBoolean, CoerceFloat, CoerceFloatFlag, CoerceInteger,
		CoerceAmount, CoerceTimestamp, CoerceRecords, CoerceOptions, CoerceLineItems:
		return true
	}
	return false
}

func (c Coercion) structural() bool {
	return c == CoerceRecords || c == CoerceOptions || c == CoerceLineItems
}

func autoCoercion(t schema.Type) Coercion {
	switch t {
	case schema.TypeBoolean:
		return CoerceBoolean
	case schema.TypeFloat:
		return CoerceFloat
	case schema.TypeInteger:
		return CoerceInteger
	case schema.TypeTimestamp:
		return CoerceTimestamp
	case schema.TypeRecord:
		return CoerceRecords
	default:
		return CoerceString
	}
}

// column is one compiled entry of the table.
type column struct {
	field    schema.Field
	path     string
	coercion Coercion
	sub      []column
}

// Table is the compiled field table: every descriptor field with the
// coercion that applies to it.
type Table struct {
	schema  schema.Schema
	columns []column
}

// NewTable compiles s with overrides keyed by dotted field path. Overrides
// naming fields absent from the descriptor are ignored so one override list
// can serve several descriptors.
func NewTable(s schema.Schema, overrides map[string]Coercion) (*Table, error) {
	cols, err := compile(s.Fields, "", overrides)
	if err != nil {
		return nil, err
	}
	return &Table{schema: s, columns: cols}, nil
}

func compile(fields []schema.Field, prefix string, overrides map[string]Coercion) ([]column, error) {
	out := make([]column, 0, len(fields))
	for _, f := range fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		c, ok := overrides[path]
		if !ok || c == CoerceAuto {
			c = autoCoercion(f.Type)
		}
		if c.structural() != (f.Type == schema.TypeRecord) {
			return nil, fmt.Errorf("field %s: coercion %q does not fit type %s", path, c, f.Type)
		}
		col := column{field: f, path: path, coercion: c}
		if f.Type == schema.TypeRecord {
			sub, err := compile(f.Fields, path, overrides)
			if err != nil {
				return nil, err
			}
			col.sub = sub
		}
		out = append(out, col)
	}
	return out, nil
}

func (t *Table) Schema() schema.Schema { return t.schema }

// Rules lists path → coercion for every field, sorted by path.
func (t *Table) Rules() []Rule {
	var out []Rule
	var walk func(cols []column)
	walk = func(cols []column) {
		for _, c := range cols {
			out = append(out, Rule{Path: c.path, Type: c.field.Type, Mode: c.field.Mode, Coercion: c.coercion})
			walk(c.sub)
		}
	}
	walk(t.columns)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Rule is the printable form of one table entry.
type Rule struct {
	Path     string
	Type     schema.Type
	Mode     schema.Mode
	Coercion Coercion
}

// applyScalar runs a scalar coercion and casts the result to the column
// type. Structured input is only acceptable for string columns.
func applyScalar(c Coercion, t schema.Type, raw value.Value) (value.Value, error) {
	if !raw.IsScalar() && !(c == CoerceString && t == schema.TypeString) {
		return value.Null, fmt.Errorf("%w: got %s", ErrStructuredValue, raw.Kind())
	}
	var v value.Value
	switch c {
	case CoerceString:
		v = ToString(raw)
	case CoerceBoolean:
		v = ToBooleanFromString(raw)
	case CoerceFloat:
		v = ToFloat(raw)
	case CoerceFloatFlag:
		v = ToFloatFlag(raw)
	case CoerceInteger:
		v = ToIntegerOrDefault(raw, value.Null)
	case CoerceAmount:
		v = ToIntegerOrDefault(raw, value.Int(1))
	case CoerceTimestamp:
		v = ToTimestamp(raw)
	default:
		return value.Null, fmt.Errorf("coercion %q is not scalar", c)
	}
	return castTo(t, v), nil
}

// castTo converts an already-coerced scalar to the column's type so a
// coercion can be reused across column types.
func castTo(t schema.Type, v value.Value) value.Value {
	if v.IsNull() {
		return v
	}
	switch t {
	case schema.TypeString:
		return ToString(v)
	case schema.TypeBoolean:
		return ToBooleanFromString(v)
	case schema.TypeFloat:
		return ToFloat(v)
	case schema.TypeInteger:
		return ToIntegerOrDefault(v, value.Null)
	case schema.TypeTimestamp:
		return ToTimestamp(v)
	}
	return v
}
