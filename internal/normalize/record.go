package normalize

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"

	"mongobq/internal/schema"
	"mongobq/internal/value"
)

var (
	// ErrStructuredValue marks a list or object found where a scalar column
	// expects a single value.
	ErrStructuredValue = errors.New("structured value where scalar expected")
	ErrRequiredMissing = errors.New("required field is null")
)

// FieldError locates a record-level failure.
type FieldError struct {
	Path string
	Raw  value.Value
	Err  error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %v", e.Path, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// PanicError wraps a panic recovered while normalizing one document.
type PanicError struct {
	Recovered any
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during normalization: %v", e.Recovered)
}

// Normalizer applies a Table to source documents.
type Normalizer struct {
	table *Table
}

func NewNormalizer(table *Table) *Normalizer {
	return &Normalizer{table: table}
}

func (n *Normalizer) Table() *Table { return n.table }

// Normalize builds the output row for doc. The row holds exactly the
// table's top-level columns in descriptor order; source fields that the
// descriptor does not name are returned in unknown. doc is never modified.
//
// Any failure, panics included, fails the whole document.
func (n *Normalizer) Normalize(doc *value.Map) (rec *value.Map, unknown []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, unknown = nil, nil
			err = &PanicError{Recovered: r, Stack: debug.Stack()}
		}
	}()

	rec, err = normalizeObject(n.table.columns, doc, "")
	if err != nil {
		return nil, nil, err
	}
	doc.Range(func(k string, _ value.Value) bool {
		if _, ok := rec.Get(k); !ok {
			unknown = append(unknown, k)
		}
		return true
	})
	return rec, unknown, nil
}

func normalizeObject(cols []column, src *value.Map, prefix string) (*value.Map, error) {
	out := value.NewMap(len(cols))
	for _, c := range cols {
		raw, _ := src.Get(c.field.Name)
		path := c.field.Name
		if prefix != "" {
			path = prefix + "." + c.field.Name
		}
		v, err := c.normalize(raw, path)
		if err != nil {
			return nil, err
		}
		out.Set(c.field.Name, v)
	}
	return out, nil
}

func (c column) normalize(raw value.Value, path string) (value.Value, error) {
	var (
		v   value.Value
		err error
	)
	switch {
	case c.field.Type == schema.TypeRecord:
		v, err = c.normalizeRecords(raw, path)
	case c.field.Repeated():
		v, err = c.normalizeRepeatedScalar(raw, path)
	default:
		v, err = applyScalar(c.coercion, c.field.Type, raw)
		if err != nil {
			err = &FieldError{Path: path, Raw: raw, Err: err}
		}
	}
	if err != nil {
		return value.Null, err
	}
	if v.IsNull() && c.field.Mode == schema.ModeRequired {
		return value.Null, &FieldError{Path: path, Raw: raw, Err: ErrRequiredMissing}
	}
	return v, nil
}

func (c column) normalizeRecords(raw value.Value, path string) (value.Value, error) {
	objects := recordShapes(raw)
	if len(objects) == 0 && c.coercion == CoerceLineItems {
		objects = lineItemSeeds(raw, lineItemIDField(c))
	}

	if !c.field.Repeated() {
		if len(objects) == 0 {
			return value.Null, nil
		}
		m, err := normalizeObject(c.sub, objects[0], path)
		if err != nil {
			return value.Null, err
		}
		return value.Object(m), nil
	}

	items := make([]value.Value, 0, len(objects))
	for i, obj := range objects {
		m, err := normalizeObject(c.sub, obj, path+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return value.Null, err
		}
		items = append(items, value.Object(m))
	}
	return value.List(items...), nil
}

func (c column) normalizeRepeatedScalar(raw value.Value, path string) (value.Value, error) {
	var elems []value.Value
	switch raw.Kind() {
	case value.KindNull:
	case value.KindList:
		elems, _ = raw.AsList()
	default:
		elems = []value.Value{raw}
	}
	out := make([]value.Value, 0, len(elems))
	for i, e := range elems {
		v, err := applyScalar(c.coercion, c.field.Type, e)
		if err != nil {
			return value.Null, &FieldError{Path: path + "[" + strconv.Itoa(i) + "]", Raw: e, Err: err}
		}
		if !v.IsNull() {
			out = append(out, v)
		}
	}
	return value.List(out...), nil
}

// lineItemIDField is the sub-field that receives a bare product id: the one
// named product_id, else the first sub-field.
func lineItemIDField(c column) string {
	for _, s := range c.sub {
		if s.field.Name == "product_id" {
			return s.field.Name
		}
	}
	if len(c.sub) > 0 {
		return c.sub[0].field.Name
	}
	return "product_id"
}
