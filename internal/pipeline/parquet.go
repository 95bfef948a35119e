package pipeline

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/parquet-go/parquet-go"

	"mongobq/internal/schema"
	"mongobq/internal/value"
)

// parquetPlan maps a descriptor onto a Go struct type built at runtime, so
// the columnar file carries exactly the descriptor's columns.
//
//	NULLABLE scalar  -> pointer (nil is null)
//	TIMESTAMP        -> time.Time, optional, microsecond precision (zero is null)
//	REPEATED scalar  -> slice of the element type
//	RECORD           -> pointer to struct, or slice of struct when repeated
type parquetPlan struct {
	rowType reflect.Type
	schema  *parquet.Schema
	fields  []schema.Field
}

func newParquetPlan(s schema.Schema) (*parquetPlan, error) {
	rowType, err := structFor(s.Fields)
	if err != nil {
		return nil, err
	}
	return &parquetPlan{
		rowType: rowType,
		schema:  parquet.SchemaOf(reflect.New(rowType).Interface()),
		fields:  s.Fields,
	}, nil
}

var (
	stringType = reflect.TypeOf("")
	boolType   = reflect.TypeOf(false)
	floatType  = reflect.TypeOf(float64(0))
	intType    = reflect.TypeOf(int64(0))
	timeType   = reflect.TypeOf(time.Time{})
)

func structFor(fields []schema.Field) (reflect.Type, error) {
	out := make([]reflect.StructField, 0, len(fields))
	for i, f := range fields {
		t, tag, err := goTypeFor(f)
		if err != nil {
			return nil, err
		}
		out = append(out, reflect.StructField{
			Name: fmt.Sprintf("F%d", i),
			Type: t,
			Tag:  reflect.StructTag(fmt.Sprintf(`parquet:"%s"`, tag)),
		})
	}
	return reflect.StructOf(out), nil
}

func goTypeFor(f schema.Field) (reflect.Type, string, error) {
	tag := f.Name
	if f.Type == schema.TypeRecord {
		sub, err := structFor(f.Fields)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", f.Name, err)
		}
		if f.Repeated() {
			return reflect.SliceOf(sub), tag, nil
		}
		return reflect.PointerTo(sub), tag, nil
	}

	var elem reflect.Type
	switch f.Type {
	case schema.TypeString:
		elem = stringType
	case schema.TypeBoolean:
		elem = boolType
	case schema.TypeFloat:
		elem = floatType
	case schema.TypeInteger:
		elem = intType
	case schema.TypeTimestamp:
		if f.Repeated() {
			return reflect.SliceOf(timeType), tag + ",timestamp(microsecond)", nil
		}
		return timeType, tag + ",optional,timestamp(microsecond)", nil
	default:
		return nil, "", fmt.Errorf("%s: type %s has no columnar mapping", f.Name, f.Type)
	}
	if f.Repeated() {
		return reflect.SliceOf(elem), tag, nil
	}
	return reflect.PointerTo(elem), tag, nil
}

func (p *parquetPlan) newWriter(f *os.File) recordWriter {
	return &parquetWriter{
		file: f,
		plan: p,
		w:    parquet.NewWriter(f, p.schema, parquet.Compression(&parquet.Snappy)),
	}
}

// row converts a normalized record into a pointer to a row struct.
func (p *parquetPlan) row(rec *value.Map) any {
	ptr := reflect.New(p.rowType)
	fillStruct(ptr.Elem(), p.fields, rec)
	return ptr.Interface()
}

func fillStruct(dst reflect.Value, fields []schema.Field, rec *value.Map) {
	for i, f := range fields {
		v, _ := rec.Get(f.Name)
		if v.IsNull() {
			continue
		}
		fillField(dst.Field(i), f, v)
	}
}

func fillField(dst reflect.Value, f schema.Field, v value.Value) {
	if f.Repeated() {
		items, ok := v.AsList()
		if !ok {
			items = []value.Value{v}
		}
		slice := reflect.MakeSlice(dst.Type(), 0, len(items))
		elem := dst.Type().Elem()
		for _, item := range items {
			ev := reflect.New(elem).Elem()
			if f.Type == schema.TypeRecord {
				m, ok := item.AsMap()
				if !ok {
					continue
				}
				fillStruct(ev, f.Fields, m)
			} else if !setScalar(ev, f.Type, item) {
				continue
			}
			slice = reflect.Append(slice, ev)
		}
		dst.Set(slice)
		return
	}

	if f.Type == schema.TypeRecord {
		m, ok := v.AsMap()
		if !ok {
			return
		}
		ptr := reflect.New(dst.Type().Elem())
		fillStruct(ptr.Elem(), f.Fields, m)
		dst.Set(ptr)
		return
	}

	if f.Type == schema.TypeTimestamp {
		setScalar(dst, f.Type, v)
		return
	}
	ptr := reflect.New(dst.Type().Elem())
	if setScalar(ptr.Elem(), f.Type, v) {
		dst.Set(ptr)
	}
}

// setScalar stores v into dst when its kind matches the column type.
// Normalized rows always match; anything else is left null.
func setScalar(dst reflect.Value, t schema.Type, v value.Value) bool {
	switch t {
	case schema.TypeString:
		if s, ok := v.AsString(); ok {
			dst.SetString(s)
			return true
		}
	case schema.TypeBoolean:
		if b, ok := v.AsBool(); ok {
			dst.SetBool(b)
			return true
		}
	case schema.TypeFloat:
		if f, ok := v.AsFloat(); ok {
			dst.SetFloat(f)
			return true
		}
		if i, ok := v.AsInt(); ok {
			dst.SetFloat(float64(i))
			return true
		}
	case schema.TypeInteger:
		if i, ok := v.AsInt(); ok {
			dst.SetInt(i)
			return true
		}
	case schema.TypeTimestamp:
		if ts, ok := v.AsTime(); ok {
			dst.Set(reflect.ValueOf(ts.UTC()))
			return true
		}
	}
	return false
}

type parquetWriter struct {
	file *os.File
	plan *parquetPlan
	w    *parquet.Writer
}

func (w *parquetWriter) Write(rec *value.Map) error {
	return w.w.Write(w.plan.row(rec))
}

func (w *parquetWriter) Close() error {
	if err := w.w.Close(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}
