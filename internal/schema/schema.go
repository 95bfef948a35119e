// Package schema parses the externally supplied target table schema. The
// descriptor drives both the column set of every exported row and the
// destination table definition handed to the warehouse.
package schema

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Type string

const (
	TypeString    Type = "STRING"
	TypeBoolean   Type = "BOOLEAN"
	TypeFloat     Type = "FLOAT"
	TypeInteger   Type = "INTEGER"
	TypeTimestamp Type = "TIMESTAMP"
	TypeRecord    Type = "RECORD"
)

type Mode string

const (
	ModeNullable Mode = "NULLABLE"
	ModeRequired Mode = "REQUIRED"
	ModeRepeated Mode = "REPEATED"
)

type Field struct {
	Name   string  `json:"name" yaml:"name"`
	Type   Type    `json:"type" yaml:"type"`
	Mode   Mode    `json:"mode,omitempty" yaml:"mode,omitempty"`
	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
}

func (f Field) Repeated() bool { return f.Mode == ModeRepeated }

// Schema is an ordered list of top-level fields.
type Schema struct {
	Fields []Field
}

//go:embed default_schema.json
var defaultDescriptor []byte

// Default returns the built-in descriptor for the event summary collection.
func Default() Schema {
	s, err := Parse(defaultDescriptor, ".json")
	if err != nil {
		panic(fmt.Sprintf("schema: embedded descriptor is invalid: %v", err))
	}
	return s
}

// Load reads a descriptor file; an empty path yields Default.
func Load(path string) (Schema, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema: %w", err)
	}
	return Parse(blob, filepath.Ext(path))
}

// Parse decodes a JSON or YAML descriptor (selected by ext) and validates it.
func Parse(data []byte, ext string) (Schema, error) {
	var fields []Field
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fields); err != nil {
			return Schema{}, fmt.Errorf("decode yaml schema: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &fields); err != nil {
			return Schema{}, fmt.Errorf("decode json schema: %w", err)
		}
	}
	if len(fields) == 0 {
		return Schema{}, errors.New("schema has no fields")
	}
	normalized, err := normalizeFields(fields, "")
	if err != nil {
		return Schema{}, err
	}
	return Schema{Fields: normalized}, nil
}

func normalizeFields(fields []Field, prefix string) ([]Field, error) {
	out := make([]Field, 0, len(fields))
	seen := map[string]struct{}{}
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return nil, fmt.Errorf("schema: field without name under %q", prefix)
		}
		path := joinPath(prefix, name)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("schema: duplicate field %s", path)
		}
		seen[name] = struct{}{}

		typ, ok := canonicalType(f.Type)
		if !ok {
			return nil, fmt.Errorf("schema: field %s has unsupported type %q", path, f.Type)
		}
		mode := Mode(strings.ToUpper(strings.TrimSpace(string(f.Mode))))
		switch mode {
		case "":
			mode = ModeNullable
		case ModeNullable, ModeRequired, ModeRepeated:
		default:
			return nil, fmt.Errorf("schema: field %s has unsupported mode %q", path, f.Mode)
		}

		nf := Field{Name: name, Type: typ, Mode: mode}
		if typ == TypeRecord {
			if len(f.Fields) == 0 {
				return nil, fmt.Errorf("schema: record field %s has no fields", path)
			}
			sub, err := normalizeFields(f.Fields, path)
			if err != nil {
				return nil, err
			}
			nf.Fields = sub
		}
		out = append(out, nf)
	}
	return out, nil
}

func canonicalType(t Type) (Type, bool) {
	switch strings.ToUpper(strings.TrimSpace(string(t))) {
	case "STRING":
		return TypeString, true
	case "BOOLEAN", "BOOL":
		return TypeBoolean, true
	case "FLOAT", "FLOAT64":
		return TypeFloat, true
	case "INTEGER", "INT64":
		return TypeInteger, true
	case "TIMESTAMP":
		return TypeTimestamp, true
	case "RECORD", "STRUCT":
		return TypeRecord, true
	default:
		return "", false
	}
}

// Lookup finds a field by dotted path, e.g. "cart_products.option".
func (s Schema) Lookup(path string) (Field, bool) {
	fields := s.Fields
	parts := strings.Split(path, ".")
	for i, part := range parts {
		var found *Field
		for j := range fields {
			if fields[j].Name == part {
				found = &fields[j]
				break
			}
		}
		if found == nil {
			return Field{}, false
		}
		if i == len(parts)-1 {
			return *found, true
		}
		fields = found.Fields
	}
	return Field{}, false
}

// Names returns the top-level column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// MarshalJSON emits the descriptor in the same array form it is read from.
func (s Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Fields)
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
