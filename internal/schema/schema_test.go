package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDescriptor(t *testing.T) {
	s := Default()

	cart, ok := s.Lookup("cart_products")
	require.True(t, ok)
	assert.Equal(t, TypeRecord, cart.Type)
	assert.True(t, cart.Repeated())

	nested, ok := s.Lookup("cart_products.option.shapediamond")
	require.True(t, ok)
	assert.Equal(t, TypeString, nested.Type)

	paypal, ok := s.Lookup("is_paypal")
	require.True(t, ok)
	assert.Equal(t, TypeFloat, paypal.Type)
}

func TestParseNormalizesTypesAndModes(t *testing.T) {
	s, err := Parse([]byte(`[
		{"name": "a", "type": "string"},
		{"name": "b", "type": "INT64", "mode": "required"},
		{"name": "r", "type": "STRUCT", "mode": "REPEATED", "fields": [{"name": "x", "type": "BOOL"}]}
	]`), ".json")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "r"}, s.Names())
	assert.Equal(t, ModeNullable, s.Fields[0].Mode)
	assert.Equal(t, TypeInteger, s.Fields[1].Type)
	assert.Equal(t, ModeRequired, s.Fields[1].Mode)
	assert.Equal(t, TypeRecord, s.Fields[2].Type)
	assert.Equal(t, TypeBoolean, s.Fields[2].Fields[0].Type)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{name: "empty", in: `[]`},
		{name: "unknown type", in: `[{"name":"a","type":"GEOGRAPHY"}]`},
		{name: "record without fields", in: `[{"name":"a","type":"RECORD"}]`},
		{name: "duplicate", in: `[{"name":"a","type":"STRING"},{"name":"a","type":"STRING"}]`},
		{name: "bad mode", in: `[{"name":"a","type":"STRING","mode":"OPTIONAL"}]`},
		{name: "not json", in: `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.in), ".json")
			assert.Error(t, err)
		})
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	blob := []byte(`
- name: _id
  type: STRING
- name: option
  type: RECORD
  mode: REPEATED
  fields:
    - name: option_id
      type: STRING
`)
	require.NoError(t, os.WriteFile(path, blob, 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	f, ok := s.Lookup("option.option_id")
	require.True(t, ok)
	assert.Equal(t, TypeString, f.Type)
}

func TestTableSchemaRecurses(t *testing.T) {
	ts := Default().TableSchema()
	found := false
	for _, f := range ts.Fields {
		if f.Name != "cart_products" {
			continue
		}
		found = true
		assert.Equal(t, "RECORD", f.Type)
		assert.Equal(t, "REPEATED", f.Mode)
		assert.Len(t, f.Fields, 5)
	}
	assert.True(t, found)
}
