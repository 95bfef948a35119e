package schema

import (
	bigquery "google.golang.org/api/bigquery/v2"
)

// TableSchema converts the descriptor into the load job's explicit schema.
// Records recurse into their sub-fields.
func (s Schema) TableSchema() *bigquery.TableSchema {
	return &bigquery.TableSchema{Fields: tableFields(s.Fields)}
}

func tableFields(fields []Field) []*bigquery.TableFieldSchema {
	out := make([]*bigquery.TableFieldSchema, 0, len(fields))
	for _, f := range fields {
		tf := &bigquery.TableFieldSchema{
			Name: f.Name,
			Type: string(f.Type),
			Mode: string(f.Mode),
		}
		if f.Type == TypeRecord {
			tf.Fields = tableFields(f.Fields)
		}
		out = append(out, tf)
	}
	return out
}
