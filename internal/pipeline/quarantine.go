package pipeline

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"mongobq/internal"
	"mongobq/internal/normalize"
	"mongobq/internal/value"
)

func rawJSON(v value.Value) json.RawMessage {
	return json.RawMessage(value.AppendJSON(nil, v))
}

// quarantine captures a failed document for the side-channel file.
func quarantine(doc *value.Map, err error) internal.QuarantinedRecord {
	id, _ := doc.Get("_id")
	cart, _ := doc.Get("cart_products")
	opt, _ := doc.Get("option")

	q := internal.QuarantinedRecord{
		SourceID:        sourceID(id),
		RawCartProducts: rawJSON(cart),
		RawOption:       rawJSON(opt),
		FailureReason:   err.Error(),
	}
	var fe *normalize.FieldError
	if errors.As(err, &fe) {
		q.Field = fe.Path
		q.RawValue = rawJSON(fe.Raw)
	}
	return q
}

func sourceID(id value.Value) string {
	if id.IsNull() {
		return ""
	}
	s, _ := normalize.ToString(id).AsString()
	return s
}

// writeQuarantineFile writes records as a JSON array. The file is for
// operators and is never uploaded.
func writeQuarantineFile(path string, records []internal.QuarantinedRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o644)
}
