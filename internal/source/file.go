package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mongobq/internal/value"
)

// FileSource serves documents from a JSON array or JSONL dump, in file
// order. It backs the offline normalize command.
type FileSource struct {
	path string
	docs []*value.Map
}

func OpenFile(path string) (*FileSource, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	docs, err := ParseDocuments(blob)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &FileSource{path: path, docs: docs}, nil
}

// ParseDocuments accepts either a JSON array of objects or one object per
// line. Key order inside each object is preserved.
func ParseDocuments(blob []byte) ([]*value.Map, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		v, err := value.ParseJSON(trimmed)
		if err != nil {
			return nil, err
		}
		items, _ := v.AsList()
		out := make([]*value.Map, 0, len(items))
		for i, item := range items {
			m, ok := item.AsMap()
			if !ok {
				return nil, fmt.Errorf("document %d is %s, not an object", i, item.Kind())
			}
			out = append(out, m)
		}
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var out []*value.Map
	for {
		v, err := value.Decode(dec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", len(out), err)
		}
		m, ok := v.AsMap()
		if !ok {
			return nil, fmt.Errorf("document %d is %s, not an object", len(out), v.Kind())
		}
		out = append(out, m)
	}
}

func (s *FileSource) Name() string { return filepath.Base(s.path) }

func (s *FileSource) Count(context.Context) (int64, error) {
	return int64(len(s.docs)), nil
}

func (s *FileSource) Find(_ context.Context, skip, limit int64) ([]*value.Map, error) {
	n := int64(len(s.docs))
	if skip >= n {
		return nil, nil
	}
	end := n
	if limit > 0 && skip+limit < n {
		end = skip + limit
	}
	return s.docs[skip:end], nil
}
