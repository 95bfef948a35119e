package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"mongobq/internal/normalize"
	"mongobq/internal/source"
	"mongobq/internal/value"
)

// StreamStats counts one NormalizeStream call.
type StreamStats struct {
	Attempted   int
	Succeeded   int
	Quarantined int
}

// NormalizeStream normalizes every document of src page by page without
// touching object storage. Normalized rows go to out as JSONL; quarantined
// records are written to qout as one JSON object per line.
func NormalizeStream(ctx context.Context, src source.Source, n *normalize.Normalizer, pageSize int, out, qout io.Writer) (StreamStats, error) {
	var stats StreamStats
	if pageSize <= 0 {
		pageSize = 1000
	}
	w := bufio.NewWriter(out)
	qenc := json.NewEncoder(qout)
	qenc.SetEscapeHTML(false)

	var line []byte
	for skip := int64(0); ; skip += int64(pageSize) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		docs, err := src.Find(ctx, skip, int64(pageSize))
		if err != nil {
			return stats, err
		}
		if len(docs) == 0 {
			break
		}
		for _, doc := range docs {
			stats.Attempted++
			rec, _, err := n.Normalize(doc)
			if err != nil {
				stats.Quarantined++
				if err := qenc.Encode(quarantine(doc, err)); err != nil {
					return stats, err
				}
				continue
			}
			line = value.AppendJSON(line[:0], value.Object(rec))
			line = append(line, '\n')
			if _, err := w.Write(line); err != nil {
				return stats, err
			}
			stats.Succeeded++
		}
	}
	return stats, w.Flush()
}
