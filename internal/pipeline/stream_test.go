package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongobq/internal/normalize"
	"mongobq/internal/schema"
)

func TestNormalizeStream(t *testing.T) {
	table, err := normalize.NewTable(schema.Default(), normalize.DefaultOverrides)
	require.NoError(t, err)

	src := newFakeSource(7)
	src.docs[4] = malformedDoc(5)

	var out, qout bytes.Buffer
	stats, err := NormalizeStream(context.Background(), src, normalize.NewNormalizer(table), 3, &out, &qout)
	require.NoError(t, err)
	assert.Equal(t, StreamStats{Attempted: 7, Succeeded: 6, Quarantined: 1}, stats)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "doc-1", first["_id"])

	var q map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(qout.Bytes()), &q))
	assert.Equal(t, "doc-5", q["_id"])
	assert.Equal(t, "cart_products[0].amount", q["field"])

	assert.Equal(t, [][2]int64{{0, 3}, {3, 3}, {6, 3}, {9, 3}}, src.finds)
}

func TestNormalizeStreamStopsOnFetchError(t *testing.T) {
	table, err := normalize.NewTable(schema.Default(), normalize.DefaultOverrides)
	require.NoError(t, err)
	src := newFakeSource(5)
	src.failSkip = map[int64]bool{2: true}

	var out, qout bytes.Buffer
	stats, err := NormalizeStream(context.Background(), src, normalize.NewNormalizer(table), 2, &out, &qout)
	assert.Error(t, err)
	assert.Equal(t, 2, stats.Attempted)
}
