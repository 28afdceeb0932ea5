package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_ProducesSingleJSONDocument(t *testing.T) {
	rep := New("fill", "gp-dev", "bonbeauty", false)
	rep.OK = true
	rep.Inserted = 4
	rep.Warn("market.yaml not found, skipping section %s", "market")

	var buf bytes.Buffer
	require.NoError(t, rep.Emit(&buf))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	assert.Equal(t, true, doc["ok"])
	assert.Equal(t, "fill", doc["operation"])
	assert.Equal(t, "gp-dev", doc["instance_id"])
	assert.Equal(t, "bonbeauty", doc["market_id"])
	assert.Equal(t, float64(4), doc["inserted"])
	assert.Len(t, doc["warnings"], 1)

	// Optional fields stay omitted when empty.
	assert.NotContains(t, doc, "output_path")
	assert.NotContains(t, doc, "exported_tables")
}

func TestEmit_WarningsNeverNull(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New("export", "gp-dev", "bonbeauty", true).Emit(&buf))
	assert.Contains(t, buf.String(), `"warnings": []`)
}

func TestEmitError_Shape(t *testing.T) {
	var buf bytes.Buffer
	EmitError(&buf, errors.New("boom"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, false, doc["ok"])
	assert.Equal(t, "boom", doc["error"])
}
