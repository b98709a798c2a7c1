package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_Record(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLogger(&buf)

	audit.Record(context.Background(), AuditEvent{
		Type:     "lane",
		Lane:     "firewall",
		Action:   "lane_cleared",
		Status:   "success",
		Metadata: map[string]interface{}{"cleared": 3},
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "lane", entry["type"])
	assert.Equal(t, "firewall", entry["lane"])
	assert.Equal(t, "lane_cleared", entry["action"])
	assert.Contains(t, entry, "metadata")
	assert.Contains(t, entry, "time")
}

func TestOpenAuditLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "lanes.jsonl")

	audit, err := OpenAuditLog(path)
	require.NoError(t, err)

	audit.Record(context.Background(), AuditEvent{Type: "lane", Action: "task_enqueued", Status: "pending"})
	require.NoError(t, audit.Close())
	require.NoError(t, audit.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "task_enqueued")
}
