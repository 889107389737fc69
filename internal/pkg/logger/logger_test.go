package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(DEBUG)
	t.Cleanup(func() {
		SetLevel(INFO)
		SetOutput(os.Stderr)
	})
	return &buf
}

func TestLog_RedactsRecipientFields(t *testing.T) {
	buf := capture(t)

	Info("dispatched", "recipient", "john.doe@example.com", "error", "550 rejected alice@corp.com")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "jo***@example.com", entry["recipient"])
	assert.Equal(t, "550 rejected al***@corp.com", entry["error"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestWith_AddsBoundFields(t *testing.T) {
	buf := capture(t)

	With("component", "dispatcher").Warn("slow batch", "count", 3)

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dispatcher", entry["component"])
	assert.Equal(t, "3", entry["count"])
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel(ERROR)

	Info("ignored")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" WARNING "))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-address"))
}
