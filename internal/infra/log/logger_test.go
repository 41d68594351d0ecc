package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newLogger(&buf, "prod", "api"), "feed")

	logger.Debug().Msg("скрыто")
	logger.Info().Msg("видно")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "feed", entry["component"])
	assert.Equal(t, "видно", entry["message"])
}
