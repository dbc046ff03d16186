package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliefhub/internal/platform/config"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("json handler honours level", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(config.Log{Level: "warn", Format: "json"}, &buf)

		log.Info("hidden")
		log.Warn("shown", "request_id", "r-1")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "shown", line["msg"])
		assert.Equal(t, "r-1", line["request_id"])
		assert.Equal(t, "reliefhub", line["service"])
	})

	t.Run("text handler", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(config.Log{Level: "debug", Format: "text"}, &buf)
		log.Debug("drop", "recipient", "x")
		assert.Contains(t, buf.String(), "msg=drop")
	})
}
