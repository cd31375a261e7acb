package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xab-mack/anchorscan/internal/config"
)

func TestDetermineLevel(t *testing.T) {
	tests := []struct {
		name string
		env  string
		cfg  string
		want hclog.Level
	}{
		{"default", "", "", hclog.Warn},
		{"config", "", "debug", hclog.Debug},
		{"env wins", "trace", "error", hclog.Trace},
		{"bad env falls back", "shout", "info", hclog.Info},
		{"bad config falls back", "", "shout", hclog.Warn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvLevel, tt.env)

			got := determineLevel(config.LogConfig{Level: tt.cfg})

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONOutput(t *testing.T) {
	// given
	t.Setenv(EnvLevel, "")
	var buf bytes.Buffer
	log := NewWithOutput(config.LogConfig{Level: "info", JSON: true}, "anchorscan", &buf)

	// when
	log.Info("scan finished", "findings", 3)
	log.Debug("hidden")

	// then
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "scan finished", line["@message"])
	assert.Equal(t, "anchorscan", line["@module"])
	assert.EqualValues(t, 3, line["findings"])
}
