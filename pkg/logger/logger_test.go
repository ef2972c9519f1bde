package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init("loud", "json", "stdout")
	assert.Error(t, err)
}

func TestInitWritesJSONToFile(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init("info", "json", path))

	Info("corpus loaded", zap.Int("records", 3))
	Debug("dropped below level")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := gjson.ParseBytes(data)
	assert.Equal(t, "corpus loaded", line.Get("message").String())
	assert.Equal(t, "info", line.Get("level").String())
	assert.Equal(t, ServiceName, line.Get("service").String())
	assert.Equal(t, int64(3), line.Get("records").Int())
	assert.NotContains(t, string(data), "dropped below level")
}

func TestNamedLoggerCarriesComponent(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init("debug", "json", path))

	Named("generation").Warn("backend unavailable")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "generation", gjson.GetBytes(data, "logger").String())
}
