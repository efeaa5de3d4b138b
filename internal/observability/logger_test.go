package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/podushkina/linkarchive/internal/config"
)

func TestSetupLogger_FileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	logger, err := SetupLogger(config.LogConfig{
		Level:   "warn",
		Format:  "json",
		Outputs: []string{path},
	})
	require.NoError(t, err)
	defer zap.ReplaceGlobals(zap.NewNop())

	logger.Info("dropped")
	logger.Warn("kept", zap.String("k", "v"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "v", entry["k"])
}

func TestSetupLogger_RotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotated.log")
	logger, err := SetupLogger(config.LogConfig{
		Level:    "debug",
		Format:   "console",
		Outputs:  []string{path},
		Rotation: config.RotationConfig{Enable: true},
	})
	require.NoError(t, err)
	defer zap.ReplaceGlobals(zap.NewNop())

	logger.Debug("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
