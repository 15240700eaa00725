package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astei/chowder/protocol"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultMaxLength, c.MaxPacketLength)
	assert.Equal(t, "blocks.json", c.BlocksManifest)
	assert.Equal(t, "info", c.Log.Level)
	assert.NoError(t, c.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chowder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
blocks_manifest: generated/reports/blocks.json
concurrency: 2
log:
  format: json
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "generated/reports/blocks.json", c.BlocksManifest)
	assert.Equal(t, 2, c.Concurrency)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "info", c.Log.Level, "unset keys keep their default")
	assert.Equal(t, "world/region", c.LevelPath)
}

func TestParseEmptyDocument(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().MaxChunkSize, c.MaxChunkSize)
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":    "max_packets: 3",
		"tiny packets":   "max_packet_length: 2",
		"no manifest":    `blocks_manifest: ""`,
		"no concurrency": "concurrency: 0",
		"bad level":      "log: {level: loud}",
		"bad format":     "log: {format: xml}",
		"not yaml":       "max_chunk_size: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "chunks", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"chunks":3`)
}
