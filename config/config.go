// Package config loads the YAML configuration shared by the chowder commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/astei/chowder/protocol"
	"github.com/astei/chowder/region"
)

// Config is the top-level configuration.
type Config struct {
	// MaxPacketLength bounds a framed packet, length prefix included.
	MaxPacketLength int `yaml:"max_packet_length"`

	// MaxChunkSize bounds a decompressed chunk.
	MaxChunkSize int `yaml:"max_chunk_size"`

	// BlocksManifest is the path of the block definition manifest.
	BlocksManifest string `yaml:"blocks_manifest"`

	// LevelPath is the directory holding the region files.
	LevelPath string `yaml:"level_path"`

	// Concurrency bounds how many region files are loaded at once.
	// Defaults to the number of CPUs.
	Concurrency int `yaml:"concurrency"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		MaxPacketLength: protocol.DefaultMaxLength,
		MaxChunkSize:    region.DefaultMaxChunkSize,
		BlocksManifest:  "blocks.json",
		LevelPath:       "world/region",
		Concurrency:     runtime.NumCPU(),
		Log:             LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the configuration at path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return config, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	config := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.MaxPacketLength < 1+protocol.MaxVarintLen {
		return fmt.Errorf("max_packet_length must be at least %d", 1+protocol.MaxVarintLen)
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("max_chunk_size must be positive")
	}
	if c.BlocksManifest == "" {
		return fmt.Errorf("blocks_manifest is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q (supported: text, json)", c.Log.Format)
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(l.Level))); err != nil {
		return 0, fmt.Errorf("log: unknown level %q", l.Level)
	}
	return level, nil
}

// Logger builds the logger the configuration describes, writing to w.
func (l LogConfig) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
