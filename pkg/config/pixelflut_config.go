package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PixelflutConfig is the root configuration for the pixelflutd process,
// loaded the same way the teacher's session/user/game configs were:
// YAML with environment-variable expansion, applied directly in
// LoadPixelflutConfig below.
type PixelflutConfig struct {
	Canvas      CanvasConfig      `yaml:"canvas"`
	Painter     PainterConfig     `yaml:"painter"`
	HTTP        HTTPConfig        `yaml:"http"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MonitoringConfig  `yaml:"metrics"`
}

// CanvasConfig sizes the shared framebuffer.
type CanvasConfig struct {
	Width  uint16 `yaml:"width"`
	Height uint16 `yaml:"height"`
}

// PainterConfig bounds the painter listener and per-connection protocol
// behavior.
type PainterConfig struct {
	ListenAddress       string `yaml:"listen_address"`
	MaxPixelsPerSlot    int    `yaml:"max_pixels_per_slot"`
	SlotDuration        string `yaml:"slot_duration"`
	MaxConnectionsPerIP int    `yaml:"max_connections_per_ip"`
	MaxLineLength       int    `yaml:"max_line_length"`
}

// HTTPConfig controls the spectator-facing HTTP surface.
type HTTPConfig struct {
	ListenAddress string `yaml:"listen_address"`
	StaticDir     string `yaml:"static_dir"`
}

// CredentialsConfig locates the flat credential file.
type CredentialsConfig struct {
	Path string `yaml:"path"`
}

// defaultConfig mirrors the teacher's pattern of yaml `default:` struct
// tags (pkg/config/session_config.go) but applied explicitly in Go,
// since this type has no reflection-based default-filling helper.
func defaultConfig() PixelflutConfig {
	return PixelflutConfig{
		Canvas: CanvasConfig{Width: 800, Height: 600},
		Painter: PainterConfig{
			ListenAddress:       "0.0.0.0:1337",
			MaxPixelsPerSlot:    1024,
			SlotDuration:        "100ms",
			MaxConnectionsPerIP: 2,
			MaxLineLength:       128,
		},
		HTTP: HTTPConfig{
			ListenAddress: "0.0.0.0:8080",
			StaticDir:     "",
		},
		Credentials: CredentialsConfig{Path: "credentials.yaml"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MonitoringConfig{Enabled: true, Port: 9090},
	}
}

// LoadPixelflutConfig reads and parses the pixelflutd configuration file
// over the defaults, expanding environment variables with os.ExpandEnv
// before parsing.
func LoadPixelflutConfig(path string) (*PixelflutConfig, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// SlotDurationValue parses Painter.SlotDuration, falling back to 100ms.
func (c *PixelflutConfig) SlotDurationValue() time.Duration {
	return ParseDuration(c.Painter.SlotDuration, 100*time.Millisecond)
}
