// ABOUTME: Application configuration loaded with viper
// ABOUTME: YAML file, AIRSTREAM_ environment overrides and per-section validation
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"strings"
	"time"

	"github.com/airstream-go/airstream/pkg/airstream"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. AIRSTREAM_RECEIVER_NAME
const EnvPrefix = "AIRSTREAM"

// Config represents the complete application configuration
type Config struct {
	Receiver  ReceiverConfig  `mapstructure:"receiver"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Status    StatusConfig    `mapstructure:"status"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	TUI       bool            `mapstructure:"tui"`
}

// ReceiverConfig contains the advertised receiver settings
type ReceiverConfig struct {
	Name         string `mapstructure:"name"`
	Password     string `mapstructure:"password"`
	Port         int    `mapstructure:"port"`
	MaxSessions  int    `mapstructure:"max_sessions"`
	HardwareAddr string `mapstructure:"hardware_addr"` // empty = first interface
}

// AudioConfig contains local output settings
type AudioConfig struct {
	Backend    string `mapstructure:"backend"` // oto, malgo or none
	BufferMs   int    `mapstructure:"buffer_ms"`
	ArtworkDir string `mapstructure:"artwork_dir"`
}

// EngineConfig contains simulated sender settings
type EngineConfig struct {
	Source   string `mapstructure:"source"`    // .mp3/.flac path, empty = test tone
	CoverArt string `mapstructure:"cover_art"` // image sent with every track
}

// DiscoveryConfig contains service discovery settings
type DiscoveryConfig struct {
	Publisher      string        `mapstructure:"publisher"` // mdns, zeroconf or none
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
}

// StatusConfig contains status API settings
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Debug bool   `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("receiver.name", airstream.DefaultName)
	v.SetDefault("receiver.password", "")
	v.SetDefault("receiver.port", airstream.DefaultPort)
	v.SetDefault("receiver.max_sessions", airstream.DefaultMaxSessions)
	v.SetDefault("receiver.hardware_addr", "")

	v.SetDefault("audio.backend", "oto")
	v.SetDefault("audio.buffer_ms", airstream.DefaultBufferMs)
	v.SetDefault("audio.artwork_dir", "")

	v.SetDefault("engine.source", "")
	v.SetDefault("engine.cover_art", "")

	v.SetDefault("discovery.publisher", "mdns")
	v.SetDefault("discovery.resolve_timeout", airstream.DefaultResolveTimeout)

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.address", ":8090")

	v.SetDefault("logging.file", "airstream.log")
	v.SetDefault("logging.debug", false)

	v.SetDefault("tui", true)
}

// Load reads path (optional; a missing file is not an error) and applies
// environment overrides. Callers validate once command-line overrides are in.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			log.Printf("No config file found at %s, using defaults", path)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Receiver.Validate(); err != nil {
		return fmt.Errorf("receiver config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery config: %w", err)
	}
	if err := c.Status.Validate(); err != nil {
		return fmt.Errorf("status config: %w", err)
	}
	return nil
}

// Validate validates receiver configuration
func (r *ReceiverConfig) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", r.Port)
	}
	if r.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", r.MaxSessions)
	}
	if r.HardwareAddr != "" {
		if _, err := r.hardwareAddr(); err != nil {
			return err
		}
	}
	return nil
}

func (r *ReceiverConfig) hardwareAddr() (net.HardwareAddr, error) {
	if r.HardwareAddr == "" {
		return nil, nil
	}
	hw, err := net.ParseMAC(r.HardwareAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid hardware_addr %q: %w", r.HardwareAddr, err)
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("hardware_addr must be 6 bytes, got %d", len(hw))
	}
	return hw, nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.Backend {
	case "oto", "malgo", "none":
	default:
		return fmt.Errorf("backend must be oto, malgo or none, got %q", a.Backend)
	}
	if a.BufferMs < 1 {
		return fmt.Errorf("buffer_ms must be at least 1, got %d", a.BufferMs)
	}
	return nil
}

// Validate validates discovery configuration
func (d *DiscoveryConfig) Validate() error {
	switch d.Publisher {
	case "mdns", "zeroconf", "none":
	default:
		return fmt.Errorf("publisher must be mdns, zeroconf or none, got %q", d.Publisher)
	}
	if d.ResolveTimeout < 0 {
		return fmt.Errorf("resolve_timeout cannot be negative, got %v", d.ResolveTimeout)
	}
	return nil
}

// Validate validates status configuration
func (s *StatusConfig) Validate() error {
	if s.Enabled && s.Address == "" {
		return fmt.Errorf("address cannot be empty when status is enabled")
	}
	return nil
}

// ServerConfig converts the receiver settings to the library config
func (c *Config) ServerConfig() (airstream.ServerConfig, error) {
	hw, err := c.Receiver.hardwareAddr()
	if err != nil {
		return airstream.ServerConfig{}, err
	}

	return airstream.ServerConfig{
		Name:           c.Receiver.Name,
		Password:       c.Receiver.Password,
		Port:           c.Receiver.Port,
		MaxSessions:    c.Receiver.MaxSessions,
		HardwareAddr:   hw,
		BufferMs:       c.Audio.BufferMs,
		ResolveTimeout: c.Discovery.ResolveTimeout,
		Debug:          c.Logging.Debug,
	}, nil
}
