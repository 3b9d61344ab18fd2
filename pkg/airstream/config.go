// ABOUTME: Receiver configuration, defaults and validation
// ABOUTME: Also builds the RAOP service name and TXT records
package airstream

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultPort is the well-known RAOP port
	DefaultPort = 5000

	DefaultName            = "Airstream"
	DefaultMaxSessions     = 1
	DefaultBufferMs        = 500
	DefaultObserverTimeout = 250 * time.Millisecond
	DefaultResolveTimeout  = 5 * time.Second

	// maxInstanceName is the DNS label limit for "<hwaddr>@<name>"
	maxInstanceName = 63
)

// ServerConfig configures a Receiver. It is copied on Start and cannot change
// while running; use Reconfigure and Restart to apply a new one.
type ServerConfig struct {
	// Name shown to senders (default: "Airstream")
	Name string

	// Password required from senders; empty means open access
	Password string

	// Port to listen on (default: 5000)
	Port int

	// MaxSessions bounds concurrently live sessions (default: 1)
	MaxSessions int

	// HardwareAddr prefixes the advertised service name (default: first
	// interface MAC, or a random locally administered address)
	HardwareAddr net.HardwareAddr

	// BufferMs sizes each session's handoff buffer (default: 500)
	BufferMs int

	// ObserverTimeout bounds each observer notification (default: 250ms)
	ObserverTimeout time.Duration

	// ResolveTimeout bounds each remote control lookup (default: 5s)
	ResolveTimeout time.Duration

	// Debug enables per-event logging
	Debug bool
}

// ErrInvalidConfig is returned by Start when the configuration is unusable
var ErrInvalidConfig = errors.New("invalid receiver config")

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if len(c.HardwareAddr) == 0 {
		c.HardwareAddr = defaultHardwareAddr()
	}
	if c.BufferMs == 0 {
		c.BufferMs = DefaultBufferMs
	}
	if c.ObserverTimeout == 0 {
		c.ObserverTimeout = DefaultObserverTimeout
	}
	if c.ResolveTimeout == 0 {
		c.ResolveTimeout = DefaultResolveTimeout
	}
	return c
}

// Validate checks a config after defaults have been applied
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if len(c.HardwareAddr) != 6 {
		return fmt.Errorf("%w: hardware address must be 6 bytes, got %d", ErrInvalidConfig, len(c.HardwareAddr))
	}
	if n := len(serviceName(c)); n > maxInstanceName {
		return fmt.Errorf("%w: name too long (%d bytes advertised, max %d)", ErrInvalidConfig, n, maxInstanceName)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("%w: max sessions must be at least 1", ErrInvalidConfig)
	}
	if c.BufferMs < 0 {
		return fmt.Errorf("%w: buffer must not be negative", ErrInvalidConfig)
	}
	if c.ObserverTimeout < 0 || c.ResolveTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c ServerConfig) engineConfig() EngineConfig {
	return EngineConfig{
		Name:         c.Name,
		Password:     c.Password,
		HardwareAddr: c.HardwareAddr,
		MaxSessions:  c.MaxSessions,
		Debug:        c.Debug,
	}
}

// serviceName is the RAOP instance name: "<MAC as hex>@<name>"
func serviceName(c ServerConfig) string {
	return fmt.Sprintf("%X@%s", []byte(c.HardwareAddr), c.Name)
}

// txtRecords returns the RAOP TXT records for c
func txtRecords(c ServerConfig) []string {
	pw := "false"
	if c.Password != "" {
		pw = "true"
	}
	return []string{
		"txtvers=1",
		"ch=2",
		"cn=0,1",
		"et=0,1",
		"sv=false",
		"da=true",
		"sr=44100",
		"ss=16",
		"pw=" + pw,
		"vn=3",
		"tp=UDP",
		"md=0,1,2",
		"vs=130.14",
		"sm=false",
		"ek=1",
	}
}

func defaultHardwareAddr() net.HardwareAddr {
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
				continue
			}
			return iface.HardwareAddr
		}
	}

	id := uuid.New()
	addr := net.HardwareAddr(id[:6])
	addr[0] = (addr[0] | 0x02) &^ 0x01 // locally administered, unicast
	return addr
}
