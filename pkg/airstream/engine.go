// ABOUTME: Collaborator interfaces for the receiver bridge
// ABOUTME: Protocol engine, engine callbacks, service publisher and audio sink
package airstream

import (
	"io"
	"net"

	"github.com/airstream-go/airstream/pkg/audio"
)

// RAOPServiceType is the DNS-SD service AirPlay audio receivers advertise
const RAOPServiceType = "_raop._tcp"

// SessionHandle identifies a session in the bridge's session table.
// Handles are never reused within a process.
type SessionHandle uint64

// EngineConfig is what the protocol engine needs from the server config
type EngineConfig struct {
	Name         string
	Password     string
	HardwareAddr net.HardwareAddr
	MaxSessions  int
	Debug        bool
}

// Engine is the RAOP protocol engine: RTSP negotiation, RTP audio transport
// and decryption. It accepts connections on the listener it is given and
// reports everything it learns through the Handler.
type Engine interface {
	Start(ln net.Listener, cfg EngineConfig, h Handler) error
	Stop() error
}

// Handler receives engine events. Every method except Negotiate is keyed by
// the handle Negotiate returned; events for unknown or ended handles are
// ignored. Methods may be called from any goroutine but the engine must not
// call them concurrently for the same handle.
type Handler interface {
	// Negotiate begins a session with the announced stream format. A non-nil
	// error rejects the connection.
	Negotiate(bitsPerChannel, channelsPerFrame, sampleRate int) (SessionHandle, error)

	Audio(h SessionHandle, data []byte)
	Flush(h SessionHandle)
	Teardown(h SessionHandle)

	// RemoteIdentity carries the sender's DACP-ID and Active-Remote token
	RemoteIdentity(h SessionHandle, dacpID, activeRemote string)

	// Volume is in AirPlay dB: -30 to 0, or -144 for mute
	Volume(h SessionHandle, volume float32)

	// Metadata is a raw DMAP chunk sequence
	Metadata(h SessionHandle, data []byte)

	CoverArt(h SessionHandle, data []byte)

	// Progress carries RTP timestamps for track start, playhead and track end
	Progress(h SessionHandle, start, current, end uint32)
}

// Publisher advertises the receiver on the local network
type Publisher interface {
	Publish(name string, port int, txt []string) error
	Unpublish() error
}

// Sink is the local audio output. Once opened it pulls PCM from src on its
// own schedule until closed.
type Sink interface {
	Open(format audio.Format, src io.Reader) error
	Close() error
}

// GainSink is a Sink with software volume
type GainSink interface {
	Sink
	SetGain(gain float64)
}
