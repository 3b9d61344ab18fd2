// ABOUTME: Status API message type definitions
// ABOUTME: JSON views of receiver state and the event stream envelope
package status

import (
	"time"

	"github.com/airstream-go/airstream/pkg/airstream"
	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/airstream-go/airstream/pkg/dacp"
)

// Event stream message types
const (
	TypeSnapshot        = "status/snapshot"
	TypeStreamStart     = "stream/start"
	TypeStreamStop      = "stream/stop"
	TypeStreamFlush     = "stream/flush"
	TypeRemoteAvailable = "remote/available"
	TypeVolume          = "playback/volume"
	TypeMetadata        = "playback/metadata"
	TypeCoverArt        = "playback/artwork"
	TypePosition        = "playback/position"

	// Sent by clients
	TypeRemoteCommand = "remote/command"
	TypeRemoteResult  = "remote/result"
)

// Message is the top-level wrapper for all event stream messages
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// DeviceInfo contains receiver identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// AudioFormat describes a negotiated stream format
type AudioFormat struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

func formatView(f audio.Format) AudioFormat {
	return AudioFormat{SampleRate: f.SampleRate, Channels: f.Channels, BitDepth: f.BitDepth}
}

// BufferStats mirrors audio.BufferStats
type BufferStats struct {
	Written   uint64 `json:"written"`
	Dropped   uint64 `json:"dropped"`
	Underruns uint64 `json:"underruns"`
	Flushes   uint64 `json:"flushes"`
	Buffered  int    `json:"buffered"`
	Capacity  int    `json:"capacity"`
}

func bufferView(b audio.BufferStats) BufferStats {
	return BufferStats(b)
}

// Session describes one live session
type Session struct {
	Handle    uint64      `json:"handle"`
	ID        string      `json:"id"`
	State     string      `json:"state"`
	Format    AudioFormat `json:"format"`
	Started   time.Time   `json:"started"`
	HasRemote bool        `json:"has_remote"`
	Buffer    BufferStats `json:"buffer"`
}

func sessionView(info airstream.SessionInfo) Session {
	return Session{
		Handle:    uint64(info.Handle),
		ID:        info.ID,
		State:     info.State.String(),
		Format:    formatView(info.Format),
		Started:   info.Started,
		HasRemote: info.HasRemote,
		Buffer:    bufferView(info.Buffer),
	}
}

// Playback is the now-playing state
type Playback struct {
	Volume        float32           `json:"volume"`
	VolumePercent int               `json:"volume_percent"`
	Muted         bool              `json:"muted"`
	Title         string            `json:"title,omitempty"`
	Artist        string            `json:"artist,omitempty"`
	Album         string            `json:"album,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	PositionMs    int64             `json:"position_ms"`
	DurationMs    int64             `json:"duration_ms"`
	HasCoverArt   bool              `json:"has_cover_art"`
}

func playbackView(p airstream.PlaybackState) Playback {
	return Playback{
		Volume:        p.Volume,
		VolumePercent: airstream.VolumePercent(p.Volume),
		Muted:         p.Muted(),
		Title:         p.Metadata.Title(),
		Artist:        p.Metadata.Artist(),
		Album:         p.Metadata.Album(),
		Metadata:      p.Metadata,
		PositionMs:    p.Position.Milliseconds(),
		DurationMs:    p.Duration.Milliseconds(),
		HasCoverArt:   len(p.CoverArt) > 0,
	}
}

// Stats is the receiver diagnostics view
type Stats struct {
	ActiveSessions   int         `json:"active_sessions"`
	MaxSessions      int         `json:"max_sessions"`
	TotalSessions    uint64      `json:"total_sessions"`
	RejectedSessions uint64      `json:"rejected_sessions"`
	Buffer           BufferStats `json:"buffer"`
}

// Status is the full receiver snapshot served at /status
type Status struct {
	Name     string     `json:"name"`
	Port     int        `json:"port"`
	Running  bool       `json:"running"`
	Device   DeviceInfo `json:"device"`
	Sessions []Session  `json:"sessions"`
	Playback Playback   `json:"playback"`
	Stats    Stats      `json:"stats"`
}

// Volume event payload
type Volume struct {
	Volume        float32 `json:"volume"`
	VolumePercent int     `json:"volume_percent"`
	Muted         bool    `json:"muted"`
}

// Position event payload
type Position struct {
	PositionMs int64 `json:"position_ms"`
	DurationMs int64 `json:"duration_ms"`
}

// Remote event payload
type Remote struct {
	Session Session `json:"session"`
	Host    string  `json:"host"`
	Port    int     `json:"port"`
	DACPID  string  `json:"dacp_id"`
}

func remoteView(info airstream.SessionInfo, ep dacp.Endpoint) Remote {
	return Remote{Session: sessionView(info), Host: ep.Host, Port: ep.Port, DACPID: ep.Identity.DACPID}
}

// RemoteCommand is sent by clients to control the sender
type RemoteCommand struct {
	Command string `json:"command"`
}

// RemoteResult answers a RemoteCommand
type RemoteResult struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}
