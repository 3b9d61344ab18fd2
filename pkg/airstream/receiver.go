// ABOUTME: Receiver lifecycle: bind, engine start, advertisement and shutdown
// ABOUTME: Exposes remote control and read-only accessors to the application
package airstream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/airstream-go/airstream/pkg/dacp"
)

// ErrAlreadyRunning is returned by Start on a running receiver
var ErrAlreadyRunning = errors.New("receiver already running")

// Dependencies are the collaborators a Receiver drives. Engine is required.
type Dependencies struct {
	Engine    Engine
	Publisher Publisher     // optional: no advertisement when nil
	Resolver  dacp.Resolver // optional: no remote control when nil
	Sink      Sink          // optional: audio is buffered but not played when nil
	Observer  Observer      // optional
}

// Stats is a diagnostics snapshot
type Stats struct {
	Running          bool
	ActiveSessions   int
	MaxSessions      int
	TotalSessions    uint64
	RejectedSessions uint64
	Buffer           audio.BufferStats
}

// Receiver is an AirPlay audio receiver
type Receiver struct {
	deps   Dependencies
	bridge *bridge

	// lifecycle serializes Start, Stop and Restart
	lifecycle sync.Mutex

	mu      sync.RWMutex
	config  ServerConfig
	pending *ServerConfig
	running bool
	ln      net.Listener
}

// NewReceiver creates a receiver. Config defaults are applied here; the
// config is validated by Start.
func NewReceiver(config ServerConfig, deps Dependencies) (*Receiver, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("protocol engine is required")
	}

	config = config.withDefaults()
	return &Receiver{
		deps:   deps,
		config: config,
		bridge: newBridge(config, deps.Sink, deps.Resolver, deps.Observer),
	}, nil
}

// Start binds the port, starts the engine and advertises the service. On
// failure everything already started is torn down again.
func (r *Receiver) Start() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.start()
}

func (r *Receiver) start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if r.pending != nil {
		r.config = *r.pending
		r.pending = nil
	}
	cfg := r.config
	r.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("bind port %d: %w", cfg.Port, err)
	}

	r.bridge.configure(cfg, r.deps.Observer)

	if err := r.deps.Engine.Start(ln, cfg.engineConfig(), r.bridge); err != nil {
		ln.Close()
		return fmt.Errorf("start engine: %w", err)
	}

	if r.deps.Publisher != nil {
		name := serviceName(cfg)
		if err := r.deps.Publisher.Publish(name, cfg.Port, txtRecords(cfg)); err != nil {
			errs := []error{fmt.Errorf("advertise %s: %w", name, err)}
			if stopErr := r.deps.Engine.Stop(); stopErr != nil {
				errs = append(errs, fmt.Errorf("stop engine: %w", stopErr))
			}
			r.bridge.endAll()
			if closeErr := ln.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
				errs = append(errs, fmt.Errorf("close listener: %w", closeErr))
			}
			return errors.Join(errs...)
		}
		log.Printf("Advertising %s as %s", RAOPServiceType, name)
	}

	r.mu.Lock()
	r.running = true
	r.ln = ln
	r.mu.Unlock()

	log.Printf("Receiver %q listening on %s", cfg.Name, ln.Addr())
	return nil
}

// Stop withdraws the advertisement, stops the engine and ends every session.
// Stopping a stopped receiver does nothing.
func (r *Receiver) Stop() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.stop()
}

func (r *Receiver) stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	ln := r.ln
	r.mu.Unlock()

	var errs []error
	if r.deps.Publisher != nil {
		if err := r.deps.Publisher.Unpublish(); err != nil {
			errs = append(errs, fmt.Errorf("withdraw advertisement: %w", err))
		}
	}
	if err := r.deps.Engine.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop engine: %w", err))
	}
	r.bridge.endAll()
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close listener: %w", err))
	}

	r.mu.Lock()
	r.running = false
	r.ln = nil
	r.mu.Unlock()

	log.Printf("Receiver stopped")
	return errors.Join(errs...)
}

// Restart stops and starts the receiver under one lock, so a concurrent Start
// cannot bind in between. A config passed to Reconfigure takes effect here.
func (r *Receiver) Restart() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if err := r.stop(); err != nil {
		log.Printf("Errors while stopping for restart: %v", err)
	}
	return r.start()
}

// Reconfigure replaces the config. A stopped receiver uses it on the next
// Start; a running one keeps its current config until Restart.
func (r *Receiver) Reconfigure(config ServerConfig) {
	config = config.withDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.pending = &config
		return
	}
	r.config = config
	r.pending = nil
}

// SendRemoteCommand sends cmd to the sender of the newest session that
// announced a remote. Returns dacp.ErrRemoteUnavailable when there is none or
// it has not resolved.
func (r *Receiver) SendRemoteCommand(ctx context.Context, cmd dacp.Command) error {
	client := r.bridge.latestRemote()
	if client == nil {
		return dacp.ErrRemoteUnavailable
	}
	return client.Send(ctx, cmd)
}

// Handler returns the engine callback interface. Engines started by the
// receiver already have it; this is for driving a receiver by hand.
func (r *Receiver) Handler() Handler {
	return r.bridge
}

// Config returns the config in effect
func (r *Receiver) Config() ServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Addr returns the bound listener address, or nil when stopped
func (r *Receiver) Addr() net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

func (r *Receiver) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Format returns the stream format of the newest live session
func (r *Receiver) Format() (audio.Format, bool) {
	list := r.bridge.sessionList()
	if len(list) == 0 {
		return audio.Format{}, false
	}
	return list[len(list)-1].format, true
}

// Playback returns the latest playback state
func (r *Receiver) Playback() PlaybackState {
	return r.bridge.playback.snapshot()
}

// ActiveSessions returns the number of sessions not yet ended
func (r *Receiver) ActiveSessions() int {
	r.bridge.mu.RLock()
	defer r.bridge.mu.RUnlock()
	return len(r.bridge.sessions)
}

// Sessions describes live sessions, oldest first
func (r *Receiver) Sessions() []SessionInfo {
	list := r.bridge.sessionList()
	infos := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.info())
	}
	return infos
}

func (r *Receiver) Stats() Stats {
	sessions := r.Sessions()

	r.bridge.mu.RLock()
	buf := r.bridge.ended
	r.bridge.mu.RUnlock()

	for _, s := range sessions {
		buf.Written += s.Buffer.Written
		buf.Dropped += s.Buffer.Dropped
		buf.Underruns += s.Buffer.Underruns
		buf.Flushes += s.Buffer.Flushes
		buf.Buffered += s.Buffer.Buffered
		buf.Capacity += s.Buffer.Capacity
	}

	return Stats{
		Running:          r.Running(),
		ActiveSessions:   len(sessions),
		MaxSessions:      r.Config().MaxSessions,
		TotalSessions:    r.bridge.total.Load(),
		RejectedSessions: r.bridge.rejected.Load(),
		Buffer:           buf,
	}
}
