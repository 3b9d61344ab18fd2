// ABOUTME: Per-connection session state machine
// ABOUTME: Implements engine callbacks and routes them to buffer, sink, remote and observer
package airstream

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/airstream-go/airstream/pkg/dacp"
	"github.com/airstream-go/airstream/pkg/dmap"
	"github.com/google/uuid"
)

// State is a session's position in its lifecycle
type State int

const (
	StateIdle State = iota
	StateNegotiated
	StateStreaming
	StateFlushing
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiated:
		return "negotiated"
	case StateStreaming:
		return "streaming"
	case StateFlushing:
		return "flushing"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// live reports whether auxiliary events are accepted in s
func (s State) live() bool {
	return s == StateNegotiated || s == StateStreaming || s == StateFlushing
}

var (
	// ErrTooManySessions is returned by Negotiate when MaxSessions are live
	ErrTooManySessions = errors.New("too many sessions")

	// ErrInvalidFormat is returned by Negotiate for a zero or unusable format
	ErrInvalidFormat = errors.New("invalid stream format")
)

// SessionInfo describes a session to observers and diagnostics
type SessionInfo struct {
	Handle    SessionHandle
	ID        string
	Format    audio.Format
	State     State
	Started   time.Time
	HasRemote bool
	Buffer    audio.BufferStats
}

type session struct {
	handle  SessionHandle
	id      string
	format  audio.Format
	started time.Time

	mu       sync.Mutex
	state    State
	buffer   *audio.HandoffBuffer
	remote   *dacp.Client
	progress progressTracker
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *session) infoLocked() SessionInfo {
	info := SessionInfo{
		Handle:    s.handle,
		ID:        s.id,
		Format:    s.format,
		State:     s.state,
		Started:   s.started,
		HasRemote: s.remote != nil,
	}
	if s.buffer != nil {
		info.Buffer = s.buffer.Stats()
	}
	return info
}

// bridge implements Handler. It owns the session table and the shared
// playback state.
type bridge struct {
	sink     Sink
	resolver dacp.Resolver
	playback playback

	cfgMu  sync.RWMutex
	cfg    ServerConfig
	notify *notifier

	mu        sync.RWMutex
	sessions  map[SessionHandle]*session
	sinkOwner SessionHandle // 0 when the sink is closed
	ended     audio.BufferStats

	nextHandle atomic.Uint64
	total      atomic.Uint64
	rejected   atomic.Uint64
}

func newBridge(cfg ServerConfig, sink Sink, resolver dacp.Resolver, observer Observer) *bridge {
	b := &bridge{
		sink:     sink,
		resolver: resolver,
		sessions: make(map[SessionHandle]*session),
	}
	b.configure(cfg, observer)
	return b
}

func (b *bridge) configure(cfg ServerConfig, observer Observer) {
	b.cfgMu.Lock()
	defer b.cfgMu.Unlock()
	b.cfg = cfg
	b.notify = newNotifier(observer, cfg.ObserverTimeout)
}

func (b *bridge) config() (ServerConfig, *notifier) {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg, b.notify
}

func (b *bridge) lookup(h SessionHandle) *session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[h]
}

// Negotiate creates a session in the table, asks the observer, and moves it
// to Negotiated. The slot is reserved before the observer runs so concurrent
// negotiations cannot exceed MaxSessions.
func (b *bridge) Negotiate(bitsPerChannel, channelsPerFrame, sampleRate int) (SessionHandle, error) {
	cfg, notify := b.config()
	format := audio.Format{SampleRate: sampleRate, Channels: channelsPerFrame, BitDepth: bitsPerChannel}
	if !format.Valid() {
		b.rejected.Add(1)
		return 0, fmt.Errorf("%w: %s", ErrInvalidFormat, format)
	}

	s := &session{
		handle:  SessionHandle(b.nextHandle.Add(1)),
		id:      uuid.New().String(),
		format:  format,
		started: time.Now(),
		state:   StateIdle,
	}

	b.mu.Lock()
	if len(b.sessions) >= cfg.MaxSessions {
		b.mu.Unlock()
		b.rejected.Add(1)
		log.Printf("Rejecting session: %d of %d sessions live", cfg.MaxSessions, cfg.MaxSessions)
		return 0, ErrTooManySessions
	}
	b.sessions[s.handle] = s
	b.mu.Unlock()

	if err := notify.streamWillStart(s.info(), format); err != nil {
		b.remove(s.handle)
		b.rejected.Add(1)
		log.Printf("Session %s rejected by observer: %v", s.id, err)
		return 0, fmt.Errorf("session rejected: %w", err)
	}

	s.mu.Lock()
	if s.state != StateIdle {
		// torn down by Stop while the observer was deciding; Teardown left
		// the stop notification to us since the start had not completed
		s.mu.Unlock()
		notify.streamDidStop(s.info())
		return 0, fmt.Errorf("session %s ended during negotiation", s.id)
	}
	s.state = StateNegotiated
	s.mu.Unlock()

	b.total.Add(1)
	log.Printf("Session %s negotiated: %s", s.id, format)
	return s.handle, nil
}

// Audio buffers one block. The first block of a session creates its handoff
// buffer and opens the sink.
func (b *bridge) Audio(h SessionHandle, data []byte) {
	s := b.lookup(h)
	if s == nil {
		return
	}
	cfg, notify := b.config()

	s.mu.Lock()
	switch s.state {
	case StateNegotiated:
		s.buffer = audio.NewHandoffBufferForDuration(s.format, cfg.BufferMs)
		s.state = StateStreaming
		b.openSink(s)
		log.Printf("Session %s streaming (%d byte buffer)", s.id, s.buffer.Cap())
	case StateFlushing:
		s.state = StateStreaming
		if cfg.Debug {
			log.Printf("Session %s resumed after flush", s.id)
		}
	case StateStreaming:
	default:
		s.mu.Unlock()
		return
	}
	buf := s.buffer
	var info SessionInfo
	if notify.tap != nil {
		info = s.infoLocked()
	}
	s.mu.Unlock()

	notify.audioReceived(info, data)
	buf.Write(data)
}

// openSink gives the sink to s if no other session holds it. Caller holds s.mu.
func (b *bridge) openSink(s *session) {
	if b.sink == nil {
		return
	}

	b.mu.Lock()
	if b.sinkOwner != 0 {
		b.mu.Unlock()
		return
	}
	b.sinkOwner = s.handle
	b.mu.Unlock()

	if gs, ok := b.sink.(GainSink); ok {
		gs.SetGain(b.playback.gain())
	}
	if err := b.sink.Open(s.format, s.buffer); err != nil {
		log.Printf("Failed to open audio output for session %s: %v", s.id, err)
		b.mu.Lock()
		b.sinkOwner = 0
		b.mu.Unlock()
	}
}

func (b *bridge) closeSink(h SessionHandle) {
	b.mu.Lock()
	owned := b.sinkOwner == h && h != 0
	if owned {
		b.sinkOwner = 0
	}
	b.mu.Unlock()

	if owned {
		if err := b.sink.Close(); err != nil {
			log.Printf("Failed to close audio output: %v", err)
		}
	}
}

// Flush discards buffered audio after a discontinuity
func (b *bridge) Flush(h SessionHandle) {
	s := b.lookup(h)
	if s == nil {
		return
	}
	_, notify := b.config()

	s.mu.Lock()
	if s.state != StateStreaming && s.state != StateFlushing {
		s.mu.Unlock()
		return
	}
	s.state = StateFlushing
	s.buffer.Flush()
	s.progress.reset()
	info := s.infoLocked()
	s.mu.Unlock()

	notify.audioFlush(info)
}

// Teardown ends a session: the sink and buffer are closed, remote control is
// cancelled and the session leaves the table.
func (b *bridge) Teardown(h SessionHandle) {
	s := b.remove(h)
	if s == nil {
		return
	}
	_, notify := b.config()

	s.mu.Lock()
	prev := s.state
	if prev == StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	b.closeSink(s.handle)
	if s.buffer != nil {
		s.buffer.Close()
		b.addEnded(s.buffer.Stats())
	}
	if s.remote != nil {
		s.remote.Close()
		s.remote = nil
	}
	info := s.infoLocked()
	s.mu.Unlock()

	log.Printf("Session %s ended", s.id)
	if prev != StateIdle {
		notify.streamDidStop(info)
	}
}

func (b *bridge) remove(h SessionHandle) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.sessions[h]
	delete(b.sessions, h)
	return s
}

func (b *bridge) addEnded(st audio.BufferStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended.Written += st.Written
	b.ended.Dropped += st.Dropped
	b.ended.Underruns += st.Underruns
	b.ended.Flushes += st.Flushes
}

// endAll tears down every live session
func (b *bridge) endAll() {
	b.mu.RLock()
	handles := make([]SessionHandle, 0, len(b.sessions))
	for h := range b.sessions {
		handles = append(handles, h)
	}
	b.mu.RUnlock()

	for _, h := range handles {
		b.Teardown(h)
	}
}

// RemoteIdentity starts resolving the sender's remote control service. A
// repeated identity replaces the previous client.
func (b *bridge) RemoteIdentity(h SessionHandle, dacpID, activeRemote string) {
	s := b.lookup(h)
	if s == nil {
		return
	}
	cfg, notify := b.config()
	if b.resolver == nil {
		if cfg.Debug {
			log.Printf("Session %s announced remote %s but no resolver is configured", s.id, dacpID)
		}
		return
	}

	s.mu.Lock()
	if !s.state.live() {
		s.mu.Unlock()
		return
	}
	if s.remote != nil {
		s.remote.Close()
	}
	client := dacp.NewClient(dacp.Identity{DACPID: dacpID, ActiveRemote: activeRemote}, b.resolver, dacp.ClientConfig{
		ResolveTimeout: cfg.ResolveTimeout,
		Debug:          cfg.Debug,
	})
	s.remote = client
	s.mu.Unlock()

	client.Start()
	go b.awaitRemote(s, client, notify)
}

func (b *bridge) awaitRemote(s *session, client *dacp.Client, notify *notifier) {
	select {
	case <-client.Ready():
	case <-client.Done():
		return
	}

	s.mu.Lock()
	current := s.remote == client && s.state.live()
	info := s.infoLocked()
	s.mu.Unlock()
	if !current {
		return
	}

	ep, _ := client.Endpoint()
	notify.remoteAvailable(info, ep)
}

func (b *bridge) Volume(h SessionHandle, volume float32) {
	s := b.liveSession(h)
	if s == nil {
		return
	}
	cfg, notify := b.config()

	b.playback.setVolume(volume)
	if gs, ok := b.sink.(GainSink); ok && b.ownsSink(h) {
		gs.SetGain(VolumeToGain(volume))
	}
	if cfg.Debug {
		log.Printf("Session %s volume %.2f dB", s.id, volume)
	}
	notify.volumeChanged(volume)
}

func (b *bridge) ownsSink(h SessionHandle) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sinkOwner == h
}

// Metadata decodes a DMAP buffer and replaces the current metadata. A
// partially malformed buffer still publishes what decoded.
func (b *bridge) Metadata(h SessionHandle, data []byte) {
	s := b.liveSession(h)
	if s == nil {
		return
	}
	cfg, notify := b.config()

	md, err := dmap.Decode(data)
	if err != nil {
		log.Printf("Session %s metadata partially decoded (%d keys): %v", s.id, len(md), err)
	}
	if cfg.Debug {
		log.Printf("Session %s metadata: %q by %q", s.id, md.Title(), md.Artist())
	}

	b.playback.setMetadata(md)
	notify.metadataChanged(md.Clone())
}

func (b *bridge) CoverArt(h SessionHandle, data []byte) {
	s := b.liveSession(h)
	if s == nil {
		return
	}
	cfg, notify := b.config()

	art := bytes.Clone(data)
	b.playback.setCoverArt(art)
	if cfg.Debug {
		log.Printf("Session %s cover art: %d bytes", s.id, len(art))
	}
	notify.coverArtChanged(bytes.Clone(art))
}

func (b *bridge) Progress(h SessionHandle, start, current, end uint32) {
	s := b.lookup(h)
	if s == nil {
		return
	}
	cfg, notify := b.config()

	s.mu.Lock()
	if !s.state.live() {
		s.mu.Unlock()
		return
	}
	position, duration := s.progress.update(start, current, end, s.format.SampleRate)
	s.mu.Unlock()

	b.playback.setProgress(position, duration)
	if cfg.Debug {
		log.Printf("Session %s position %v / %v", s.id, position.Truncate(time.Second), duration.Truncate(time.Second))
	}
	notify.positionChanged(position, duration)
}

func (b *bridge) liveSession(h SessionHandle) *session {
	s := b.lookup(h)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.live() {
		return nil
	}
	return s
}

// sessionList returns live sessions ordered oldest first
func (b *bridge) sessionList() []*session {
	b.mu.RLock()
	list := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		list = append(list, s)
	}
	b.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].handle < list[j].handle })
	return list
}

// latestRemote returns the remote client of the newest session that has
// one, preferring a resolved client.
func (b *bridge) latestRemote() *dacp.Client {
	var fallback *dacp.Client
	list := b.sessionList()
	for i := len(list) - 1; i >= 0; i-- {
		s := list[i]
		s.mu.Lock()
		client := s.remote
		s.mu.Unlock()
		if client == nil {
			continue
		}
		if _, ok := client.Endpoint(); ok {
			return client
		}
		if fallback == nil {
			fallback = client
		}
	}
	return fallback
}
