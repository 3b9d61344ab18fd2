// ABOUTME: Loopback protocol engine driving the receiver from plain TCP connections
// ABOUTME: Each connection is a session streaming a local source in real time
package sim

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/airstream-go/airstream/pkg/airstream"
	"github.com/airstream-go/airstream/pkg/dmap"
)

const (
	// DefaultBlockFrames matches the frames per packet AirPlay senders use
	DefaultBlockFrames = 352

	// DefaultProgressInterval is how often playhead positions are reported
	DefaultProgressInterval = time.Second

	initialVolume = -15
	authTimeout   = 10 * time.Second
)

// Config holds simulated sender configuration
type Config struct {
	Source           string // .mp3 or .flac path; empty streams a test tone
	CoverArt         []byte // sent with every track when set
	BlockFrames      int
	ProgressInterval time.Duration
	Debug            bool
}

// Engine implements airstream.Engine without RTSP or RTP. Connections speak
// a line protocol:
//
//	auth <password>             required first when a password is set
//	volume <dB>                 -30..0, or -144 to mute
//	flush | pause | play | next
//	remote <dacp-id> <token>    announce a remote control identity
//	quit
//
// The engine replies "AUTH" when it needs a password, "OK <handle>" once the
// session is negotiated and "ERR <reason>" on failure.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]struct{}
	running bool
	wg      sync.WaitGroup
}

// New creates a simulated engine
func New(cfg Config) *Engine {
	if cfg.BlockFrames <= 0 {
		cfg.BlockFrames = DefaultBlockFrames
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	return &Engine{cfg: cfg, conns: make(map[net.Conn]struct{})}
}

// Start accepts connections on ln until Stop
func (e *Engine) Start(ln net.Listener, ecfg airstream.EngineConfig, h airstream.Handler) error {
	if ln == nil || h == nil {
		return errors.New("listener and handler are required")
	}

	// Fail now rather than on every connection
	src, err := NewSource(e.cfg.Source)
	if err != nil {
		return err
	}
	src.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("engine already running")
	}
	e.ln = ln
	e.running = true

	e.wg.Add(1)
	go e.acceptLoop(ln, ecfg, h)

	log.Printf("Simulated engine accepting senders for %q on %s", ecfg.Name, ln.Addr())
	return nil
}

// Stop closes the listener and every connection, then waits for sessions to
// tear down
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false

	var err error
	if closeErr := e.ln.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		err = closeErr
	}
	for c := range e.conns {
		c.Close()
	}
	e.mu.Unlock()

	e.wg.Wait()
	return err
}

func (e *Engine) acceptLoop(ln net.Listener, ecfg airstream.EngineConfig, h airstream.Handler) {
	defer e.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Printf("Accept error: %v", err)
			}
			return
		}

		e.mu.Lock()
		if !e.running {
			e.mu.Unlock()
			conn.Close()
			return
		}
		e.conns[conn] = struct{}{}
		e.wg.Add(1)
		e.mu.Unlock()

		go func() {
			defer e.wg.Done()
			defer e.untrack(conn)
			e.serve(conn, ecfg, h)
		}()
	}
}

func (e *Engine) untrack(conn net.Conn) {
	conn.Close()
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
}

// readLines delivers trimmed lines until the connection closes or done fires
func readLines(conn net.Conn, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-done:
				return
			}
		}
	}()
	return lines
}

func reply(conn net.Conn, format string, args ...any) {
	if _, err := fmt.Fprintf(conn, format+"\n", args...); err != nil {
		log.Printf("Failed to write to sender %s: %v", conn.RemoteAddr(), err)
	}
}

// session is one simulated sender's stream state
type session struct {
	handle     airstream.SessionHandle
	h          airstream.Handler
	src        Source
	art        []byte
	rtp        uint32
	trackStart uint32
	played     uint64
	paused     bool
}

func (e *Engine) serve(conn net.Conn, ecfg airstream.EngineConfig, h airstream.Handler) {
	done := make(chan struct{})
	defer close(done)
	lines := readLines(conn, done)

	if ecfg.Password != "" && !authenticate(conn, lines, ecfg.Password) {
		return
	}

	src, err := NewSource(e.cfg.Source)
	if err != nil {
		reply(conn, "ERR %v", err)
		return
	}
	defer src.Close()

	format := src.Format()
	handle, err := h.Negotiate(format.BitDepth, format.Channels, format.SampleRate)
	if err != nil {
		log.Printf("Sender %s rejected: %v", conn.RemoteAddr(), err)
		reply(conn, "ERR %v", err)
		return
	}
	defer h.Teardown(handle)

	reply(conn, "OK %d", handle)
	log.Printf("Sender %s streaming %s as session %d", conn.RemoteAddr(), format, handle)

	start := rand.Uint32()
	s := &session{handle: handle, h: h, src: src, art: e.cfg.CoverArt, rtp: start, trackStart: start}
	h.Volume(handle, initialVolume)
	s.announce()

	block := make([]byte, format.BytesForFrames(e.cfg.BlockFrames))
	ticker := time.NewTicker(time.Duration(e.cfg.BlockFrames) * time.Second / time.Duration(format.SampleRate))
	defer ticker.Stop()
	progress := time.NewTicker(e.cfg.ProgressInterval)
	defer progress.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := e.command(conn, s, line); quit {
				return
			}

		case <-ticker.C:
			if s.paused {
				continue
			}
			n, err := src.Read(block)
			if err != nil {
				log.Printf("Source read error for session %d: %v", handle, err)
				reply(conn, "ERR %v", err)
				return
			}
			h.Audio(handle, block[:n])
			s.advance(uint64(n / format.FrameSize()))

		case <-progress.C:
			if !s.paused {
				s.progress()
			}
		}
	}
}

func authenticate(conn net.Conn, lines <-chan string, password string) bool {
	reply(conn, "AUTH")

	select {
	case line, ok := <-lines:
		if !ok {
			return false
		}
		verb, arg, _ := strings.Cut(line, " ")
		if verb == "auth" && arg == password {
			return true
		}
		reply(conn, "ERR authentication failed")
	case <-time.After(authTimeout):
		reply(conn, "ERR authentication timeout")
	}
	return false
}

// command applies one line and reports whether the sender quit
func (e *Engine) command(conn net.Conn, s *session, line string) bool {
	verb, arg, _ := strings.Cut(line, " ")
	if e.cfg.Debug {
		log.Printf("Session %d command: %s", s.handle, line)
	}

	switch verb {
	case "":
	case "quit":
		return true
	case "auth":
		// already authenticated
	case "volume":
		v, err := strconv.ParseFloat(arg, 32)
		if err != nil {
			reply(conn, "ERR bad volume %q", arg)
			return false
		}
		s.h.Volume(s.handle, float32(v))
	case "flush":
		s.h.Flush(s.handle)
	case "pause":
		s.paused = true
		s.h.Flush(s.handle)
	case "play":
		s.paused = false
	case "next":
		s.h.Flush(s.handle)
		s.trackStart = s.rtp
		s.played = 0
		s.announce()
	case "remote":
		id, token, ok := strings.Cut(arg, " ")
		if !ok || id == "" || token == "" {
			reply(conn, "ERR usage: remote <dacp-id> <active-remote>")
			return false
		}
		s.h.RemoteIdentity(s.handle, id, token)
	default:
		reply(conn, "ERR unknown command %q", verb)
	}
	return false
}

// advance moves the playhead, starting a new track when the source loops
func (s *session) advance(frames uint64) {
	s.rtp += uint32(frames)
	s.played += frames

	length := s.src.Frames()
	if length == 0 || s.played < length {
		return
	}
	s.played -= length
	s.trackStart = s.rtp - uint32(s.played)
	s.announce()
}

func (s *session) announce() {
	s.h.Metadata(s.handle, dmap.EncodeMetadata(s.src.Metadata()))
	if len(s.art) > 0 {
		s.h.CoverArt(s.handle, s.art)
	}
	s.progress()
}

func (s *session) progress() {
	s.h.Progress(s.handle, s.trackStart, s.rtp, s.trackStart+uint32(s.src.Frames()))
}
