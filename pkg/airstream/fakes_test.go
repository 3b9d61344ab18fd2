// ABOUTME: Test doubles for receiver collaborators
// ABOUTME: Fake engine, publisher, sink, resolver and a recording observer
package airstream

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/airstream-go/airstream/pkg/dacp"
	"github.com/airstream-go/airstream/pkg/dmap"
)

type fakeEngine struct {
	mu       sync.Mutex
	starts   int
	stops    int
	ln       net.Listener
	cfg      EngineConfig
	handler  Handler
	startErr error
	stopErr  error
}

func (e *fakeEngine) Start(ln net.Listener, cfg EngineConfig, h Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.starts++
	e.ln = ln
	e.cfg = cfg
	e.handler = h
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	return e.stopErr
}

func (e *fakeEngine) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.stops
}

type fakePublisher struct {
	mu          sync.Mutex
	name        string
	port        int
	txt         []string
	published   bool
	unpublishes int
	publishErr  error
}

func (p *fakePublisher) Publish(name string, port int, txt []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return p.publishErr
	}
	p.name, p.port, p.txt = name, port, txt
	p.published = true
	return nil
}

func (p *fakePublisher) Unpublish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = false
	p.unpublishes++
	return nil
}

type fakeSink struct {
	mu      sync.Mutex
	opens   int
	closes  int
	format  audio.Format
	src     io.Reader
	gain    float64
	openErr error
}

func (s *fakeSink) Open(f audio.Format, src io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opens++
	s.format = f
	s.src = src
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSink) SetGain(g float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = g
}

func (s *fakeSink) buffer(t *testing.T) *audio.HandoffBuffer {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.src.(*audio.HandoffBuffer)
	if !ok {
		t.Fatalf("expected sink source to be a handoff buffer, got %T", s.src)
	}
	return buf
}

type fakeResolver struct {
	host string
	port int
}

func (r fakeResolver) Resolve(ctx context.Context, service, instance string) (string, int, error) {
	if r.host == "" {
		return "", 0, dacp.ErrNotFound
	}
	return r.host, r.port, nil
}

type recorder struct {
	NopObserver

	mu        sync.Mutex
	events    []string
	volumes   []float32
	metadata  []dmap.Metadata
	art       [][]byte
	positions [][2]time.Duration
	endpoints chan dacp.Endpoint
	reject    error
}

func newRecorder() *recorder {
	return &recorder{endpoints: make(chan dacp.Endpoint, 4)}
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) StreamWillStart(info SessionInfo, f audio.Format) error {
	r.add("start")
	return r.reject
}

func (r *recorder) StreamDidStop(SessionInfo) { r.add("stop") }
func (r *recorder) AudioFlush(SessionInfo)    { r.add("flush") }

func (r *recorder) RemoteAvailable(info SessionInfo, ep dacp.Endpoint) {
	r.add("remote")
	r.endpoints <- ep
}

func (r *recorder) VolumeChanged(v float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volumes = append(r.volumes, v)
}

func (r *recorder) MetadataChanged(md dmap.Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = append(r.metadata, md)
}

func (r *recorder) CoverArtChanged(art []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.art = append(r.art, art)
}

func (r *recorder) PositionChanged(position, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, [2]time.Duration{position, duration})
}

func (r *recorder) eventList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

var testHWAddr = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

type harness struct {
	receiver  *Receiver
	engine    *fakeEngine
	publisher *fakePublisher
	sink      *fakeSink
	observer  *recorder
}

func newHarness(t *testing.T, cfg ServerConfig, resolver dacp.Resolver) *harness {
	t.Helper()
	if cfg.Port == 0 {
		cfg.Port = freePort(t)
	}
	if cfg.HardwareAddr == nil {
		cfg.HardwareAddr = testHWAddr
	}

	h := &harness{
		engine:    &fakeEngine{},
		publisher: &fakePublisher{},
		sink:      &fakeSink{},
		observer:  newRecorder(),
	}

	r, err := NewReceiver(cfg, Dependencies{
		Engine:    h.engine,
		Publisher: h.publisher,
		Resolver:  resolver,
		Sink:      h.sink,
		Observer:  h.observer,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.receiver = r
	t.Cleanup(func() { r.Stop() })
	return h
}
