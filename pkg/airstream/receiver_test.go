// ABOUTME: Tests for the receiver lifecycle
// ABOUTME: Covers start/stop, rollback on failure, restart and advertisement records
package airstream

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"testing"
)

func TestNewReceiver(t *testing.T) {
	if _, err := NewReceiver(ServerConfig{}, Dependencies{}); err == nil {
		t.Error("expected error without an engine")
	}

	r, err := NewReceiver(ServerConfig{}, Dependencies{Engine: &fakeEngine{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := r.Config()
	if cfg.Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.Name != DefaultName {
		t.Errorf("expected default name %q, got %q", DefaultName, cfg.Name)
	}
	if cfg.MaxSessions != 1 {
		t.Errorf("expected 1 max session, got %d", cfg.MaxSessions)
	}
	if len(cfg.HardwareAddr) != 6 {
		t.Errorf("expected a 6 byte hardware address, got %v", cfg.HardwareAddr)
	}
	if r.Running() {
		t.Error("new receiver should not be running")
	}
}

func TestServerConfigValidate(t *testing.T) {
	valid := ServerConfig{Name: "Kitchen", HardwareAddr: testHWAddr}.withDefaults()

	tests := []struct {
		name   string
		modify func(*ServerConfig)
		valid  bool
	}{
		{"defaults", func(c *ServerConfig) {}, true},
		{"blank name", func(c *ServerConfig) { c.Name = "   " }, false},
		{"name too long", func(c *ServerConfig) { c.Name = strings.Repeat("x", 60) }, false},
		{"port too high", func(c *ServerConfig) { c.Port = 70000 }, false},
		{"negative port", func(c *ServerConfig) { c.Port = -1 }, false},
		{"zero sessions", func(c *ServerConfig) { c.MaxSessions = -1 }, false},
		{"short hardware address", func(c *ServerConfig) { c.HardwareAddr = c.HardwareAddr[:4] }, false},
		{"negative buffer", func(c *ServerConfig) { c.BufferMs = -5 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestStartAdvertisesService(t *testing.T) {
	h := newHarness(t, ServerConfig{Name: "Kitchen", Password: "secret"}, nil)

	if err := h.receiver.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.receiver.Running() {
		t.Fatal("expected receiver to be running")
	}

	if h.publisher.name != "001122334455@Kitchen" {
		t.Errorf("expected service name 001122334455@Kitchen, got %q", h.publisher.name)
	}
	if h.publisher.port != h.receiver.Config().Port {
		t.Errorf("expected advertised port %d, got %d", h.receiver.Config().Port, h.publisher.port)
	}
	for _, want := range []string{"pw=true", "sr=44100", "ss=16", "ch=2", "txtvers=1"} {
		if !slices.Contains(h.publisher.txt, want) {
			t.Errorf("expected TXT record %q in %v", want, h.publisher.txt)
		}
	}

	if h.engine.ln == nil || h.engine.handler == nil {
		t.Fatal("expected engine to receive listener and handler")
	}
	if h.engine.cfg.Password != "secret" {
		t.Errorf("expected engine to receive password")
	}
	if h.receiver.Addr() == nil {
		t.Error("expected bound address while running")
	}
}

func TestTXTRecordsOpenAccess(t *testing.T) {
	txt := txtRecords(ServerConfig{})
	if !slices.Contains(txt, "pw=false") {
		t.Errorf("expected pw=false without a password, got %v", txt)
	}
}

func TestStopTearsDown(t *testing.T) {
	h := newHarness(t, ServerConfig{}, nil)
	if err := h.receiver.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	port := h.receiver.Config().Port

	if err := h.receiver.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.receiver.Running() {
		t.Error("expected receiver to be stopped")
	}
	if h.publisher.published {
		t.Error("expected advertisement to be withdrawn")
	}
	if _, stops := h.engine.counts(); stops != 1 {
		t.Errorf("expected engine stopped once, got %d", stops)
	}

	if h.receiver.Addr() != nil {
		t.Error("expected nil Addr after stop")
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		t.Fatalf("expected port to be released: %v", err)
	}
	ln.Close()

	if err := h.receiver.Stop(); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
	if _, stops := h.engine.counts(); stops != 1 {
		t.Errorf("expected engine still stopped once, got %d", stops)
	}
}

func TestStartTwiceSamePort(t *testing.T) {
	h := newHarness(t, ServerConfig{}, nil)
	if err := h.receiver.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.receiver.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if !h.receiver.Running() {
		t.Error("first instance should still be running")
	}
	if starts, _ := h.engine.counts(); starts != 1 {
		t.Errorf("expected engine started once, got %d", starts)
	}

	// A second receiver on the same port cannot bind
	other := newHarness(t, ServerConfig{Port: h.receiver.Config().Port}, nil)
	if err := other.receiver.Start(); err == nil {
		t.Fatal("expected bind error for second receiver")
	}
	if starts, _ := other.engine.counts(); starts != 0 {
		t.Error("second engine should never have started")
	}
	if other.receiver.Running() {
		t.Error("second receiver should not be running")
	}
	if !h.receiver.Running() {
		t.Error("first receiver should still be running")
	}
}

func TestStartInvalidConfig(t *testing.T) {
	h := newHarness(t, ServerConfig{Port: 99999}, nil)

	err := h.receiver.Start()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if starts, _ := h.engine.counts(); starts != 0 {
		t.Error("engine should not start with invalid config")
	}
}

func TestStartRollsBackOnEngineFailure(t *testing.T) {
	h := newHarness(t, ServerConfig{}, nil)
	h.engine.startErr = errors.New("engine exploded")

	if err := h.receiver.Start(); err == nil {
		t.Fatal("expected engine error")
	}
	if h.receiver.Running() {
		t.Error("receiver should not be running")
	}
	if h.publisher.published {
		t.Error("should not advertise when engine fails")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", h.receiver.Config().Port))
	if err != nil {
		t.Fatalf("expected port to be released: %v", err)
	}
	ln.Close()
}

func TestStartRollsBackOnPublishFailure(t *testing.T) {
	h := newHarness(t, ServerConfig{}, nil)
	h.publisher.publishErr = errors.New("mdns unavailable")

	err := h.receiver.Start()
	if err == nil {
		t.Fatal("expected publish error")
	}
	if !strings.Contains(err.Error(), "mdns unavailable") {
		t.Errorf("expected publish error in %v", err)
	}
	if _, stops := h.engine.counts(); stops != 1 {
		t.Errorf("expected engine to be stopped during rollback, got %d stops", stops)
	}
	if h.receiver.Running() {
		t.Error("receiver should not be running")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", h.receiver.Config().Port))
	if err != nil {
		t.Fatalf("expected port to be released: %v", err)
	}
	ln.Close()

	// Recovers once the publisher works
	h.publisher.publishErr = nil
	if err := h.receiver.Start(); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
}

func TestRestartAppliesPendingConfig(t *testing.T) {
	h := newHarness(t, ServerConfig{Name: "Before"}, nil)
	if err := h.receiver.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := h.receiver.Config()
	cfg.Name = "After"
	h.receiver.Reconfigure(cfg)

	if h.receiver.Config().Name != "Before" {
		t.Error("running receiver should keep its config until restart")
	}

	if err := h.receiver.Restart(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.receiver.Config().Name != "After" {
		t.Errorf("expected config name After, got %q", h.receiver.Config().Name)
	}
	if h.publisher.name != "001122334455@After" {
		t.Errorf("expected re-advertised name, got %q", h.publisher.name)
	}
	starts, stops := h.engine.counts()
	if starts != 2 || stops != 1 {
		t.Errorf("expected 2 starts and 1 stop, got %d and %d", starts, stops)
	}
	if !h.receiver.Running() {
		t.Error("expected receiver to be running after restart")
	}
}

func TestStopEndsSessions(t *testing.T) {
	h := newHarness(t, ServerConfig{MaxSessions: 2}, nil)
	if err := h.receiver.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	handler := h.engine.handler
	for i := 0; i < 2; i++ {
		hd, err := handler.Negotiate(16, 2, 44100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		handler.Audio(hd, make([]byte, 64))
	}
	if h.receiver.ActiveSessions() != 2 {
		t.Fatalf("expected 2 sessions, got %d", h.receiver.ActiveSessions())
	}

	if err := h.receiver.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.receiver.ActiveSessions() != 0 {
		t.Errorf("expected no sessions after stop, got %d", h.receiver.ActiveSessions())
	}
	stops := 0
	for _, e := range h.observer.eventList() {
		if e == "stop" {
			stops++
		}
	}
	if stops != 2 {
		t.Errorf("expected 2 stream-did-stop notifications, got %d", stops)
	}
	if h.sink.closes != 1 {
		t.Errorf("expected sink closed once, got %d", h.sink.closes)
	}
}

func TestStatsAccumulate(t *testing.T) {
	h := newHarness(t, ServerConfig{}, nil)
	handler := h.receiver.Handler()

	hd, _ := handler.Negotiate(16, 2, 44100)
	handler.Audio(hd, make([]byte, 400))
	handler.Teardown(hd)

	hd, _ = handler.Negotiate(16, 2, 44100)
	handler.Audio(hd, make([]byte, 100))

	stats := h.receiver.Stats()
	if stats.TotalSessions != 2 {
		t.Errorf("expected 2 total sessions, got %d", stats.TotalSessions)
	}
	if stats.ActiveSessions != 1 {
		t.Errorf("expected 1 active session, got %d", stats.ActiveSessions)
	}
	if stats.Buffer.Written != 500 {
		t.Errorf("expected 500 bytes written across sessions, got %d", stats.Buffer.Written)
	}
}
