// ABOUTME: Tests for receiver application orchestration
// ABOUTME: Tests component selection and an end-to-end simulated session
package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/airstream-go/airstream/internal/config"
	"github.com/airstream-go/airstream/internal/engine/sim"
	"github.com/airstream-go/airstream/internal/status"
	"github.com/airstream-go/airstream/pkg/audio/output"
	"github.com/airstream-go/airstream/pkg/discovery"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("failed to load default config: %v", err)
	}

	cfg.Receiver.Name = "Test Receiver"
	cfg.Receiver.Port = freePort(t)
	cfg.Audio.Backend = "none"
	cfg.Audio.ArtworkDir = t.TempDir()
	cfg.Discovery.Publisher = "none"
	cfg.Status.Address = "127.0.0.1:0"
	cfg.TUI = false
	return cfg
}

func TestNewSink(t *testing.T) {
	tests := []struct {
		backend string
		check   func(any) bool
		wantErr bool
	}{
		{"oto", func(s any) bool { _, ok := s.(*output.Oto); return ok }, false},
		{"malgo", func(s any) bool { _, ok := s.(*output.Malgo); return ok }, false},
		{"none", func(s any) bool { _, ok := s.(*output.Null); return ok }, false},
		{"pulse", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			sink, err := newSink(tt.backend)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error for unknown backend")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(sink) {
				t.Errorf("unexpected sink type %T", sink)
			}
		})
	}
}

func TestNewPublisher(t *testing.T) {
	p, err := newPublisher("mdns")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*discovery.MDNSPublisher); !ok {
		t.Errorf("expected *discovery.MDNSPublisher, got %T", p)
	}

	p, err = newPublisher("zeroconf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*discovery.ZeroconfPublisher); !ok {
		t.Errorf("expected *discovery.ZeroconfPublisher, got %T", p)
	}

	p, err = newPublisher("none")
	if err != nil || p != nil {
		t.Errorf("expected no publisher, got %v (%v)", p, err)
	}

	if _, err := newPublisher("bonjour"); err == nil {
		t.Error("expected error for unknown publisher")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Receiver.Name = " "

	if _, err := New(cfg); err == nil {
		t.Error("expected error for blank receiver name")
	}
}

func TestNewRejectsMissingCoverArt(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.CoverArt = "/nonexistent/cover.png"

	if _, err := New(cfg); err == nil {
		t.Error("expected error for unreadable cover art")
	}
}

func TestAppSession(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer a.Stop()

	if !a.Receiver().Running() {
		t.Fatal("expected receiver to be running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sender, err := sim.Dial(ctx, net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Receiver.Port)), "")
	if err != nil {
		t.Fatalf("failed to connect sender: %v", err)
	}
	defer sender.Close()

	// The status API sees the session once the first audio arrives
	url := "http://" + a.status.Addr().String() + "/status"
	deadline := time.Now().Add(5 * time.Second)
	for {
		var st status.Status
		resp, err := http.Get(url)
		if err == nil {
			err = json.NewDecoder(resp.Body).Decode(&st)
			resp.Body.Close()
		}
		if err == nil && len(st.Sessions) == 1 && st.Sessions[0].State == "streaming" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never reached streaming (last: %+v, err: %v)", st, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The tone source has metadata and no art
	deadline = time.Now().Add(5 * time.Second)
	for a.Receiver().Playback().Metadata.Title() != "Test Tone" {
		if time.Now().After(deadline) {
			t.Fatal("expected tone metadata to reach the receiver")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := a.Stop(); err != nil {
		t.Errorf("unexpected stop error: %v", err)
	}
	if a.Receiver().Running() {
		t.Error("expected receiver to be stopped")
	}
}

func TestRunStopsOnContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.Status.Enabled = false

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !a.Receiver().Running() {
		if time.Now().After(deadline) {
			t.Fatal("receiver never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.Receiver().Running() {
		t.Error("expected receiver to be stopped")
	}
}
