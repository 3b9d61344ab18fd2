// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and feeds it receiver events
package ui

import (
	"sync"
	"time"

	"github.com/airstream-go/airstream/pkg/airstream"
	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/airstream-go/airstream/pkg/dacp"
	"github.com/airstream-go/airstream/pkg/dmap"
	tea "github.com/charmbracelet/bubbletea"
)

// TUI runs the now-playing display
type TUI struct {
	program  *tea.Program
	updates  chan StatusMsg
	quitChan chan struct{}

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewTUI creates the display for a receiver called name. Remote control keys
// are sent through commands.
func NewTUI(name string, commands CommandFunc) *TUI {
	t := &TUI{
		updates:  make(chan StatusMsg, 32),
		quitChan: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	m := NewModel(name, commands)
	m.quitChan = t.quitChan
	t.program = tea.NewProgram(m, tea.WithAltScreen())

	go t.forward()
	return t
}

func (t *TUI) forward() {
	for {
		select {
		case msg := <-t.updates:
			t.program.Send(msg)
		case <-t.done:
			return
		}
	}
}

// Run blocks until the user quits or Stop is called
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI without blocking
func (t *TUI) Update(msg StatusMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	select {
	case t.updates <- msg:
	default:
		// Don't block if channel is full
	}
}

// Stop quits the program
func (t *TUI) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	close(t.done)
	t.mu.Unlock()

	t.program.Quit()
}

// QuitChan returns the channel that signals when user wants to quit
func (t *TUI) QuitChan() <-chan struct{} {
	return t.quitChan
}

// Observer returns an observer that feeds receiver events to update
func Observer(update func(StatusMsg)) airstream.Observer {
	return airstream.ObserverFuncs{
		OnStreamWillStart: func(info airstream.SessionInfo, format audio.Format) error {
			streaming := true
			update(StatusMsg{Streaming: &streaming, Format: &format})
			return nil
		},
		OnStreamDidStop: func(info airstream.SessionInfo) {
			streaming := false
			update(StatusMsg{Streaming: &streaming})
		},
		OnRemoteAvailable: func(info airstream.SessionInfo, ep dacp.Endpoint) {
			remote := true
			update(StatusMsg{Remote: &remote})
		},
		OnVolume: func(v float32) {
			update(StatusMsg{Volume: &v})
		},
		OnMetadata: func(md dmap.Metadata) {
			update(StatusMsg{Metadata: md.Clone()})
		},
		OnPosition: func(position, duration time.Duration) {
			update(StatusMsg{Position: &position, Duration: duration})
		},
	}
}

// StatsMsg converts a receiver diagnostics snapshot into a status update
func StatsMsg(s airstream.Stats) StatusMsg {
	running := s.Running
	sessions := s.ActiveSessions
	buffer := s.Buffer
	return StatusMsg{Running: &running, Sessions: &sessions, Buffer: &buffer}
}
