// ABOUTME: Bubbletea model for the receiver now-playing TUI
// ABOUTME: Defines display state, key bindings and update logic
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/airstream-go/airstream/pkg/airstream"
	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/airstream-go/airstream/pkg/dacp"
	"github.com/airstream-go/airstream/pkg/dmap"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const commandTimeout = 5 * time.Second

// CommandFunc sends a remote control command to the active sender
type CommandFunc func(ctx context.Context, cmd dacp.Command) error

// Model represents the TUI state
type Model struct {
	// Receiver
	name     string
	running  bool
	sessions int

	// Stream
	streaming bool
	format    audio.Format
	remote    bool

	// Metadata
	title  string
	artist string
	album  string

	// Playback
	volume   float32
	position time.Duration
	duration time.Duration

	// Remote control
	commands    CommandFunc
	lastCommand dacp.Command
	lastErr     error

	// Buffer
	buffer audio.BufferStats

	showDebug bool
	quitting  bool
	quitChan  chan struct{}

	width  int
	height int
}

// NewModel creates a model for a receiver called name. commands may be nil,
// in which case the remote control keys do nothing.
func NewModel(name string, commands CommandFunc) Model {
	return Model{
		name:     name,
		volume:   airstream.VolumeMin,
		commands: commands,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	case CommandResultMsg:
		m.lastCommand = msg.Command
		m.lastErr = msg.Err
	}

	return m, nil
}

var keyCommands = map[string]dacp.Command{
	" ":     dacp.PlayPause,
	"space": dacp.PlayPause,
	"n":     dacp.NextItem,
	"p":     dacp.PreviousItem,
	"+":     dacp.VolumeUp,
	"=":     dacp.VolumeUp,
	"up":    dacp.VolumeUp,
	"-":     dacp.VolumeDown,
	"down":  dacp.VolumeDown,
	"m":     dacp.MuteToggle,
	"s":     dacp.Stop,
	"right": dacp.FastForward,
	"left":  dacp.Rewind,
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "q", "ctrl+c":
		m.quitting = true
		if m.quitChan != nil {
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case "d":
		m.showDebug = !m.showDebug
	default:
		if cmd, ok := keyCommands[key]; ok {
			return m, m.sendCommand(cmd)
		}
	}

	return m, nil
}

func (m Model) sendCommand(cmd dacp.Command) tea.Cmd {
	if m.commands == nil {
		return nil
	}
	send := m.commands
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return CommandResultMsg{Command: cmd, Err: send(ctx, cmd)}
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Running != nil {
		m.running = *msg.Running
	}
	if msg.Sessions != nil {
		m.sessions = *msg.Sessions
	}
	if msg.Streaming != nil {
		m.streaming = *msg.Streaming
		if !m.streaming {
			m.remote = false
		}
	}
	if msg.Format != nil {
		m.format = *msg.Format
	}
	if msg.Remote != nil {
		m.remote = *msg.Remote
	}
	if msg.Metadata != nil {
		m.title = msg.Metadata.Title()
		m.artist = msg.Metadata.Artist()
		m.album = msg.Metadata.Album()
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
	if msg.Position != nil {
		m.position = *msg.Position
		m.duration = msg.Duration
	}
	if msg.Buffer != nil {
		m.buffer = *msg.Buffer
	}
}

// StatusMsg updates TUI state. Nil fields are left unchanged.
type StatusMsg struct {
	Running   *bool
	Sessions  *int
	Streaming *bool
	Format    *audio.Format
	Remote    *bool
	Metadata  dmap.Metadata
	Volume    *float32
	Position  *time.Duration
	Duration  time.Duration
	Buffer    *audio.BufferStats
}

// CommandResultMsg reports the outcome of a remote control key
type CommandResultMsg struct {
	Command dacp.Command
	Err     error
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	trackStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().Faint(true)
)

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shutting down receiver...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Airstream: " + m.name))
	b.WriteString("\n\n")

	b.WriteString(m.renderReceiver())
	b.WriteString("\n")
	b.WriteString(m.renderNowPlaying())
	b.WriteString("\n")
	b.WriteString(m.renderControls())

	if m.showDebug {
		b.WriteString("\n")
		b.WriteString(m.renderDebug())
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func field(name, value string) string {
	return headerStyle.Render(fmt.Sprintf("%-9s", name+":")) + valueStyle.Render(value) + "\n"
}

func (m Model) renderReceiver() string {
	status := "Stopped"
	if m.running {
		status = "Waiting for a sender"
		if m.streaming {
			status = "Streaming"
		}
	}

	s := field("Status", status)
	s += field("Sessions", fmt.Sprintf("%d", m.sessions))
	if m.streaming && m.format.Valid() {
		s += field("Format", m.format.String())
	}
	return s
}

func (m Model) renderNowPlaying() string {
	if !m.streaming {
		return valueStyle.Render("Nothing playing") + "\n"
	}
	if m.title == "" && m.artist == "" && m.album == "" {
		return valueStyle.Render("(No metadata)") + "\n"
	}

	s := trackStyle.Render(truncate(m.title, 48)) + "\n"
	s += field("Artist", truncate(m.artist, 40))
	s += field("Album", truncate(m.album, 40))
	return s
}

func (m Model) renderControls() string {
	volume := "muted"
	if !airstream.IsMuted(m.volume) {
		pct := airstream.VolumePercent(m.volume)
		volume = fmt.Sprintf("[%s] %d%%", renderBar(pct, 100, 10), pct)
	}
	s := field("Volume", volume)

	if m.duration > 0 {
		pos := int(m.position * 100 / m.duration)
		s += field("Position", fmt.Sprintf("[%s] %s / %s",
			renderBar(pos, 100, 20), formatDuration(m.position), formatDuration(m.duration)))
	}

	remote := "unavailable"
	if m.remote {
		remote = "available"
	}
	s += field("Remote", remote)

	if m.lastCommand != "" {
		if m.lastErr != nil {
			s += errorStyle.Render(fmt.Sprintf("%s failed: %v", m.lastCommand, m.lastErr)) + "\n"
		} else {
			s += valueStyle.Render(fmt.Sprintf("sent %s", m.lastCommand)) + "\n"
		}
	}
	return s
}

func (m Model) renderDebug() string {
	s := headerStyle.Render("Buffer") + "\n"
	s += field("Depth", fmt.Sprintf("%d / %d bytes", m.buffer.Buffered, m.buffer.Capacity))
	s += field("Written", fmt.Sprintf("%d", m.buffer.Written))
	s += field("Dropped", fmt.Sprintf("%d", m.buffer.Dropped))
	s += field("Underrun", fmt.Sprintf("%d", m.buffer.Underruns))
	return s
}

func (m Model) renderHelp() string {
	return helpStyle.Render("space:Play/Pause  n/p:Next/Prev  +/-:Volume  m:Mute  s:Stop  d:Debug  q:Quit")
}

func renderBar(value, max, width int) string {
	if value < 0 {
		value = 0
	}
	if value > max {
		value = max
	}
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
