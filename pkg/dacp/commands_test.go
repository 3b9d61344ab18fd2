// ABOUTME: Tests for DACP command parsing
// ABOUTME: Covers wire names, aliases and request paths
package dacp

import (
	"errors"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		expected Command
		wantErr  bool
	}{
		{"play", Play, false},
		{"PAUSE", Pause, false},
		{" stop ", Stop, false},
		{"playpause", PlayPause, false},
		{"toggle", PlayPause, false},
		{"beginff", FastForward, false},
		{"rewind", Rewind, false},
		{"next", NextItem, false},
		{"prev", PreviousItem, false},
		{"shuffle", Shuffle, false},
		{"shuffle_songs", Shuffle, false},
		{"mute", MuteToggle, false},
		{"eject", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := ParseCommand(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownCommand) {
					t.Errorf("expected ErrUnknownCommand, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, cmd)
			}
		})
	}
}

func TestCommandPath(t *testing.T) {
	if got := MuteToggle.Path(); got != "/ctrl-int/1/mutetoggle" {
		t.Errorf("expected /ctrl-int/1/mutetoggle, got %s", got)
	}
	if len(Commands) != 13 {
		t.Errorf("expected 13 commands, got %d", len(Commands))
	}
}
