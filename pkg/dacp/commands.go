// ABOUTME: DACP transport command set
// ABOUTME: Wire names for the commands a receiver can send back to the sender
package dacp

import (
	"fmt"
	"strings"
)

// Command is a DACP transport command, named as it appears on the wire
type Command string

const (
	Play         Command = "play"
	Pause        Command = "pause"
	Stop         Command = "stop"
	PlayPause    Command = "playpause"
	PlayResume   Command = "playresume"
	FastForward  Command = "beginff"
	Rewind       Command = "beginrew"
	NextItem     Command = "nextitem"
	PreviousItem Command = "previtem"
	Shuffle      Command = "shuffle_songs"
	VolumeUp     Command = "volumeup"
	VolumeDown   Command = "volumedown"
	MuteToggle   Command = "mutetoggle"
)

// Commands lists every supported command in a stable order
var Commands = []Command{
	Play, Pause, Stop, PlayPause, PlayResume,
	FastForward, Rewind, NextItem, PreviousItem,
	Shuffle, VolumeUp, VolumeDown, MuteToggle,
}

var aliases = map[string]Command{
	"toggle":   PlayPause,
	"resume":   PlayResume,
	"ff":       FastForward,
	"forward":  FastForward,
	"rew":      Rewind,
	"rewind":   Rewind,
	"next":     NextItem,
	"prev":     PreviousItem,
	"previous": PreviousItem,
	"shuffle":  Shuffle,
	"up":       VolumeUp,
	"down":     VolumeDown,
	"mute":     MuteToggle,
}

// Valid reports whether c is one of the supported commands
func (c Command) Valid() bool {
	for _, known := range Commands {
		if c == known {
			return true
		}
	}
	return false
}

// Path returns the request path for the command
func (c Command) Path() string {
	return "/ctrl-int/1/" + string(c)
}

// ParseCommand accepts a wire name or a short alias such as "next" or "mute"
func ParseCommand(s string) (Command, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if c := Command(name); c.Valid() {
		return c, nil
	}
	if c, ok := aliases[name]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}
