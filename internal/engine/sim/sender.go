// ABOUTME: Client side of the simulated sender line protocol
// ABOUTME: Connects to a receiver running the simulated engine and drives a session
package sim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrRejected is returned by Dial when the receiver refuses the session
var ErrRejected = errors.New("session rejected")

// Sender is a connected simulated sender
type Sender struct {
	conn   net.Conn
	reader *bufio.Reader
	handle uint64
}

// Dial connects to addr and waits until the session is negotiated
func Dial(ctx context.Context, addr, password string) (*Sender, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	s := &Sender{conn: conn, reader: bufio.NewReader(conn)}
	if err := s.handshake(password); err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetReadDeadline(time.Time{})
	return s, nil
}

func (s *Sender) handshake(password string) error {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read reply: %w", err)
		}
		verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

		switch verb {
		case "AUTH":
			if err := s.send("auth " + password); err != nil {
				return err
			}
		case "OK":
			handle, err := strconv.ParseUint(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("bad session handle %q", arg)
			}
			s.handle = handle
			return nil
		case "ERR":
			return fmt.Errorf("%w: %s", ErrRejected, arg)
		default:
			return fmt.Errorf("unexpected reply %q", line)
		}
	}
}

func (s *Sender) send(line string) error {
	if _, err := fmt.Fprintf(s.conn, "%s\n", line); err != nil {
		return fmt.Errorf("failed to send %q: %w", line, err)
	}
	return nil
}

// Handle returns the receiver's session handle
func (s *Sender) Handle() uint64 { return s.handle }

// SetVolume sends a volume in AirPlay dB
func (s *Sender) SetVolume(db float32) error {
	return s.send("volume " + strconv.FormatFloat(float64(db), 'f', -1, 32))
}

// Flush asks the receiver to drop buffered audio
func (s *Sender) Flush() error { return s.send("flush") }

// Pause flushes and stops sending audio
func (s *Sender) Pause() error { return s.send("pause") }

// Play resumes after Pause
func (s *Sender) Play() error { return s.send("play") }

// Next starts a new track
func (s *Sender) Next() error { return s.send("next") }

// AnnounceRemote tells the receiver where to send remote control commands
func (s *Sender) AnnounceRemote(dacpID, activeRemote string) error {
	return s.send("remote " + dacpID + " " + activeRemote)
}

// Close ends the session
func (s *Sender) Close() error {
	s.send("quit")
	return s.conn.Close()
}
