// ABOUTME: Interactive client for receivers running the simulated engine
// ABOUTME: Opens a session and forwards typed commands such as volume and flush
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/airstream-go/airstream/internal/engine/sim"
	"github.com/google/uuid"
)

var (
	addr     = flag.String("addr", "localhost:5000", "Receiver address")
	password = flag.String("password", "", "Receiver password")
	remote   = flag.Bool("remote", false, "Announce a remote control identity")
	dacpID   = flag.String("dacp-id", "", "DACP-ID to announce (default: random)")
	token    = flag.String("active-remote", "", "Active-Remote token to announce (default: random)")
)

const help = `Commands:
  volume <dB>   set volume (-30..0, -144 mutes)
  flush         drop buffered audio
  pause | play  stop and resume sending audio
  next          start the next track
  quit          end the session`

func main() {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sender, err := sim.Dial(ctx, *addr, *password)
	cancel()
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}
	defer sender.Close()

	log.Printf("Session %d open on %s", sender.Handle(), *addr)

	if *remote {
		id, activeRemote := *dacpID, *token
		if id == "" {
			u := uuid.New()
			id = strings.ToUpper(fmt.Sprintf("%X", u[:8]))
		}
		if activeRemote == "" {
			activeRemote = strconv.FormatUint(uint64(uuid.New().ID()), 10)
		}
		if err := sender.AnnounceRemote(id, activeRemote); err != nil {
			log.Fatalf("Failed to announce remote: %v", err)
		}
		log.Printf("Announced DACP-ID %s, Active-Remote %s", id, activeRemote)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println(help)
	for {
		select {
		case <-sigChan:
			log.Printf("Closing session")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			done, err := run(sender, line)
			if err != nil {
				log.Printf("Error: %v", err)
			}
			if done {
				return
			}
		}
	}
}

func run(sender *sim.Sender, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "volume", "v":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: volume <dB>")
		}
		db, err := strconv.ParseFloat(fields[1], 32)
		if err != nil {
			return false, fmt.Errorf("bad volume %q", fields[1])
		}
		return false, sender.SetVolume(float32(db))
	case "flush":
		return false, sender.Flush()
	case "pause":
		return false, sender.Pause()
	case "play":
		return false, sender.Play()
	case "next":
		return false, sender.Next()
	case "quit", "exit":
		return true, nil
	default:
		fmt.Println(help)
		return false, nil
	}
}
