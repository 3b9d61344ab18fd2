// ABOUTME: Entry point for the Airstream AirPlay receiver
// ABOUTME: Parses CLI flags, loads config and runs the receiver application
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/airstream-go/airstream/internal/app"
	"github.com/airstream-go/airstream/internal/config"
	"github.com/airstream-go/airstream/internal/version"
)

var (
	configPath  = flag.String("config", "airstream.yaml", "Config file path (optional)")
	name        = flag.String("name", "", "Receiver name shown to senders")
	port        = flag.Int("port", 0, "RAOP listen port")
	password    = flag.String("password", "", "Password senders must supply")
	backend     = flag.String("backend", "", "Audio backend: oto, malgo or none")
	publisher   = flag.String("publisher", "", "Service publisher: mdns, zeroconf or none")
	source      = flag.String("source", "", "Audio file streamed by the simulated sender (.mp3 or .flac)")
	coverArt    = flag.String("cover-art", "", "Image sent as cover art by the simulated sender")
	statusAddr  = flag.String("status-addr", "", "Status API listen address")
	noStatus    = flag.Bool("no-status", false, "Disable the status API")
	logFile     = flag.String("log-file", "", "Log file path")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Set up logging
	f, err := os.OpenFile(cfg.Logging.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if cfg.TUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		// Streaming logs mode: log to both stdout and file
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	log.Printf("Starting %s: %s", version.String(), cfg.Receiver.Name)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create receiver: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("Receiver error: %v", err)
	}

	log.Printf("Receiver stopped")
}

// applyFlags overrides config values with flags given on the command line
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			cfg.Receiver.Name = *name
		case "port":
			cfg.Receiver.Port = *port
		case "password":
			cfg.Receiver.Password = *password
		case "backend":
			cfg.Audio.Backend = *backend
		case "publisher":
			cfg.Discovery.Publisher = *publisher
		case "source":
			cfg.Engine.Source = *source
		case "cover-art":
			cfg.Engine.CoverArt = *coverArt
		case "status-addr":
			cfg.Status.Address = *statusAddr
		case "no-status":
			cfg.Status.Enabled = !*noStatus
		case "log-file":
			cfg.Logging.File = *logFile
		case "no-tui":
			cfg.TUI = !*noTUI
		case "debug":
			cfg.Logging.Debug = *debug
		}
	})
}
