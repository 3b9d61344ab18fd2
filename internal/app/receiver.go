// ABOUTME: Main receiver application orchestration
// ABOUTME: Coordinates engine, output, discovery, status API, metrics and UI
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/airstream-go/airstream/internal/artwork"
	"github.com/airstream-go/airstream/internal/config"
	"github.com/airstream-go/airstream/internal/engine/sim"
	"github.com/airstream-go/airstream/internal/metrics"
	"github.com/airstream-go/airstream/internal/status"
	"github.com/airstream-go/airstream/internal/ui"
	"github.com/airstream-go/airstream/pkg/airstream"
	"github.com/airstream-go/airstream/pkg/audio/output"
	"github.com/airstream-go/airstream/pkg/dacp"
	"github.com/airstream-go/airstream/pkg/discovery"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	statsInterval   = time.Second
	shutdownTimeout = 5 * time.Second
)

// App is the receiver application
type App struct {
	config *config.Config

	receiver *airstream.Receiver
	engine   *sim.Engine
	sink     airstream.Sink
	artwork  *artwork.Cache
	metrics  *metrics.Metrics
	status   *status.Server
	tui      *ui.TUI

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds every component from cfg without starting anything
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	serverConfig, err := cfg.ServerConfig()
	if err != nil {
		return nil, err
	}

	sink, err := newSink(cfg.Audio.Backend)
	if err != nil {
		return nil, err
	}

	publisher, err := newPublisher(cfg.Discovery.Publisher)
	if err != nil {
		return nil, err
	}

	engineConfig := sim.Config{
		Source: cfg.Engine.Source,
		Debug:  cfg.Logging.Debug,
	}
	if cfg.Engine.CoverArt != "" {
		art, err := os.ReadFile(cfg.Engine.CoverArt)
		if err != nil {
			return nil, fmt.Errorf("failed to read cover art: %w", err)
		}
		engineConfig.CoverArt = art
	}

	cache, err := artwork.NewCache(cfg.Audio.ArtworkDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		config:  cfg,
		engine:  sim.New(engineConfig),
		sink:    sink,
		artwork: cache,
		ctx:     ctx,
		cancel:  cancel,
	}

	a.metrics = metrics.NewMetrics(prometheus.NewRegistry(), a.stats)
	events := &observerList{airstream.MultiObserver{
		a.metrics.Observer(),
		airstream.ObserverFuncs{OnCoverArt: a.storeArtwork},
	}}

	if cfg.TUI {
		a.tui = ui.NewTUI(serverConfig.Name, a.sendRemoteCommand)
		events.MultiObserver = append(events.MultiObserver, ui.Observer(a.tui.Update))
	}

	receiver, err := airstream.NewReceiver(serverConfig, airstream.Dependencies{
		Engine:    a.engine,
		Publisher: publisher,
		Resolver:  discovery.NewZeroconfResolver(),
		Sink:      sink,
		Observer:  events,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	a.receiver = receiver

	if cfg.Status.Enabled {
		a.status = status.New(status.Config{
			Addr:  cfg.Status.Address,
			Debug: cfg.Logging.Debug,
		}, receiver, a.metrics)
		events.MultiObserver = append(events.MultiObserver, a.status.Observer())
	}

	return a, nil
}

// observerList is read on every event, so observers that need the receiver
// can join after it is built.
type observerList struct {
	airstream.MultiObserver
}

func newSink(backend string) (airstream.Sink, error) {
	switch backend {
	case "oto":
		return output.NewOto(), nil
	case "malgo":
		return output.NewMalgo(), nil
	case "none":
		return output.NewNull(), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", backend)
	}
}

func newPublisher(kind string) (airstream.Publisher, error) {
	switch kind {
	case "mdns":
		return discovery.NewMDNSPublisher(), nil
	case "zeroconf":
		return discovery.NewZeroconfPublisher(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown publisher %q", kind)
	}
}

func (a *App) stats() airstream.Stats {
	if a.receiver == nil {
		return airstream.Stats{}
	}
	return a.receiver.Stats()
}

func (a *App) storeArtwork(art []byte) {
	if _, err := a.artwork.Store(art); err != nil {
		log.Printf("Cover art not cached: %v", err)
	}
}

func (a *App) sendRemoteCommand(ctx context.Context, cmd dacp.Command) error {
	err := a.receiver.SendRemoteCommand(ctx, cmd)
	a.metrics.RecordRemoteCommand(cmd, err)
	return err
}

// Receiver returns the underlying receiver
func (a *App) Receiver() *airstream.Receiver {
	return a.receiver
}

// Start starts the receiver and the status API
func (a *App) Start() error {
	if err := a.receiver.Start(); err != nil {
		return fmt.Errorf("failed to start receiver: %w", err)
	}

	if a.status != nil {
		if err := a.status.Start(); err != nil {
			return errors.Join(fmt.Errorf("failed to start status API: %w", err), a.receiver.Stop())
		}
		log.Printf("Status API listening on %s", a.status.Addr())
	}

	cfg := a.receiver.Config()
	log.Printf("Receiver %q listening on port %d", cfg.Name, cfg.Port)

	if a.tui != nil {
		go a.statsLoop()
	}
	return nil
}

// statsLoop periodically updates the TUI with receiver statistics
func (a *App) statsLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	a.tui.Update(ui.StatsMsg(a.receiver.Stats()))
	for {
		select {
		case <-ticker.C:
			a.tui.Update(ui.StatsMsg(a.receiver.Stats()))
		case <-a.ctx.Done():
			return
		}
	}
}

// Run starts the application and blocks until ctx is done or the user quits
// the TUI, then stops everything.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}

	if a.tui != nil {
		go func() {
			select {
			case <-ctx.Done():
				a.tui.Stop()
			case <-a.ctx.Done():
			}
		}()

		if err := a.tui.Run(); err != nil {
			log.Printf("TUI error: %v", err)
		}
	} else {
		<-ctx.Done()
	}

	log.Printf("Shutting down")
	return a.Stop()
}

// Stop stops every component and removes cached artwork
func (a *App) Stop() error {
	a.cancel()

	var errs []error
	if a.tui != nil {
		a.tui.Stop()
	}
	if a.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.status.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status API: %w", err))
		}
	}
	if err := a.receiver.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("receiver: %w", err))
	}
	if err := a.artwork.Cleanup(); err != nil {
		errs = append(errs, fmt.Errorf("artwork cache: %w", err))
	}
	return errors.Join(errs...)
}
