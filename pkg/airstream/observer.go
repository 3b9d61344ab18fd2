// ABOUTME: Application observer for receiver events
// ABOUTME: Provides no-op defaults, a callback adapter, fan-out and guarded invocation
package airstream

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/airstream-go/airstream/pkg/dacp"
	"github.com/airstream-go/airstream/pkg/dmap"
)

// Observer receives receiver events. Events are delivered one at a time, in
// the order they happened, on a goroutine owned by the receiver. The engine
// waits at most ServerConfig.ObserverTimeout for each call; a slow observer
// delays the events behind it, so slow work belongs on its own goroutine.
//
// Embed NopObserver to implement only the methods you care about.
type Observer interface {
	// StreamWillStart is called before any audio flows. Returning an error
	// rejects the session.
	StreamWillStart(info SessionInfo, format audio.Format) error
	StreamDidStop(info SessionInfo)
	RemoteAvailable(info SessionInfo, endpoint dacp.Endpoint)
	AudioFlush(info SessionInfo)
	VolumeChanged(volume float32)
	MetadataChanged(md dmap.Metadata)
	CoverArtChanged(art []byte)
	PositionChanged(position, duration time.Duration)
}

// AudioTap is an optional Observer extension that sees every audio block
// before it is buffered. It runs synchronously on the engine's audio path and
// must return quickly. data is only valid for the duration of the call.
type AudioTap interface {
	AudioReceived(info SessionInfo, data []byte)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) StreamWillStart(SessionInfo, audio.Format) error { return nil }
func (NopObserver) StreamDidStop(SessionInfo)                       {}
func (NopObserver) RemoteAvailable(SessionInfo, dacp.Endpoint)      {}
func (NopObserver) AudioFlush(SessionInfo)                          {}
func (NopObserver) VolumeChanged(float32)                           {}
func (NopObserver) MetadataChanged(dmap.Metadata)                   {}
func (NopObserver) CoverArtChanged([]byte)                          {}
func (NopObserver) PositionChanged(time.Duration, time.Duration)    {}

// ObserverFuncs adapts optional callbacks to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStreamWillStart func(SessionInfo, audio.Format) error
	OnStreamDidStop   func(SessionInfo)
	OnRemoteAvailable func(SessionInfo, dacp.Endpoint)
	OnAudioFlush      func(SessionInfo)
	OnVolume          func(float32)
	OnMetadata        func(dmap.Metadata)
	OnCoverArt        func([]byte)
	OnPosition        func(position, duration time.Duration)
}

func (f ObserverFuncs) StreamWillStart(info SessionInfo, format audio.Format) error {
	if f.OnStreamWillStart != nil {
		return f.OnStreamWillStart(info, format)
	}
	return nil
}

func (f ObserverFuncs) StreamDidStop(info SessionInfo) {
	if f.OnStreamDidStop != nil {
		f.OnStreamDidStop(info)
	}
}

func (f ObserverFuncs) RemoteAvailable(info SessionInfo, ep dacp.Endpoint) {
	if f.OnRemoteAvailable != nil {
		f.OnRemoteAvailable(info, ep)
	}
}

func (f ObserverFuncs) AudioFlush(info SessionInfo) {
	if f.OnAudioFlush != nil {
		f.OnAudioFlush(info)
	}
}

func (f ObserverFuncs) VolumeChanged(v float32) {
	if f.OnVolume != nil {
		f.OnVolume(v)
	}
}

func (f ObserverFuncs) MetadataChanged(md dmap.Metadata) {
	if f.OnMetadata != nil {
		f.OnMetadata(md)
	}
}

func (f ObserverFuncs) CoverArtChanged(art []byte) {
	if f.OnCoverArt != nil {
		f.OnCoverArt(art)
	}
}

func (f ObserverFuncs) PositionChanged(position, duration time.Duration) {
	if f.OnPosition != nil {
		f.OnPosition(position, duration)
	}
}

// MultiObserver fans every event out to each observer in order.
// StreamWillStart rejects if any observer rejects.
type MultiObserver []Observer

func (m MultiObserver) StreamWillStart(info SessionInfo, format audio.Format) error {
	var errs []error
	for _, o := range m {
		if err := o.StreamWillStart(info, format); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiObserver) StreamDidStop(info SessionInfo) {
	for _, o := range m {
		o.StreamDidStop(info)
	}
}

func (m MultiObserver) RemoteAvailable(info SessionInfo, ep dacp.Endpoint) {
	for _, o := range m {
		o.RemoteAvailable(info, ep)
	}
}

func (m MultiObserver) AudioFlush(info SessionInfo) {
	for _, o := range m {
		o.AudioFlush(info)
	}
}

func (m MultiObserver) VolumeChanged(v float32) {
	for _, o := range m {
		o.VolumeChanged(v)
	}
}

// MetadataChanged gives each observer its own copy
func (m MultiObserver) MetadataChanged(md dmap.Metadata) {
	for _, o := range m {
		o.MetadataChanged(md.Clone())
	}
}

// CoverArtChanged gives each observer its own copy
func (m MultiObserver) CoverArtChanged(art []byte) {
	for _, o := range m {
		o.CoverArtChanged(bytes.Clone(art))
	}
}

func (m MultiObserver) PositionChanged(position, duration time.Duration) {
	for _, o := range m {
		o.PositionChanged(position, duration)
	}
}

func (m MultiObserver) AudioReceived(info SessionInfo, data []byte) {
	for _, o := range m {
		if tap, ok := o.(AudioTap); ok {
			tap.AudioReceived(info, data)
		}
	}
}

// notifier invokes the observer so that a panic or a slow callback never
// reaches the engine goroutine. Events are delivered one at a time in the
// order they were raised, even after a caller has stopped waiting.
type notifier struct {
	observer Observer
	tap      AudioTap
	timeout  time.Duration

	mu      sync.Mutex
	pending []notification
	running bool
}

type notification struct {
	event string
	fn    func(Observer) error
	done  chan error
}

func newNotifier(o Observer, timeout time.Duration) *notifier {
	if o == nil {
		o = NopObserver{}
	}
	tap, _ := o.(AudioTap)
	return &notifier{observer: o, tap: tap, timeout: timeout}
}

// call queues fn and waits at most n.timeout for it. A timeout is not an
// error: the callback still runs, after everything queued before it.
func (n *notifier) call(event string, fn func(Observer) error) error {
	nt := notification{event: event, fn: fn, done: make(chan error, 1)}

	n.mu.Lock()
	n.pending = append(n.pending, nt)
	if !n.running {
		n.running = true
		go n.drain()
	}
	n.mu.Unlock()

	timer := time.NewTimer(n.timeout)
	defer timer.Stop()

	select {
	case err := <-nt.done:
		return err
	case <-timer.C:
		log.Printf("Observer %s did not return within %v, continuing", event, n.timeout)
		return nil
	}
}

// drain delivers queued notifications and exits once the queue is empty
func (n *notifier) drain() {
	for {
		n.mu.Lock()
		if len(n.pending) == 0 {
			n.running = false
			n.mu.Unlock()
			return
		}
		nt := n.pending[0]
		n.pending[0] = notification{}
		n.pending = n.pending[1:]
		n.mu.Unlock()

		nt.done <- n.deliver(nt)
	}
}

func (n *notifier) deliver(nt notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Observer %s panicked: %v", nt.event, r)
			err = fmt.Errorf("observer %s panicked: %v", nt.event, r)
		}
	}()
	return nt.fn(n.observer)
}

func (n *notifier) streamWillStart(info SessionInfo, format audio.Format) error {
	return n.call("StreamWillStart", func(o Observer) error {
		return o.StreamWillStart(info, format)
	})
}

func (n *notifier) streamDidStop(info SessionInfo) {
	n.call("StreamDidStop", func(o Observer) error {
		o.StreamDidStop(info)
		return nil
	})
}

func (n *notifier) remoteAvailable(info SessionInfo, ep dacp.Endpoint) {
	n.call("RemoteAvailable", func(o Observer) error {
		o.RemoteAvailable(info, ep)
		return nil
	})
}

func (n *notifier) audioFlush(info SessionInfo) {
	n.call("AudioFlush", func(o Observer) error {
		o.AudioFlush(info)
		return nil
	})
}

func (n *notifier) volumeChanged(v float32) {
	n.call("VolumeChanged", func(o Observer) error {
		o.VolumeChanged(v)
		return nil
	})
}

func (n *notifier) metadataChanged(md dmap.Metadata) {
	n.call("MetadataChanged", func(o Observer) error {
		o.MetadataChanged(md)
		return nil
	})
}

func (n *notifier) coverArtChanged(art []byte) {
	n.call("CoverArtChanged", func(o Observer) error {
		o.CoverArtChanged(art)
		return nil
	})
}

func (n *notifier) positionChanged(position, duration time.Duration) {
	n.call("PositionChanged", func(o Observer) error {
		o.PositionChanged(position, duration)
		return nil
	})
}

// audioReceived runs the tap inline; it is on the audio path so there is no
// goroutine hop, only panic recovery.
func (n *notifier) audioReceived(info SessionInfo, data []byte) {
	if n.tap == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Observer AudioReceived panicked: %v", r)
		}
	}()
	n.tap.AudioReceived(info, data)
}
