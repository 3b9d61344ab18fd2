// ABOUTME: DACP remote control client
// ABOUTME: Resolves the sender's control service in the background and sends commands to it
package dacp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ServiceType is the DNS-SD service the sender registers for remote control
const ServiceType = "_dacp._tcp"

var (
	// ErrRemoteUnavailable is returned when no endpoint has been resolved yet
	// or the client was closed
	ErrRemoteUnavailable = errors.New("dacp: remote unavailable")

	// ErrNotFound is returned by a Resolver when no service instance matches
	ErrNotFound = errors.New("dacp: service not found")

	// ErrUnknownCommand is returned for a command outside the supported set
	ErrUnknownCommand = errors.New("dacp: unknown command")
)

// Identity is what the sender announces so the receiver can find and address it
type Identity struct {
	DACPID       string
	ActiveRemote string
}

// Instance returns the DNS-SD instance name the sender publishes under
func (i Identity) Instance() string {
	return "iTunes_Ctrl_" + i.DACPID
}

// Endpoint is a resolved remote control service
type Endpoint struct {
	Host     string
	Port     int
	Identity Identity
}

// Addr returns host:port
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Resolver looks up a DNS-SD service instance
type Resolver interface {
	Resolve(ctx context.Context, service, instance string) (host string, port int, err error)
}

// ClientConfig tunes resolution and command delivery
type ClientConfig struct {
	// HTTPClient sends commands (default: 5s timeout)
	HTTPClient *http.Client

	// ResolveTimeout bounds a single lookup (default: 5s)
	ResolveTimeout time.Duration

	// RetryInterval is the pause between failed lookups (default: 2s)
	RetryInterval time.Duration

	// MaxAttempts caps lookups before giving up (default: 3)
	MaxAttempts int

	// Debug enables per-attempt logging
	Debug bool
}

func (c *ClientConfig) setDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 5 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
}

// Client sends transport commands to one sender.
//
// Resolution runs on its own goroutine after Start. Send is safe to call at
// any time: before resolution completes it returns ErrRemoteUnavailable.
type Client struct {
	identity Identity
	resolver Resolver
	config   ClientConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	endpoint *Endpoint

	ready     chan struct{}
	startOnce sync.Once
}

// NewClient creates a client for identity. Call Start to begin resolution.
func NewClient(identity Identity, resolver Resolver, config ClientConfig) *Client {
	config.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		identity: identity,
		resolver: resolver,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
	}
}

// NewResolvedClient creates a client for an endpoint that is already known
func NewResolvedClient(endpoint Endpoint, config ClientConfig) *Client {
	c := NewClient(endpoint.Identity, nil, config)
	c.setEndpoint(endpoint)
	c.startOnce.Do(func() {})
	return c
}

// Identity returns the identity this client was created for
func (c *Client) Identity() Identity {
	return c.identity
}

// Start launches background resolution. Calling it again has no effect.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		go c.resolveLoop()
	})
}

func (c *Client) resolveLoop() {
	instance := c.identity.Instance()

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(c.ctx, c.config.ResolveTimeout)
		host, port, err := c.resolver.Resolve(ctx, ServiceType, instance)
		cancel()

		if c.ctx.Err() != nil {
			return
		}

		if err == nil {
			c.setEndpoint(Endpoint{Host: host, Port: port, Identity: c.identity})
			log.Printf("Remote control available for %s at %s", instance, net.JoinHostPort(host, strconv.Itoa(port)))
			return
		}

		if c.config.Debug {
			log.Printf("Resolve %s attempt %d/%d failed: %v", instance, attempt, c.config.MaxAttempts, err)
		}

		if attempt == c.config.MaxAttempts {
			break
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.config.RetryInterval):
		}
	}

	log.Printf("Remote control unavailable for %s", instance)
}

func (c *Client) setEndpoint(ep Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.endpoint != nil {
		return
	}
	c.endpoint = &ep
	close(c.ready)
}

// Endpoint returns the resolved endpoint, if any
func (c *Client) Endpoint() (Endpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.endpoint == nil {
		return Endpoint{}, false
	}
	return *c.endpoint, true
}

// Ready is closed once the endpoint resolves
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed once the client is closed
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Send issues a single command request to the resolved endpoint
func (c *Client) Send(ctx context.Context, cmd Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	if c.ctx.Err() != nil {
		return ErrRemoteUnavailable
	}

	ep, ok := c.Endpoint()
	if !ok {
		return ErrRemoteUnavailable
	}

	// Closing the client aborts in-flight requests.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	url := fmt.Sprintf("http://%s%s", ep.Addr(), cmd.Path())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("dacp: build %s request: %w", cmd, err)
	}
	req.Header.Set("Active-Remote", ep.Identity.ActiveRemote)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		if c.ctx.Err() != nil {
			return ErrRemoteUnavailable
		}
		return fmt.Errorf("dacp: send %s: %w", cmd, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dacp: %s rejected with status %s", cmd, resp.Status)
	}

	if c.config.Debug {
		log.Printf("Sent %s to %s", cmd, ep.Addr())
	}
	return nil
}

// Close cancels resolution and any in-flight sends
func (c *Client) Close() error {
	c.cancel()
	return nil
}
