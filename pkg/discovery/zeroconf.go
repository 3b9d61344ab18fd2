// ABOUTME: DNS-SD lookups and registration backed by grandcat/zeroconf
// ABOUTME: Resolves a sender's DACP instance to host and port for remote control
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/airstream-go/airstream/pkg/dacp"
	"github.com/grandcat/zeroconf"
)

const defaultDomain = "local."

// ZeroconfResolver looks up a single service instance. It satisfies
// dacp.Resolver.
type ZeroconfResolver struct {
	Domain string
}

// NewZeroconfResolver creates a resolver for the local. domain
func NewZeroconfResolver() *ZeroconfResolver {
	return &ZeroconfResolver{Domain: defaultDomain}
}

// Resolve returns the address of instance, waiting until ctx is done.
// dacp.ErrNotFound is returned when nothing answered in time.
func (r *ZeroconfResolver) Resolve(ctx context.Context, service, instance string) (string, int, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to initialize resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Lookup(ctx, instance, service, r.domain(), entries); err != nil {
		return "", 0, fmt.Errorf("lookup %s.%s: %w", instance, service, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", 0, dacp.ErrNotFound
			}
			if host, port, ok := addressFromEntry(entry, instance); ok {
				return host, port, nil
			}
		case <-ctx.Done():
			return "", 0, dacp.ErrNotFound
		}
	}
}

func (r *ZeroconfResolver) domain() string {
	if r.Domain == "" {
		return defaultDomain
	}
	return r.Domain
}

// addressFromEntry picks an address for a matching answer, preferring IPv4
func addressFromEntry(entry *zeroconf.ServiceEntry, instance string) (string, int, bool) {
	if entry == nil || entry.Port == 0 {
		return "", 0, false
	}
	if !strings.EqualFold(entry.Instance, instance) {
		return "", 0, false
	}

	switch {
	case len(entry.AddrIPv4) > 0:
		return entry.AddrIPv4[0].String(), entry.Port, true
	case len(entry.AddrIPv6) > 0:
		return entry.AddrIPv6[0].String(), entry.Port, true
	case entry.HostName != "":
		return strings.TrimSuffix(entry.HostName, "."), entry.Port, true
	default:
		return "", 0, false
	}
}

// ZeroconfPublisher advertises a service with grandcat/zeroconf. It is an
// alternative to MDNSPublisher for hosts where hashicorp/mdns cannot bind.
type ZeroconfPublisher struct {
	service string
	domain  string

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewZeroconfPublisher creates a publisher for the RAOP service type
func NewZeroconfPublisher() *ZeroconfPublisher {
	return &ZeroconfPublisher{service: RAOPService, domain: defaultDomain}
}

func (p *ZeroconfPublisher) Publish(name string, port int, txt []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		return ErrAlreadyPublished
	}

	server, err := zeroconf.Register(name, p.service, p.domain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", name, err)
	}
	p.server = server
	return nil
}

func (p *ZeroconfPublisher) Unpublish() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		p.server.Shutdown()
		p.server = nil
	}
	return nil
}
