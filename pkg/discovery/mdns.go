// ABOUTME: mDNS advertisement and browsing backed by hashicorp/mdns
// ABOUTME: Publishes the receiver's RAOP service and lists services on the network
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

// RAOPService is the service type AirPlay audio receivers advertise
const RAOPService = "_raop._tcp"

// ErrAlreadyPublished is returned by Publish while a service is advertised
var ErrAlreadyPublished = errors.New("service already published")

// MDNSPublisher advertises a single service with hashicorp/mdns
type MDNSPublisher struct {
	service string

	mu     sync.Mutex
	server *mdns.Server
	name   string
}

// NewMDNSPublisher creates a publisher for the RAOP service type
func NewMDNSPublisher() *MDNSPublisher {
	return NewMDNSPublisherFor(RAOPService)
}

// NewMDNSPublisherFor creates a publisher for any service type
func NewMDNSPublisherFor(service string) *MDNSPublisher {
	return &MDNSPublisher{service: service}
}

// Publish starts answering queries for name on every non-loopback IPv4 address
func (p *MDNSPublisher) Publish(name string, port int, txt []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyPublished, p.name)
	}

	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(name, p.service, "", "", port, ips, txt)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	p.server = server
	p.name = name
	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", name, port, p.service)
	return nil
}

// Unpublish stops advertising. It is safe to call when nothing is published.
func (p *MDNSPublisher) Unpublish() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		return nil
	}
	err := p.server.Shutdown()
	p.server = nil
	p.name = ""
	return err
}

// Published reports whether a service is currently advertised
func (p *MDNSPublisher) Published() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.server != nil
}

// ServiceInfo describes a service found on the network
type ServiceInfo struct {
	Instance string
	Host     string
	Port     int
	TXT      []string
}

// Browse queries for service for up to timeout and returns every distinct
// instance that answered.
func Browse(ctx context.Context, service string, timeout time.Duration) ([]ServiceInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	results := make(chan []ServiceInfo, 1)

	go func() {
		seen := make(map[string]bool)
		var found []ServiceInfo
		for entry := range entries {
			info, ok := serviceFromEntry(entry, service)
			if !ok || seen[info.Instance] {
				continue
			}
			seen[info.Instance] = true
			log.Printf("Discovered %s at %s:%d", info.Instance, info.Host, info.Port)
			found = append(found, info)
		}
		results <- found
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	done := make(chan error, 1)
	go func() {
		done <- mdns.Query(params)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
		<-done
	}
	close(entries)

	found := <-results
	if err != nil {
		return found, fmt.Errorf("mdns query for %s: %w", service, err)
	}
	return found, nil
}

// serviceFromEntry converts an mdns answer, trimming the service and domain
// from the instance name.
func serviceFromEntry(entry *mdns.ServiceEntry, service string) (ServiceInfo, bool) {
	if entry == nil || entry.Port == 0 {
		return ServiceInfo{}, false
	}

	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		host = strings.TrimSuffix(entry.Host, ".")
	}
	if host == "" {
		return ServiceInfo{}, false
	}

	instance := entry.Name
	if i := strings.Index(instance, "."+service); i >= 0 {
		instance = instance[:i]
	}
	instance = strings.ReplaceAll(instance, `\ `, " ")

	return ServiceInfo{
		Instance: instance,
		Host:     host,
		Port:     entry.Port,
		TXT:      entry.InfoFields,
	}, true
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
