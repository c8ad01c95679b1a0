// Package discovery advertises this device and resolves the paired peer via
// multicast DNS service records (`_yank._tcp.local.`, TXT key device_id).
//
// Discovery and the connect loop are independent: browsing only updates a
// single "best known address" slot, which the connector reads whenever it
// wants to dial.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/dmitrijs2005/yank/internal/logging"
)

const (
	// ServiceType is the mDNS service this agent registers and browses.
	ServiceType = "_yank._tcp"

	domain = "local."

	// WaitTimeout is how long the agent waits for discovery before falling
	// back to a user-supplied --peer address.
	WaitTimeout = 10 * time.Second
)

// Slot holds the best known peer address. One mutex, no other state.
type Slot struct {
	mu   sync.Mutex
	addr string
}

func (s *Slot) Set(addr string) {
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()
}

func (s *Slot) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Discovery owns the mDNS advertisement and the browse loop.
type Discovery struct {
	log      logging.Logger
	deviceID string
	peerID   string
	port     int
	slot     *Slot

	mu     sync.Mutex
	server *zeroconf.Server
}

func New(log logging.Logger, deviceID, peerID string, port int, slot *Slot) *Discovery {
	return &Discovery{
		log:      log.With("module", "discovery"),
		deviceID: deviceID,
		peerID:   peerID,
		port:     port,
		slot:     slot,
	}
}

// Advertise registers the service record for this device.
func (d *Discovery) Advertise(ctx context.Context) error {
	instance := "yank-" + d.deviceID
	txt := []string{"device_id=" + d.deviceID}

	server, err := zeroconf.Register(instance, ServiceType, domain, d.port, txt, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	d.mu.Lock()
	d.server = server
	d.mu.Unlock()

	d.log.Info(ctx, "advertising service", "instance", instance, "port", d.port)
	return nil
}

// Shutdown withdraws the advertisement.
func (d *Discovery) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server != nil {
		d.server.Shutdown()
		d.server = nil
	}
}

// Browse watches the service type until ctx is done, writing every record
// that matches the paired peer's device_id into the slot.
func (d *Discovery) Browse(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return fmt.Errorf("mdns browse: %w", err)
	}

	for entry := range entries {
		addr, ok := d.match(entry)
		if !ok {
			continue
		}
		if d.slot.Get() != addr {
			d.log.Info(ctx, "peer located", "addr", addr)
		}
		d.slot.Set(addr)
	}
	return nil
}

// match extracts host:port from an entry when its TXT device_id is the
// paired peer.
func (d *Discovery) match(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || txtDeviceID(entry.Text) != d.peerID {
		return "", false
	}
	if len(entry.AddrIPv4) == 0 {
		return "", false
	}
	addr := net.JoinHostPort(entry.AddrIPv4[0].String(), fmt.Sprint(entry.Port))
	return addr, true
}

func txtDeviceID(txt []string) string {
	for _, kv := range txt {
		if v, ok := strings.CutPrefix(kv, "device_id="); ok {
			return v
		}
	}
	return ""
}

// ResolveOnce browses for at most timeout and returns the peer address, or
// "" when nothing answered. Used by the status command.
func ResolveOnce(ctx context.Context, peerID string, timeout time.Duration) string {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return ""
	}

	for entry := range entries {
		if entry == nil || txtDeviceID(entry.Text) != peerID || len(entry.AddrIPv4) == 0 {
			continue
		}
		return net.JoinHostPort(entry.AddrIPv4[0].String(), fmt.Sprint(entry.Port))
	}
	return ""
}
