package mqtt

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
)

// BrokerDiscover is the --broker value that asks for mDNS discovery.
const BrokerDiscover = "mdns"

// Default service browsed for when discovering a broker.
const (
	DiscoverService = "_mqtt._tcp"
	DiscoverDomain  = "local."
)

// Discoverer finds a broker URL on the local network.
type Discoverer interface {
	Discover(ctx context.Context) (string, error)
}

// MDNSDiscoverer browses for an MQTT service with multicast DNS.
type MDNSDiscoverer struct {
	Service string
	Domain  string
}

// Discover returns the first advertised broker as tcp://host:port. It
// blocks until an entry is found or ctx is done.
func (d MDNSDiscoverer) Discover(ctx context.Context) (string, error) {
	service, domain := d.Service, d.Domain
	if service == "" {
		service = DiscoverService
	}
	if domain == "" {
		domain = DiscoverDomain
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", errors.Wrap(err, "create mdns resolver")
	}

	ctx, cancel := context.WithCancel(ctx)
	entries := make(chan *zeroconf.ServiceEntry)
	defer release(cancel, entries)

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return "", errors.Wrapf(err, "browse %s", service)
	}
	return firstBroker(ctx, service, entries)
}

// firstBroker waits for the first entry with a usable address.
func firstBroker(ctx context.Context, service string, entries <-chan *zeroconf.ServiceEntry) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", errors.Wrapf(ctx.Err(), "no %s service found", service)
		case e, ok := <-entries:
			if !ok {
				return "", errors.Errorf("no %s service found", service)
			}
			if url := brokerURL(e.AddrIPv4, e.AddrIPv6, e.Port); url != "" {
				return url, nil
			}
		}
	}
}

// release stops the browse and consumes entries until the resolver closes
// the channel. The resolver's sends are blocking and it only shuts its
// sockets down after the channel is closed.
func release(cancel context.CancelFunc, entries <-chan *zeroconf.ServiceEntry) {
	cancel()
	go func() {
		for range entries {
		}
	}()
}

// brokerURL prefers an IPv4 address over IPv6. The resolver never sends an
// entry without either.
func brokerURL(v4, v6 []net.IP, port int) string {
	if port <= 0 {
		return ""
	}
	p := strconv.Itoa(port)
	switch {
	case len(v4) > 0:
		return fmt.Sprintf("tcp://%s", net.JoinHostPort(v4[0].String(), p))
	case len(v6) > 0:
		return fmt.Sprintf("tcp://%s", net.JoinHostPort(v6[0].String(), p))
	}
	return ""
}
