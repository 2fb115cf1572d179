package discovery

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout is the default timeout for lookup operations.
const DefaultLookupTimeout = 5 * time.Second

// Endpoint describes a discovered pairing endpoint.
type Endpoint struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Host is the target host name.
	Host string

	// Addrs contains the resolved IP addresses, sorted by preference.
	Addrs []net.IP

	// Port is the pairing listener port.
	Port int

	// TXT contains the raw TXT record key=value strings.
	TXT []string
}

// PreferredAddr returns the most preferred address (first in the sorted list).
// Returns nil if no addresses are available.
func (e *Endpoint) PreferredAddr() net.IP {
	if len(e.Addrs) > 0 {
		return e.Addrs[0]
	}
	return nil
}

// TXTValue returns the value of the first key=value TXT record with
// the given key.
func (e *Endpoint) TXTValue(key string) (string, bool) {
	for _, record := range e.TXT {
		if idx := strings.IndexByte(record, '='); idx > 0 && record[:idx] == key {
			return record[idx+1:], true
		}
	}
	return "", false
}

// MDNSResolver is the interface for mDNS service resolution.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

	// Lookup looks up a specific service instance.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// MDNSResolverFactory creates MDNSResolver instances. The Browser
// creates a fresh resolver per operation so each browse owns its
// multicast socket lifecycle.
type MDNSResolverFactory interface {
	// NewResolver creates a new mDNS resolver.
	NewResolver() (MDNSResolver, error)
}

// zeroconfResolverFactory is the production implementation using grandcat/zeroconf.
type zeroconfResolverFactory struct{}

func (z *zeroconfResolverFactory) NewResolver() (MDNSResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

// zeroconfResolver adapts *zeroconf.Resolver to MDNSResolver.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Lookup(ctx, instance, service, domain, entries)
}

// BrowserConfig holds configuration for the Browser.
type BrowserConfig struct {
	// ResolverFactory is the factory for creating mDNS resolvers.
	// If nil, the default zeroconf factory is used.
	ResolverFactory MDNSResolverFactory

	// BrowseTimeout is the timeout for browse operations.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LookupTimeout is the timeout for lookup operations.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Browser discovers pairing endpoints via DNS-SD.
type Browser struct {
	config  BrowserConfig
	factory MDNSResolverFactory
	log     logging.LeveledLogger
}

// NewBrowser creates a new Browser with the given configuration.
func NewBrowser(config BrowserConfig) (*Browser, error) {
	factory := config.ResolverFactory
	if factory == nil {
		factory = &zeroconfResolverFactory{}
	}

	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	b := &Browser{
		config:  config,
		factory: factory,
	}

	if config.LoggerFactory != nil {
		b.log = config.LoggerFactory.NewLogger("discovery")
	}

	return b, nil
}

// Browse discovers pairing endpoints on the network. The returned
// channel receives endpoints until the context is cancelled or the
// browse timeout expires, then closes.
func (b *Browser) Browse(ctx context.Context) (<-chan Endpoint, error) {
	resolver, err := b.factory.NewResolver()
	if err != nil {
		return nil, err
	}

	// Apply the browse timeout when the caller's context has no
	// deadline. The cancel belongs to the forwarding goroutine; it
	// must outlive this call.
	cancel := func() {}
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, b.config.BrowseTimeout)
	}

	results := make(chan Endpoint)
	entries := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(results)
		defer cancel()

		go func() {
			defer close(entries)
			if err := resolver.Browse(ctx, ServicePairing, DefaultDomain, entries); err != nil && b.log != nil {
				b.log.Errorf("mDNS browse failed: %v", err)
			}
		}()

		for entry := range entries {
			ep := entryToEndpoint(entry)
			if b.log != nil {
				b.log.Debugf("Discovered endpoint: instance=%s host=%s port=%d", ep.Instance, ep.Host, ep.Port)
			}
			select {
			case results <- ep:
			case <-ctx.Done():
				return
			}
		}
	}()

	return results, nil
}

// Lookup looks up a specific pairing endpoint by instance name.
func (b *Browser) Lookup(ctx context.Context, instance string) (*Endpoint, error) {
	resolver, err := b.factory.NewResolver()
	if err != nil {
		return nil, err
	}

	// Apply lookup timeout if context doesn't have a deadline
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.LookupTimeout)
		defer cancel()
	}

	entries := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(entries)
		if err := resolver.Lookup(ctx, instance, ServicePairing, DefaultDomain, entries); err != nil && b.log != nil {
			b.log.Errorf("mDNS lookup failed: %v", err)
		}
	}()

	// Wait for first result or timeout
	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return nil, ErrServiceNotFound
		}
		ep := entryToEndpoint(entry)
		return &ep, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// entryToEndpoint converts a zeroconf.ServiceEntry to an Endpoint.
func entryToEndpoint(entry *zeroconf.ServiceEntry) Endpoint {
	var addrs []net.IP
	addrs = append(addrs, entry.AddrIPv6...)
	addrs = append(addrs, entry.AddrIPv4...)

	return Endpoint{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Addrs:    SortIPsByPreference(addrs),
		Port:     entry.Port,
		TXT:      entry.Text,
	}
}
