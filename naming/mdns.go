package naming

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dclog"
	"github.com/distclass-go/dorpc/port"
)

// mdnsServiceType is the DNS-SD service label this runtime advertises
// under, per spec §4.D.2.
const mdnsServiceType = "_distclass._tcp"

const mdnsLookupTimeout = 2 * time.Second

// MDNSNameServer implements network rendezvous: publishing and resolving
// (service-name, host, port) records via multicast DNS.
type MDNSNameServer struct {
	Logger dclog.Logger

	mu       sync.Mutex
	servers  map[string]*mdns.Server
}

// NewMDNSNameServer returns a NameServer backed by multicast DNS.
func NewMDNSNameServer(logger dclog.Logger) *MDNSNameServer {
	return &MDNSNameServer{Logger: logger.Fork("mdnsNameServer"), servers: make(map[string]*mdns.Server)}
}

// Register publishes (name, host, preferredPort) as a DNS-SD record. An
// already-registered name fails with NAMING_ALREADY_BOUND (mDNS itself has
// no such concept; the engine enforces it locally).
func (ns *MDNSNameServer) Register(logger dclog.Logger, name string, preferredPort int) (int, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if _, exists := ns.servers[name]; exists {
		return 0, dcerr.New(dcerr.KindNamingAlreadyBound, "name %q already published via mdns", name)
	}
	if preferredPort == 0 {
		return 0, dcerr.New(dcerr.KindNamingFailed, "mdns registration requires a concrete port")
	}
	svc, err := mdns.NewMDNSService(name, mdnsServiceType, "", "", preferredPort, nil, nil)
	if err != nil {
		return 0, dcerr.Wrap(dcerr.KindNamingFailed, err, "build mdns service %q", name)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return 0, dcerr.Wrap(dcerr.KindNamingFailed, err, "publish mdns service %q", name)
	}
	ns.servers[name] = srv
	ns.Logger.ILogf("published %q via mdns on port %d", name, preferredPort)
	return preferredPort, nil
}

// Unregister withdraws a prior Register.
func (ns *MDNSNameServer) Unregister(name string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	srv, ok := ns.servers[name]
	if !ok {
		return dcerr.New(dcerr.KindNamingFailed, "name %q not published by this process", name)
	}
	delete(ns.servers, name)
	return srv.Shutdown()
}

// Lookup resolves name to a Port. When host is set, it dials host:port
// directly (skipping mDNS entirely, per spec §4.D.2's "opens a direct TCP
// connection when a host is given"); otherwise it resolves via mDNS.
func (ns *MDNSNameServer) Lookup(logger dclog.Logger, name, host string, preferredPort int) (port.Port, error) {
	if host != "" {
		return port.DialTCP(logger, fmt.Sprintf("%s:%d", host, preferredPort))
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)
	params := mdns.DefaultParams(mdnsServiceType)
	params.Timeout = mdnsLookupTimeout
	params.Entries = entriesCh

	done := make(chan error, 1)
	go func() { done <- mdns.Query(params) }()

	var found *mdns.ServiceEntry
	for entry := range entriesCh {
		if entry.Name == name+"."+mdnsServiceType+".local." || entry.Host == name {
			found = entry
			break
		}
	}
	<-done

	if found == nil {
		return nil, dcerr.New(dcerr.KindNamingFailed, "mdns lookup for %q found no record", name)
	}
	resolvedHost := found.Host
	if found.AddrV6 != nil {
		resolvedHost = fmt.Sprintf("[%s]", found.AddrV6) // IPv6 literals preferred for unknown hosts
	} else if found.AddrV4 != nil {
		resolvedHost = found.AddrV4.String()
	}
	return port.DialTCP(logger, fmt.Sprintf("%s:%d", resolvedHost, found.Port))
}

// Close is a no-op; individual published services are withdrawn via Unregister.
func (ns *MDNSNameServer) Close() error { return nil }
