package dorpc

import (
	"sync"

	"github.com/distclass-go/dorpc/dclog"
	"github.com/distclass-go/dorpc/dconn"
	"github.com/distclass-go/dorpc/naming"
)

// registry tracks every live Connection this process has created, the
// process-wide state spec §9 calls for alongside the name-server singleton.
var registry = struct {
	mu    sync.Mutex
	conns map[*dconn.Connection]struct{}
}{conns: make(map[*dconn.Connection]struct{})}

func registerConnection(conn *dconn.Connection) {
	registry.mu.Lock()
	registry.conns[conn] = struct{}{}
	registry.mu.Unlock()
	go func() {
		<-conn.ShutdownDoneChan()
		registry.mu.Lock()
		delete(registry.conns, conn)
		registry.mu.Unlock()
	}()
}

// ActiveConnections lists every Connection created by ConnectLocal,
// ConnectRemote, ServeLocal or ServeRemote that has not yet shut down.
func ActiveConnections() []*dconn.Connection {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	out := make([]*dconn.Connection, 0, len(registry.conns))
	for c := range registry.conns {
		out = append(out, c)
	}
	return out
}

var (
	localNameServerOnce sync.Once
	localNameServer     *naming.LocalNameServer

	mdnsNameServerOnce sync.Once
	mdnsNameServer     *naming.MDNSNameServer
)

// defaultNameServer returns the process-wide local rendezvous singleton.
func defaultNameServer() (*naming.LocalNameServer, error) {
	var err error
	localNameServerOnce.Do(func() {
		localNameServer, err = naming.NewLocalNameServer(bootstrapLogger(), "")
	})
	return localNameServer, err
}

// defaultMDNSNameServer returns the process-wide mDNS rendezvous singleton.
func defaultMDNSNameServer() *naming.MDNSNameServer {
	mdnsNameServerOnce.Do(func() {
		mdnsNameServer = naming.NewMDNSNameServer(bootstrapLogger())
	})
	return mdnsNameServer
}

func bootstrapLogger() dclog.Logger {
	return dclog.New("dorpc", dclog.LogLevelInfo)
}
