// Package dorpc wires the connection engine, proxy layer and name-server
// rendezvous together behind the four bootstrap entry points spec §6
// names: ConnectLocal, ConnectRemote, ServeLocal, ServeRemote.
package dorpc

import (
	"fmt"
	"net"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dconn"
	"github.com/distclass-go/dorpc/dproxy"
	"github.com/distclass-go/dorpc/naming"
	"github.com/distclass-go/dorpc/port"
	"github.com/distclass-go/dorpc/proxytab"
)

// ConnectLocal dials service on this host's local rendezvous registry and
// returns a Proxy to the peer's root (vendor) object.
func ConnectLocal(service string) (*dconn.Connection, *dproxy.Proxy, error) {
	ns, err := defaultNameServer()
	if err != nil {
		return nil, nil, err
	}
	return connectVia(ns, service, "", 0)
}

// ConnectRemote resolves service via multicast DNS, or dials host directly
// when host is non-empty (bypassing discovery entirely, per spec §4.D.2).
func ConnectRemote(service, host string, preferredPort int) (*dconn.Connection, *dproxy.Proxy, error) {
	return connectVia(defaultMDNSNameServer(), service, host, preferredPort)
}

// ServeLocal advertises root under service on the local rendezvous registry
// and blocks until one peer connects.
func ServeLocal(service string, root *dproxy.Vendor) (*dconn.Connection, error) {
	ns, err := defaultNameServer()
	if err != nil {
		return nil, err
	}
	return serveVia(ns, service, 0, root)
}

// ServeRemote advertises root under service via multicast DNS on
// preferredPort (0 picks an ephemeral port) and blocks until one peer
// connects.
func ServeRemote(service string, preferredPort int, root *dproxy.Vendor) (*dconn.Connection, error) {
	return serveVia(defaultMDNSNameServer(), service, preferredPort, root)
}

func connectVia(ns naming.NameServer, service, host string, preferredPort int) (*dconn.Connection, *dproxy.Proxy, error) {
	logger := bootstrapLogger().Fork("client(%s)", service)
	p, err := ns.Lookup(logger, service, host, preferredPort)
	if err != nil {
		return nil, nil, err
	}

	// The client's own vendor is almost always empty (it vends nothing back
	// to the server) but installing one keeps Dispatch symmetric across
	// both sides of the connection and gives a future callback object a
	// home at refnum 0 on this side's own table.
	vendor := dproxy.NewVendor()
	conn, err := dconn.New(dconn.Config{
		Logger:      logger,
		SendPort:    p,
		RecvPort:    p,
		IsInitiator: true,
		Dispatch:    newReflectDispatch(vendor),
		RootObject:  vendor,
		AcksEnabled: true,
	})
	if err != nil {
		return nil, nil, err
	}
	registerConnection(conn)

	var rootRef *proxytab.Proxy
	conn.WithLock(func() {
		rootRef = conn.Tables().GetOrInsertRemoteProxy(0)
	})
	return conn, dproxy.New(conn, rootRef, "Vendor"), nil
}

func serveVia(ns naming.NameServer, service string, preferredPort int, root *dproxy.Vendor) (*dconn.Connection, error) {
	logger := bootstrapLogger().Fork("server(%s)", service)

	boundPort := preferredPort
	if boundPort == 0 {
		probed, err := probeEphemeralPort()
		if err != nil {
			return nil, err
		}
		boundPort = probed
	}

	actualPort, err := ns.Register(logger, service, boundPort)
	if err != nil {
		return nil, err
	}

	p, _, err := port.ListenTCP(logger, fmt.Sprintf("127.0.0.1:%d", actualPort))
	if err != nil {
		ns.Unregister(service)
		return nil, err
	}

	conn, err := dconn.New(dconn.Config{
		Logger:      logger,
		SendPort:    p,
		RecvPort:    p,
		IsInitiator: false,
		Dispatch:    newReflectDispatch(root),
		RootObject:  root,
		AcksEnabled: true,
	})
	if err != nil {
		ns.Unregister(service)
		return nil, err
	}
	registerConnection(conn)
	go func() {
		<-conn.ShutdownDoneChan()
		ns.Unregister(service)
	}()
	return conn, nil
}

// probeEphemeralPort asks the OS for an unused TCP port, releasing it
// immediately so either name-server backend can register a concrete port
// number before the real listener (opened separately by serveVia) binds it.
func probeEphemeralPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, dcerr.Wrap(dcerr.KindNamingFailed, err, "probe ephemeral port")
	}
	p := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return p, nil
}
