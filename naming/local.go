package naming

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dclog"
	"github.com/distclass-go/dorpc/port"
)

// DefaultLocalRendezvousPath is the well-known local-IPC socket all
// processes on a host race to bind; the winner runs the registry, everyone
// else (including the winner itself) talks to it as a client.
func DefaultLocalRendezvousPath() string {
	return filepath.Join(os.TempDir(), "dorpc-nameserver.sock")
}

// LocalNameServer implements local rendezvous: REGISTER/LOOKUP/REMOVE text
// commands carried over a locked unix-domain socket (spec §4.D.1).
type LocalNameServer struct {
	Logger dclog.Logger
	path   string

	mu       sync.Mutex
	listener *port.LockedUnixListener // non-nil only on the process that won the race to host the registry
	bindings map[string]int
}

// NewLocalNameServer either starts hosting the local registry (if no one
// else is) or simply prepares a client that talks to whoever is.
func NewLocalNameServer(logger dclog.Logger, path string) (*LocalNameServer, error) {
	if path == "" {
		path = DefaultLocalRendezvousPath()
	}
	ns := &LocalNameServer{Logger: logger.Fork("localNameServer"), path: path}

	ln, err := port.NewLockedUnixListener(ns.Logger, path)
	if err == nil {
		ns.listener = ln
		ns.bindings = make(map[string]int)
		go ns.serve()
	}
	// If the lock is already held, someone else is the registry host; this
	// instance operates purely as a client against ns.path.
	return ns, nil
}

func (ns *LocalNameServer) serve() {
	for {
		conn, err := ns.listener.AcceptRaw()
		if err != nil {
			return
		}
		go ns.handleConn(conn)
	}
}

// handleConn speaks the registry's own newline-delimited text protocol
// directly over conn, bypassing the wire package's length-prefixed framing
// entirely: REGISTER/LOOKUP/REMOVE are a much simpler exchange than a
// full Invocation.
func (ns *LocalNameServer) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		reply := ns.dispatch(scanner.Text())
		fmt.Fprintln(conn, reply)
	}
}

func (ns *LocalNameServer) dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERROR empty command"
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	switch fields[0] {
	case "REGISTER":
		if len(fields) != 3 {
			return "ERROR malformed REGISTER"
		}
		p, err := strconv.Atoi(fields[2])
		if err != nil {
			return "ERROR malformed port"
		}
		if _, exists := ns.bindings[fields[1]]; exists {
			return "ALREADY_BOUND"
		}
		ns.bindings[fields[1]] = p
		return "OK"
	case "LOOKUP":
		if len(fields) != 2 {
			return "ERROR malformed LOOKUP"
		}
		p, ok := ns.bindings[fields[1]]
		if !ok {
			return "NOT_FOUND"
		}
		return fmt.Sprintf("PORT %d", p)
	case "REMOVE":
		if len(fields) != 2 {
			return "ERROR malformed REMOVE"
		}
		delete(ns.bindings, fields[1])
		return "OK"
	default:
		return "ERROR unknown command"
	}
}

func dialRegistry(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindNamingFailed, err, "dial local registry %q", path)
	}
	return conn, nil
}

func (ns *LocalNameServer) command(line string) (string, error) {
	conn, err := dialRegistry(ns.path)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	fmt.Fprintln(conn, line)
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return "", dcerr.New(dcerr.KindNamingFailed, "no reply from local registry")
	}
	return scanner.Text(), nil
}

// Register advertises name at preferredPort (or an ephemeral TCP port if 0)
// and returns the bound port. It only probes the port with a short-lived
// listener, closed before it returns; it does not listen for the actual
// object-serving connections.
func (ns *LocalNameServer) Register(logger dclog.Logger, name string, preferredPort int) (int, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", preferredPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, dcerr.Wrap(dcerr.KindNamingFailed, err, "listen for %q", name)
	}
	boundPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close() // the caller's ServeLocal bootstrap re-listens on the now-known port

	reply, err := ns.command(fmt.Sprintf("REGISTER %s %d", name, boundPort))
	if err != nil {
		return 0, err
	}
	if reply == "ALREADY_BOUND" {
		return 0, dcerr.New(dcerr.KindNamingAlreadyBound, "name %q already registered", name)
	}
	if reply != "OK" {
		return 0, dcerr.New(dcerr.KindNamingFailed, "registry rejected REGISTER: %s", reply)
	}
	return boundPort, nil
}

// Unregister withdraws a prior Register.
func (ns *LocalNameServer) Unregister(name string) error {
	_, err := ns.command(fmt.Sprintf("REMOVE %s", name))
	return err
}

// Lookup resolves name to a Port. A non-empty host bypasses the local
// registry entirely and dials host:port directly.
func (ns *LocalNameServer) Lookup(logger dclog.Logger, name, host string, preferredPort int) (port.Port, error) {
	if host != "" {
		return port.DialTCP(logger, fmt.Sprintf("%s:%d", host, preferredPort))
	}
	reply, err := ns.command(fmt.Sprintf("LOOKUP %s", name))
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(reply)
	if len(fields) != 2 || fields[0] != "PORT" {
		return nil, dcerr.New(dcerr.KindNamingFailed, "name %q not found", name)
	}
	resolvedPort, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindNamingFailed, err, "malformed port in registry reply")
	}
	return port.DialTCP(logger, fmt.Sprintf("127.0.0.1:%d", resolvedPort))
}

// Close shuts down the registry listener if this instance is hosting it.
func (ns *LocalNameServer) Close() error {
	ns.mu.Lock()
	ln := ns.listener
	ns.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}
