package port

import (
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dclog"
)

// LockedUnixListener wraps a unix-domain socket listener with an flock'd
// ".lock" sibling file, so two processes can't both bind the same local
// rendezvous path while still allowing an orphaned socket file (left by a
// process that crashed without cleaning up) to be removed and reclaimed.
type LockedUnixListener struct {
	dclog.Logger
	lock     sync.Mutex
	path     string
	lockPath string
	lockFd   *os.File
	ln       net.Listener
	closed   bool
}

// NewLockedUnixListener binds a local-IPC listening Port at path.
func NewLockedUnixListener(logger dclog.Logger, path string) (*LockedUnixListener, error) {
	l := &LockedUnixListener{Logger: logger.Fork("localSocket(%s)", path)}

	abspath, err := filepath.Abs(path)
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "invalid local socket path %q", path)
	}
	l.path = abspath
	l.lockPath = abspath + ".lock"

	info, err := os.Stat(abspath)
	if err != nil && !os.IsNotExist(err) {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "stat %q", abspath)
	}
	if info != nil && info.Mode()&os.ModeSocket == 0 {
		return nil, dcerr.New(dcerr.KindTransportDead, "path %q exists and is not a unix socket", abspath)
	}

	lockFd, err := os.OpenFile(l.lockPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "open lockfile %q", l.lockPath)
	}
	if err := unix.Flock(int(lockFd.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFd.Close()
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "local socket in use (lockfile %q held)", l.lockPath)
	}
	l.lockFd = lockFd

	if info != nil {
		if err := os.Remove(abspath); err != nil {
			l.Close()
			return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "remove orphaned socket %q", abspath)
		}
	}

	ln, err := net.Listen("unix", abspath)
	if err != nil {
		l.Close()
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "listen unix %q", abspath)
	}
	l.ln = ln
	l.DLogf("listening on local socket %q", abspath)
	return l, nil
}

// Accept blocks for the next inbound connection and wraps it as a Port.
func (l *LockedUnixListener) Accept() (Port, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "accept local socket")
	}
	return newStreamPort(l.Fork("localPort"), conn), nil
}

// AcceptRaw blocks for the next inbound connection and returns the bare
// net.Conn, for callers (the local name-server registry) that speak their
// own line-oriented protocol instead of the length-prefixed frame format.
func (l *LockedUnixListener) AcceptRaw() (net.Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "accept local socket")
	}
	return conn, nil
}

// Close releases the listen socket and its lockfile.
func (l *LockedUnixListener) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var lnErr error
	if l.ln != nil {
		os.Remove(l.path)
		lnErr = l.ln.Close()
	}
	if l.lockFd != nil {
		os.Remove(l.lockPath)
		unix.Flock(int(l.lockFd.Fd()), unix.LOCK_UN)
		l.lockFd.Close()
	}
	return lnErr
}

// DialLocal opens a Port to a local-IPC listener at path.
func DialLocal(logger dclog.Logger, path string) (Port, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "dial local socket %q", path)
	}
	return newStreamPort(logger.Fork("localPort(%s)", path), conn), nil
}
