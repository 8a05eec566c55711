package port

import (
	"net"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dclog"
)

// DialTCP opens a TCP/IPv6 Port to addr exactly as given; it does no address
// family selection of its own. Preferring an IPv6 literal for an unknown
// host (spec §4.D) is left to the caller constructing addr, as
// MDNSNameServer.Lookup does.
func DialTCP(logger dclog.Logger, addr string) (Port, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "dial tcp %s", addr)
	}
	return newStreamPort(logger.Fork("tcpPort(%s)", addr), conn), nil
}

// ListenTCP listens for one inbound TCP connection on addr and wraps it as a Port.
func ListenTCP(logger dclog.Logger, addr string) (Port, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, dcerr.Wrap(dcerr.KindTransportDead, err, "listen tcp %s", addr)
	}
	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		return nil, nil, dcerr.Wrap(dcerr.KindTransportDead, err, "accept tcp %s", addr)
	}
	return newStreamPort(logger.Fork("tcpPort(%s)", conn.RemoteAddr()), conn), conn.LocalAddr(), nil
}
