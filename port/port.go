// Package port implements the transport level of the connection engine: a
// message-oriented duplex channel that frames an underlying byte stream with
// a length prefix and buffers partial reads internally.
package port

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dclog"
)

// Port is the transport-level contract the connection engine drives. Two
// concrete implementations are required: local IPC (not required to pierce
// sandboxes) and TCP/IPv6 sockets; ws.go and pairport.go add two more
// grounded in the dependency pack.
type Port interface {
	// Send writes one frame as one message (streamPort length-prefixes it,
	// wsPort sends it as one websocket message), failing if deadline
	// elapses first. A zero deadline means no timeout.
	Send(frame []byte, deadline time.Time) error
	// Recv blocks for the next frame, returned without the transport's framing.
	Recv() ([]byte, error)
	Close() error
}

const maxFrameLen = 64 << 20

// streamPort adapts any io.ReadWriteCloser into a Port using a uint32
// length-prefix framing, buffering partial reads the way spec §4.C requires
// ("the transport level is message-oriented ... partial reads are buffered
// internally").
type streamPort struct {
	dclog.Logger
	rwc io.ReadWriteCloser
}

func newStreamPort(logger dclog.Logger, rwc io.ReadWriteCloser) *streamPort {
	return &streamPort{Logger: logger, rwc: rwc}
}

func (p *streamPort) Send(frame []byte, deadline time.Time) error {
	if dl, ok := p.rwc.(interface{ SetWriteDeadline(time.Time) error }); ok {
		dl.SetWriteDeadline(deadline)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := p.rwc.Write(hdr[:]); err != nil {
		return dcerr.Wrap(dcerr.KindTransportDead, err, "port write header")
	}
	if _, err := p.rwc.Write(frame); err != nil {
		return dcerr.Wrap(dcerr.KindTransportDead, err, "port write body")
	}
	return nil
}

func (p *streamPort) Recv() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(p.rwc, hdr[:]); err != nil {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "port read header")
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return nil, dcerr.New(dcerr.KindMalformedFrame, "frame length %d exceeds maximum", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.rwc, buf); err != nil {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "port read body")
	}
	return buf, nil
}

func (p *streamPort) Close() error {
	return p.rwc.Close()
}
