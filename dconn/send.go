package dconn

import (
	"time"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/wire"
)

// SendRequest carries out spec §4.F's "Sending a request": it encodes inv
// into a REQUEST frame, wraps it with security, records it in pendingAck if
// acks are enabled, registers a waiter, submits the frame to the transport,
// and suspends until reply, timeout, or invalidation. It does not register
// objects named in inv's arguments in the proxy tables.
func (c *Connection) SendRequest(conversation uint32, inv *wire.Invocation, retLetter byte, retQualifier wire.Qualifier) (*wire.Reply, error) {
	if !c.IsValid() {
		return nil, dcerr.New(dcerr.KindConnectionClosed, "connection is no longer valid")
	}

	seq := c.nextSeq()
	f, err := wire.EncodeRequestFrame(inv, seq, conversation, false)
	if err != nil {
		return nil, err
	}
	if err := sealFrame(c.envelope, f); err != nil {
		return nil, err
	}
	raw, err := f.Marshal()
	if err != nil {
		return nil, err
	}

	waitCh := make(chan *replyEnvelope, 1)
	c.lock.Lock()
	c.waiters[seq] = waitCh
	if c.acksEnabled {
		c.pendingAck[seq] = &pendingEntry{frame: f, sentAt: time.Now()}
	}
	c.lock.Unlock()

	// Drain a stashed reply that raced ahead of this waiter's registration
	// (spec §4.F's nested-dispatch reply race); vanishingly unlikely given
	// the waiter is registered before the request is even sent, but cheap
	// to guard against.
	if late, ok := c.takeLateReply(seq); ok {
		c.lock.Lock()
		delete(c.waiters, seq)
		delete(c.pendingAck, seq)
		c.lock.Unlock()
		return wire.DecodeReplyFrame(late, retLetter, retQualifier)
	}

	if err := c.sendPort.Send(raw, time.Now().Add(c.transmissionTimeout)); err != nil {
		c.lock.Lock()
		delete(c.waiters, seq)
		delete(c.pendingAck, seq)
		c.lock.Unlock()
		c.invalidate(err)
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "send request")
	}
	c.stats.incRequestsSent()
	c.stats.addBytesSent(len(raw))

	env := <-waitCh
	if env.err != nil {
		return nil, env.err
	}
	return wire.DecodeReplyFrame(env.frame, retLetter, retQualifier)
}
