package dconn

import (
	"encoding/binary"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/proxytab"
	"github.com/distclass-go/dorpc/wire"
)

// HostDispatch is the boundary to the host's real method-invocation
// mechanism (explicitly out of scope per spec §4.F: "invokes the real
// method... provided by the host's dispatch collaborator").
type HostDispatch interface {
	// Dispatch invokes selector on the object behind target, returning
	// either a return value Arg or a RemoteInfo describing an exception
	// the target raised. It never returns both nil.
	Dispatch(target *proxytab.Proxy, inv *wire.Invocation) (*wire.Arg, *dcerr.RemoteInfo)
	// MethodSignature resolves the type signature for selector on target,
	// answering the internal methodSignatureForSelector: RPC (spec §4.G).
	MethodSignature(target *proxytab.Proxy, selector string) (string, error)
}

// convWorker serialises dispatch of every request sharing one conversation
// token, executing them strictly in arrival order (spec §5's ordering
// guarantee), while distinct conversations run concurrently on their own
// workers.
type convWorker struct {
	jobs chan func()
}

func newConvWorker() *convWorker {
	w := &convWorker{jobs: make(chan func(), 64)}
	go func() {
		for job := range w.jobs {
			job()
		}
	}()
	return w
}

func (c *Connection) convWorkerFor(token uint32) *convWorker {
	c.lock.Lock()
	defer c.lock.Unlock()
	w, ok := c.convWorkers[token]
	if !ok {
		w = newConvWorker()
		c.convWorkers[token] = w
	}
	return w
}

// recvLoop is the single reader draining the receive port, per spec §5's
// "a reader that drains the receive port."
func (c *Connection) recvLoop() {
	for {
		raw, err := c.recvPort.Recv()
		if err != nil {
			c.invalidate(err)
			return
		}
		c.stats.addBytesReceived(len(raw))
		c.handleRaw(raw)
	}
}

func (c *Connection) handleRaw(raw []byte) {
	// raw is one Frame.Marshal output as the Port delivered it, still led by
	// Marshal's own uint32 length prefix; wire.Unmarshal takes what follows.
	if len(raw) < 4 || binary.LittleEndian.Uint32(raw) != uint32(len(raw)-4) {
		c.reportError(dcerr.New(dcerr.KindMalformedFrame, "frame length prefix does not match %d received bytes", len(raw)))
		return
	}
	f, err := wire.Unmarshal(raw[4:], c.envelope.AuthTagLen())
	if err != nil {
		c.reportError(err)
		return
	}
	if err := openFrame(c.envelope, f); err != nil {
		c.reportError(err)
		return
	}
	switch f.MsgID {
	case wire.MsgAck:
		c.handleAck(f)
	case wire.MsgRequest:
		c.handleRequest(f)
	case wire.MsgReply:
		c.handleReply(f)
	case wire.MsgRelease:
		c.handleRelease(f)
	}
}

// handleRelease implements the receiving half of spec §3's proxy lifecycle:
// the peer's last remote handle on one of our local objects was just
// released, so the matching local proxy is dropped unconditionally (the
// peer's own reference count already hit zero; this side keeps none).
func (c *Connection) handleRelease(f *wire.Frame) {
	ref, err := wire.DecodeReleaseFrame(f)
	if err != nil {
		c.reportError(err)
		return
	}
	c.lock.Lock()
	c.tables.DropLocalByRemote(ref)
	c.lock.Unlock()
}

func (c *Connection) handleAck(f *wire.Frame) {
	c.lock.Lock()
	delete(c.pendingAck, f.Sequence)
	c.lock.Unlock()
}

func (c *Connection) handleRequest(f *wire.Frame) {
	// At-most-once execution (spec §8, "dedup on sequence"): a retransmitted
	// REQUEST carries the same sequence number as the original. A sequence
	// already marked executed is a duplicate arriving after its ACK was
	// lost; re-dispatching it would run the target method twice, so only
	// the ACK is resent and the request body is dropped.
	c.lock.Lock()
	_, seen := c.executedRequests[f.Sequence]
	if !seen {
		c.executedRequests[f.Sequence] = struct{}{}
	}
	c.lock.Unlock()

	if seen {
		if c.acksEnabled {
			ack := wire.EncodeAckFrame(f.Sequence, f.Conversation)
			c.sendFrameRaw(ack)
		}
		return
	}

	c.stats.incRequestsReceived()

	if c.acksEnabled {
		ack := wire.EncodeAckFrame(f.Sequence, f.Conversation)
		c.sendFrameRaw(ack)
	}

	c.lock.Lock()
	c.dispatchingConversations[f.Conversation] = c.dispatchingConversations[f.Conversation] + 1
	c.lock.Unlock()

	w := c.convWorkerFor(f.Conversation)
	w.jobs <- func() {
		c.dispatchRequest(f)
		c.lock.Lock()
		n := c.dispatchingConversations[f.Conversation] - 1
		if n <= 0 {
			delete(c.dispatchingConversations, f.Conversation)
		} else {
			c.dispatchingConversations[f.Conversation] = n
		}
		c.lock.Unlock()
	}
}

func (c *Connection) dispatchRequest(f *wire.Frame) {
	inv, err := wire.DecodeInvocation(f.Body())
	if err != nil {
		c.reportError(err)
		return
	}

	var target *proxytab.Proxy
	var value *wire.Arg
	var exception *dcerr.RemoteInfo

	targetRef := uint32(0) // the well-known root/vendor object
	if inv.Target != nil {
		targetRef = inv.Target.RefNum
	}
	c.lock.Lock()
	target = c.tables.GetLocalByRemote(targetRef)
	c.lock.Unlock()

	if target == nil {
		exception = &dcerr.RemoteInfo{Name: "NoSuchTarget", Reason: "no local object for request target"}
	} else {
		value, exception = c.dispatch.Dispatch(target, inv)
	}

	reply, err := wire.EncodeReplyFrame(value, exception, f.Sequence, f.Conversation)
	if err != nil {
		c.reportError(err)
		return
	}
	if err := sealFrame(c.envelope, reply); err != nil {
		c.reportError(err)
		return
	}
	c.sendFrameRaw(reply)
	c.stats.incRepliesSent()
}

func (c *Connection) handleReply(f *wire.Frame) {
	c.stats.incRepliesReceived()

	c.lock.Lock()
	waiter, ok := c.waiters[f.Sequence]
	if ok {
		delete(c.waiters, f.Sequence)
		delete(c.pendingAck, f.Sequence)
	}
	_, dispatching := c.dispatchingConversations[f.Conversation]
	c.lock.Unlock()

	if ok {
		waiter <- &replyEnvelope{frame: f}
		return
	}

	if dispatching {
		// Arrived while a request on the same conversation is still being
		// dispatched; the matching waiter may not be registered yet
		// (nested callback race). Stash it briefly.
		c.lock.Lock()
		c.lateReplies[f.Sequence] = f
		c.lock.Unlock()
		return
	}

	c.reportError(dcerr.New(dcerr.KindOrphanReply, "reply for sequence %d has no waiter", f.Sequence))
}

// takeLateReply returns and removes a reply that arrived before its waiter
// was registered, if one is stashed.
func (c *Connection) takeLateReply(seq uint32) (*wire.Frame, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	f, ok := c.lateReplies[seq]
	if ok {
		delete(c.lateReplies, seq)
	}
	return f, ok
}
