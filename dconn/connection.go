// Package dconn implements the connection engine: the core state machine
// that drives sending, receiving, dispatch, retransmission and invalidation
// of invocations over a pair of Ports (spec §4.F).
package dconn

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/distclass-go/dorpc/dclog"
	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/envelope"
	"github.com/distclass-go/dorpc/port"
	"github.com/distclass-go/dorpc/proxytab"
	"github.com/distclass-go/dorpc/wire"
)

// DefaultTransmissionTimeout bounds a single send operation on the port.
const DefaultTransmissionTimeout = 5 * time.Second

// DefaultAckTimeout bounds unacknowledged request lifetime between retransmits.
const DefaultAckTimeout = 5 * time.Second

// RetransmitLimit is K from spec §4.F: after this many unsuccessful resends
// the connection invalidates.
const RetransmitLimit = 3

// Config configures a Connection. SendPort and RecvPort may be the same
// Port for duplex transports (TCP, websocket, local socket); spec §4.F's
// "two ports" accommodates transports that only support one direction per
// Port.
type Config struct {
	Logger dclog.Logger

	SendPort port.Port
	RecvPort port.Port

	Envelope    envelope.Delegate
	IsInitiator bool

	Dispatch HostDispatch

	// RootObject is bound at local reference number 0, the well-known
	// vendor object a peer's bootstrap request resolves against.
	RootObject interface{}

	TransmissionTimeout time.Duration
	AckTimeout          time.Duration
	AcksEnabled         bool

	// OnError receives errors with no other waiter to deliver to (orphan
	// replies, malformed frames, dispatch failures), spec §4.F's "global
	// error handler."
	OnError func(error)

	// DebugHTTP exposes GET /debug/stats as JSON, wrapped with requestlog
	// when the log level is debug or above.
	DebugHTTP bool
}

// Connection is the core state machine of the connection engine.
type Connection struct {
	dclog.Shutdowner

	sendPort port.Port
	recvPort port.Port
	envelope envelope.Delegate
	dispatch HostDispatch
	onError  func(error)

	acksEnabled         bool
	transmissionTimeout time.Duration
	ackTimeout          time.Duration

	seq uint32 // atomic

	lock                     sync.Mutex
	tables                   *proxytab.Tables
	pendingAck               map[uint32]*pendingEntry
	waiters                  map[uint32]chan *replyEnvelope
	lateReplies              map[uint32]*wire.Frame
	convWorkers              map[uint32]*convWorker
	dispatchingConversations map[uint32]int
	executedRequests         map[uint32]struct{}

	valid int32 // atomic bool, 1 = valid

	stats Stats

	debugHTTP *http.Server
}

type pendingEntry struct {
	frame   *wire.Frame
	sentAt  time.Time
	resends int
}

// replyEnvelope is what a waiter channel carries: either a decoded reply
// frame, or the reason the wait ended without one (timeout, invalidation).
type replyEnvelope struct {
	frame *wire.Frame
	err   error
}

// New constructs and activates a Connection. isInitiator controls which
// side performs the handshake's originating half.
func New(cfg Config) (*Connection, error) {
	if cfg.TransmissionTimeout == 0 {
		cfg.TransmissionTimeout = DefaultTransmissionTimeout
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = dclog.New("connection", dclog.LogLevelInfo)
	}

	c := &Connection{
		sendPort:                 cfg.SendPort,
		recvPort:                 cfg.RecvPort,
		envelope:                 cfg.Envelope,
		dispatch:                 cfg.Dispatch,
		onError:                  cfg.OnError,
		acksEnabled:              cfg.AcksEnabled,
		transmissionTimeout:      cfg.TransmissionTimeout,
		ackTimeout:               cfg.AckTimeout,
		tables:                   proxytab.New(),
		pendingAck:               make(map[uint32]*pendingEntry),
		waiters:                  make(map[uint32]chan *replyEnvelope),
		lateReplies:              make(map[uint32]*wire.Frame),
		convWorkers:              make(map[uint32]*convWorker),
		dispatchingConversations: make(map[uint32]int),
		executedRequests:         make(map[uint32]struct{}),
		valid:                    1,
	}
	c.Shutdowner.Init(logger, c)

	if cfg.RootObject != nil {
		c.tables.InsertAt(0, cfg.RootObject)
	}

	err := c.DoOnceActivate(func() error {
		if c.envelope == nil {
			c.envelope = envelope.NoneDelegate{}
		}
		if err := c.envelope.Handshake(cfg.IsInitiator, []byte("distclass-handshake-v1")); err != nil {
			return dcerr.Wrap(dcerr.KindAuthFailed, err, "handshake failed")
		}
		// A root object that needs to reach back into this connection (to
		// register objects it allocates, for instance) gets a chance to do
		// so before any traffic can possibly arrive for it.
		if binder, ok := cfg.RootObject.(interface{ BindConnection(*Connection) }); ok {
			binder.BindConnection(c)
		}
		go c.recvLoop()
		go c.retransmitLoop()
		if cfg.DebugHTTP {
			c.startDebugHTTP()
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// HandleOnceShutdown implements dclog.OnceShutdownHandler.
func (c *Connection) HandleOnceShutdown(completionErr error) error {
	atomic.StoreInt32(&c.valid, 0)

	c.lock.Lock()
	waiters := c.waiters
	c.waiters = make(map[uint32]chan *replyEnvelope)
	c.pendingAck = make(map[uint32]*pendingEntry)
	for _, w := range c.convWorkers {
		close(w.jobs)
	}
	c.convWorkers = make(map[uint32]*convWorker)
	c.lock.Unlock()

	closeErr := completionErr
	if closeErr == nil {
		closeErr = dcerr.New(dcerr.KindConnectionClosed, "connection invalidated")
	}
	for _, w := range waiters {
		w <- &replyEnvelope{err: closeErr}
	}

	if c.debugHTTP != nil {
		c.debugHTTP.Close()
	}
	c.sendPort.Close()
	if c.recvPort != c.sendPort {
		c.recvPort.Close()
	}
	return completionErr
}

// IsValid reports whether the connection can still carry traffic.
func (c *Connection) IsValid() bool {
	return atomic.LoadInt32(&c.valid) == 1
}

// invalidate tears the connection down, the only cancellation primitive
// (spec §5): it trips isValid and signals every waiter.
func (c *Connection) invalidate(cause error) {
	c.reportError(cause)
	c.StartShutdown(cause)
}

func (c *Connection) reportError(err error) {
	if err == nil {
		return
	}
	if c.onError != nil {
		c.onError(err)
	} else {
		c.ELogf("%s", err.Error())
	}
}

func (c *Connection) nextSeq() uint32 {
	return atomic.AddUint32(&c.seq, 1)
}

// Tables exposes the connection's proxy tables to the proxy-object layer,
// which must hold the connection's lock (via WithLock) while using them.
func (c *Connection) Tables() *proxytab.Tables { return c.tables }

// WithLock runs fn while holding the connection's single lock (spec §5),
// the lock that also covers the proxy tables, waiters map, pending-ack map,
// and conversation state. It is a plain sync.Mutex and is not reentrant:
// calling WithLock again from inside fn deadlocks.
func (c *Connection) WithLock(fn func()) {
	c.lock.Lock()
	defer c.lock.Unlock()
	fn()
}

func sealFrame(d envelope.Delegate, f *wire.Frame) error {
	return envelope.Seal(d, f)
}

func openFrame(d envelope.Delegate, f *wire.Frame) error {
	return envelope.Open(d, f)
}

// ReleaseProxy drops one of this side's handles on the peer-owned object at
// theirRef, and, if that was the last one, notifies the peer so its
// matching local proxy is dropped too (spec §3 "Lifecycles": "destroyed
// when the last user release removes it (peer is notified so its local
// proxy drops)").
func (c *Connection) ReleaseProxy(theirRef uint32) {
	c.lock.Lock()
	last := c.tables.ReleaseRemoteProxy(theirRef)
	c.lock.Unlock()
	if !last {
		return
	}
	release := wire.EncodeReleaseFrame(theirRef)
	if err := sealFrame(c.envelope, release); err != nil {
		c.reportError(err)
		return
	}
	c.sendFrameRaw(release)
}

func (c *Connection) sendFrameRaw(f *wire.Frame) {
	raw, err := f.Marshal()
	if err != nil {
		c.reportError(err)
		return
	}
	if err := c.sendPort.Send(raw, time.Now().Add(c.transmissionTimeout)); err != nil {
		c.invalidate(err)
		return
	}
	c.stats.addBytesSent(len(raw))
}
