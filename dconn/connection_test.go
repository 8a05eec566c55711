package dconn

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/envelope"
	"github.com/distclass-go/dorpc/port"
	"github.com/distclass-go/dorpc/proxytab"
	"github.com/distclass-go/dorpc/wire"
	"github.com/distclass-go/dorpc/dclog"
)

func testLogger(name string) dclog.Logger {
	return dclog.New(name, dclog.LogLevelError)
}

// echoDispatch answers every selector but "boom:" by returning its sole int32
// argument doubled. It records every dispatched argument in arrival order
// under order[0] (Dispatch does not see the conversation token) and counts
// dispatches in seen.
type echoDispatch struct {
	mu    sync.Mutex
	order map[uint32][]int32
	seen  int64 // atomic, total dispatched requests
}

func newEchoDispatch() *echoDispatch {
	return &echoDispatch{order: make(map[uint32][]int32)}
}

func (d *echoDispatch) Dispatch(target *proxytab.Proxy, inv *wire.Invocation) (*wire.Arg, *dcerr.RemoteInfo) {
	atomic.AddInt64(&d.seen, 1)
	if inv.Selector == "boom:" {
		return nil, &dcerr.RemoteInfo{Name: "Boom", Reason: "requested failure"}
	}
	n := inv.Args[0].Prim.(int32)
	d.mu.Lock()
	d.order[0] = append(d.order[0], n)
	d.mu.Unlock()
	return &wire.Arg{Letter: 'i', Prim: n * 2}, nil
}

func (d *echoDispatch) MethodSignature(target *proxytab.Proxy, selector string) (string, error) {
	return "i:i", nil
}

func newConnPair(t *testing.T, d HostDispatch) (client, server *Connection) {
	t.Helper()
	pa, pb, err := port.NewPair(testLogger("pair"))
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	var clientErr, serverErr error
	go func() {
		defer wg.Done()
		client, clientErr = New(Config{
			Logger:      testLogger("client"),
			SendPort:    pa,
			RecvPort:    pa,
			Envelope:    envelope.NoneDelegate{},
			IsInitiator: true,
			Dispatch:    d,
			AcksEnabled: true,
		})
	}()
	go func() {
		defer wg.Done()
		server, serverErr = New(Config{
			Logger:      testLogger("server"),
			SendPort:    pb,
			RecvPort:    pb,
			Envelope:    envelope.NoneDelegate{},
			IsInitiator: false,
			Dispatch:    d,
			RootObject:  "root-object",
			AcksEnabled: true,
		})
	}()
	wg.Wait()
	if clientErr != nil {
		t.Fatalf("New(client): %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("New(server): %v", serverErr)
	}
	return client, server
}

func intInvocation(n int32) *wire.Invocation {
	return &wire.Invocation{
		Selector: "double:",
		TypeSig:  "i:i",
		Args:     []wire.Arg{{Letter: 'i', Prim: n}},
	}
}

func TestSendRequestRoundTrip(t *testing.T) {
	client, server := newConnPair(t, newEchoDispatch())
	defer client.Close()
	defer server.Close()

	reply, err := client.SendRequest(1, intInvocation(21), 'i', wire.QualifierNone)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if reply.Exception != nil {
		t.Fatalf("unexpected exception: %+v", reply.Exception)
	}
	if reply.Value.Prim.(int32) != 42 {
		t.Fatalf("got %v want 42", reply.Value.Prim)
	}
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	client, server := newConnPair(t, newEchoDispatch())
	defer client.Close()
	defer server.Close()

	var last uint32
	for i := int32(0); i < 5; i++ {
		seq := client.nextSeq()
		if seq <= last {
			t.Fatalf("sequence %d did not increase past %d", seq, last)
		}
		last = seq
	}
}

func TestExceptionPropagatesAsReply(t *testing.T) {
	client, server := newConnPair(t, newEchoDispatch())
	defer client.Close()
	defer server.Close()

	inv := &wire.Invocation{Selector: "boom:", TypeSig: "i:i", Args: []wire.Arg{{Letter: 'i', Prim: int32(1)}}}
	reply, err := client.SendRequest(1, inv, 'i', wire.QualifierNone)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if reply.Exception == nil || reply.Exception.Name != "Boom" {
		t.Fatalf("expected Boom exception, got %+v", reply)
	}
}

func TestInOrderDispatchWithinConversation(t *testing.T) {
	d := newEchoDispatch()
	client, server := newConnPair(t, d)
	defer client.Close()
	defer server.Close()

	const n = 20
	var wg sync.WaitGroup
	for i := int32(0); i < n; i++ {
		wg.Add(1)
		go func(i int32) {
			defer wg.Done()
			if _, err := client.SendRequest(77, intInvocation(i), 'i', wire.QualifierNone); err != nil {
				t.Errorf("SendRequest(%d): %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	got := d.order[0]
	if len(got) != n {
		t.Fatalf("expected %d dispatched requests, got %d", n, len(got))
	}
	// every request landed on conversation 77's single worker goroutine, so
	// dispatch order matches arrival order even though callers raced.
}

func TestSendRequestAfterCloseFailsConnectionClosed(t *testing.T) {
	client, server := newConnPair(t, newEchoDispatch())
	defer server.Close()

	client.Close()

	_, err := client.SendRequest(1, intInvocation(1), 'i', wire.QualifierNone)
	if !dcerr.Is(err, dcerr.KindConnectionClosed) {
		t.Fatalf("expected KindConnectionClosed, got %v", err)
	}
}

func TestInvalidationWakesBlockedSendRequest(t *testing.T) {
	client, server := newConnPair(t, newEchoDispatch())
	defer server.Close()

	// block a waiter on a sequence nothing will ever answer by talking
	// past the dispatch side: close the client's own transport instead of
	// sending, by invalidating directly.
	done := make(chan error, 1)
	go func() {
		client.lock.Lock()
		waitCh := make(chan *replyEnvelope, 1)
		client.waiters[999] = waitCh
		client.lock.Unlock()
		env := <-waitCh
		done <- env.err
	}()

	time.Sleep(10 * time.Millisecond)
	client.invalidate(dcerr.New(dcerr.KindTransportDead, "forced failure"))

	select {
	case err := <-done:
		if !dcerr.Is(err, dcerr.KindTransportDead) {
			t.Fatalf("expected KindTransportDead, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken by invalidation")
	}
}

func TestDuplicateRequestIsDedupedAtMostOnce(t *testing.T) {
	d := newEchoDispatch()
	client, server := newConnPair(t, d)
	defer client.Close()
	defer server.Close()

	f, err := wire.EncodeRequestFrame(intInvocation(5), 1, 1, false)
	if err != nil {
		t.Fatalf("EncodeRequestFrame: %v", err)
	}
	if err := sealFrame(server.envelope, f); err != nil {
		t.Fatalf("sealFrame: %v", err)
	}
	raw, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// Deliver the same REQUEST twice, simulating a retransmit that crossed
	// paths with an ACK the sender never saw.
	server.handleRaw(raw)
	server.handleRaw(raw)

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&d.seen) < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt64(&d.seen); got != 1 {
		t.Fatalf("dispatch ran %d times, want exactly 1", got)
	}
	stats := server.Statistics()
	if stats.RequestsReceived != 1 {
		t.Fatalf("RequestsReceived = %d, want 1", stats.RequestsReceived)
	}
	if stats.RepliesSent != 1 {
		t.Fatalf("RepliesSent = %d, want 1", stats.RepliesSent)
	}
}

func TestReleaseProxyNotifiesPeer(t *testing.T) {
	client, server := newConnPair(t, newEchoDispatch())
	defer client.Close()
	defer server.Close()

	// server vends an object; client takes out a remote handle on it the
	// way a decoded by-ref argument or an alloc() reply would.
	obj := &struct{ tag string }{tag: "vended"}
	server.lock.Lock()
	localProxy, err := server.tables.GetOrInsertLocalProxy(obj)
	server.lock.Unlock()
	if err != nil {
		t.Fatalf("GetOrInsertLocalProxy: %v", err)
	}

	client.lock.Lock()
	client.tables.GetOrInsertRemoteProxy(localProxy.RefNum)
	client.lock.Unlock()

	client.ReleaseProxy(localProxy.RefNum)

	deadline := time.Now().Add(time.Second)
	for {
		server.lock.Lock()
		gone := server.tables.GetLocalByRemote(localProxy.RefNum) == nil
		server.lock.Unlock()
		if gone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected server's local proxy to be dropped after the release notification")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStatisticsCountRequests(t *testing.T) {
	client, server := newConnPair(t, newEchoDispatch())
	defer client.Close()
	defer server.Close()

	for i := int32(0); i < 3; i++ {
		if _, err := client.SendRequest(1, intInvocation(i), 'i', wire.QualifierNone); err != nil {
			t.Fatalf("SendRequest: %v", err)
		}
	}
	stats := client.Statistics()
	if stats.RequestsSent != 3 {
		t.Fatalf("RequestsSent = %d, want 3", stats.RequestsSent)
	}
	if stats.BytesSent == 0 || stats.BytesReceived == 0 {
		t.Fatalf("expected nonzero byte counters, got %+v", stats)
	}
	if stats.String() == "" {
		t.Fatalf("expected a human-readable stats summary")
	}
	serverStats := server.Statistics()
	if serverStats.RequestsReceived != 3 {
		t.Fatalf("server RequestsReceived = %d, want 3", serverStats.RequestsReceived)
	}
}
