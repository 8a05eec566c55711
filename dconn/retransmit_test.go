package dconn

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/envelope"
)

// blackholePort accepts every Send (counting them) and never delivers
// anything to Recv, simulating a peer that never acks a request.
type blackholePort struct {
	sendCount int32
	recvBlock chan struct{}
	closeOnce sync.Once
}

func newBlackholePort() *blackholePort {
	return &blackholePort{recvBlock: make(chan struct{})}
}

func (p *blackholePort) Send(frame []byte, deadline time.Time) error {
	atomic.AddInt32(&p.sendCount, 1)
	return nil
}

func (p *blackholePort) Recv() ([]byte, error) {
	<-p.recvBlock
	return nil, dcerr.New(dcerr.KindTransportDead, "closed")
}

func (p *blackholePort) Close() error {
	p.closeOnce.Do(func() { close(p.recvBlock) })
	return nil
}

func TestRetransmitLimitInvalidatesConnection(t *testing.T) {
	p := newBlackholePort()
	conn, err := New(Config{
		Logger:      testLogger("retransmit"),
		SendPort:    p,
		RecvPort:    p,
		Envelope:    envelope.NoneDelegate{},
		IsInitiator: true,
		Dispatch:    newEchoDispatch(),
		AcksEnabled: true,
		AckTimeout:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer conn.Close()

	_, err = conn.SendRequest(1, intInvocation(1), 'i', 0)
	if err == nil {
		t.Fatalf("expected retransmit-limit error, got nil")
	}
	if !dcerr.Is(err, dcerr.KindTransmissionTimeout) {
		t.Fatalf("expected KindTransmissionTimeout, got %v", err)
	}
	if atomic.LoadInt32(&p.sendCount) < 2 {
		t.Fatalf("expected at least one retransmit, sendCount=%d", p.sendCount)
	}
	if conn.IsValid() {
		t.Fatalf("expected connection invalidated after retransmit limit")
	}
}
