package dconn

import (
	"sync/atomic"

	"github.com/jpillora/sizestr"
)

// Stats holds the running counters spec §4.F exposes as a read-only
// snapshot, atomically maintained the way the teacher's ConnStats tracks
// open/total connection counts.
type Stats struct {
	requestsSent     int64
	requestsReceived int64
	repliesSent      int64
	repliesReceived  int64
	retransmits      int64
	ackTimeouts      int64
	bytesSent        int64
	bytesReceived    int64
}

// Statistics is the point-in-time snapshot returned by Connection.Statistics().
type Statistics struct {
	RequestsSent     int64 `json:"requestsSent"`
	RequestsReceived int64 `json:"requestsReceived"`
	RepliesSent      int64 `json:"repliesSent"`
	RepliesReceived  int64 `json:"repliesReceived"`
	Retransmits      int64 `json:"retransmits"`
	AckTimeouts      int64 `json:"ackTimeouts"`
	BytesSent        int64 `json:"bytesSent"`
	BytesReceived    int64 `json:"bytesReceived"`
}

func (s *Stats) incRequestsSent()       { atomic.AddInt64(&s.requestsSent, 1) }
func (s *Stats) incRequestsReceived()   { atomic.AddInt64(&s.requestsReceived, 1) }
func (s *Stats) incRepliesSent()        { atomic.AddInt64(&s.repliesSent, 1) }
func (s *Stats) incRepliesReceived()    { atomic.AddInt64(&s.repliesReceived, 1) }
func (s *Stats) incRetransmits()        { atomic.AddInt64(&s.retransmits, 1) }
func (s *Stats) incAckTimeouts()        { atomic.AddInt64(&s.ackTimeouts, 1) }
func (s *Stats) addBytesSent(n int)     { atomic.AddInt64(&s.bytesSent, int64(n)) }
func (s *Stats) addBytesReceived(n int) { atomic.AddInt64(&s.bytesReceived, int64(n)) }

func (s *Stats) snapshot() Statistics {
	return Statistics{
		RequestsSent:     atomic.LoadInt64(&s.requestsSent),
		RequestsReceived: atomic.LoadInt64(&s.requestsReceived),
		RepliesSent:      atomic.LoadInt64(&s.repliesSent),
		RepliesReceived:  atomic.LoadInt64(&s.repliesReceived),
		Retransmits:      atomic.LoadInt64(&s.retransmits),
		AckTimeouts:      atomic.LoadInt64(&s.ackTimeouts),
		BytesSent:        atomic.LoadInt64(&s.bytesSent),
		BytesReceived:    atomic.LoadInt64(&s.bytesReceived),
	}
}

// Statistics returns a read-only snapshot of this connection's counters.
func (c *Connection) Statistics() Statistics {
	return c.stats.snapshot()
}

// String renders the snapshot the way the teacher logs connection byte
// counts on close, in human-readable units rather than raw integers.
func (st Statistics) String() string {
	return "sent " + sizestr.ToString(st.BytesSent) + ", received " + sizestr.ToString(st.BytesReceived)
}
