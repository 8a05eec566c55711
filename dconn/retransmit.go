package dconn

import (
	"time"

	"github.com/jpillora/backoff"

	"github.com/distclass-go/dorpc/dcerr"
)

// retransmitLoop is the periodic timer of spec §4.F: it scans pendingAck
// every tick and resends anything older than ackTimeout, spacing the K=3
// attempts with jpillora/backoff instead of a fixed period.
func (c *Connection) retransmitLoop() {
	b := &backoff.Backoff{
		Min:    c.ackTimeout / 4,
		Max:    c.ackTimeout,
		Factor: 2,
	}
	ticker := time.NewTicker(b.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-c.ShutdownDoneChan():
			return
		case <-ticker.C:
			if !c.IsValid() {
				return
			}
			c.scanPendingAck()
			ticker.Reset(b.Duration())
		}
	}
}

func (c *Connection) scanPendingAck() {
	now := time.Now()

	var toResend []*pendingEntry
	var toFail bool

	c.lock.Lock()
	for _, entry := range c.pendingAck {
		if now.Sub(entry.sentAt) < c.ackTimeout {
			continue
		}
		entry.resends++
		if entry.resends > RetransmitLimit {
			toFail = true
			break
		}
		entry.sentAt = now
		toResend = append(toResend, entry)
	}
	c.lock.Unlock()

	if toFail {
		c.stats.incAckTimeouts()
		c.invalidate(dcerr.New(dcerr.KindTransmissionTimeout, "retransmit limit (%d) exceeded", RetransmitLimit))
		return
	}

	for _, entry := range toResend {
		c.stats.incRetransmits()
		c.sendFrameRaw(entry.frame)
	}
}
