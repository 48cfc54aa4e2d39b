package hif

import (
	"sync"

	"pfeng-hif/x/fmtx"
	"pfeng-hif/x/timex"
)

// etsTrackSize matches the 12-bit est_ref_num space the TX header carries.
const etsTrackSize = 1 << 12

// etsEntry records one outstanding egress-timestamp request: which physical
// interface sent it, and when, so a stale entry can be logged instead of
// silently misattributed to a later reuse of the same ref_num.
type etsEntry struct {
	valid   bool
	phyIf   uint32
	jiffies int64
}

// EgressTSTracker correlates a TX frame enqueued with the ETS flag set to
// the hardware timestamp reported for it later, keyed by the 12-bit
// est_ref_num allocated at enqueue time. Hardware reports the completed
// timestamp out of band from the RX ring (a TMU/EGPI register readback),
// so correlation is driven by whatever platform code observes that event
// calling ReportTimestamp.
type EgressTSTracker struct {
	mu      sync.Mutex
	entries [etsTrackSize]etsEntry
	refNum  uint16
}

// NewEgressTSTracker constructs an empty tracker.
func NewEgressTSTracker() *EgressTSTracker { return &EgressTSTracker{} }

// NextRefNum allocates the next 12-bit egress-timestamp reference number.
// Every channel carries its own tracker, so timestamping works whether or
// not the channel also carries IHC traffic.
func (t *EgressTSTracker) NextRefNum() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refNum = (t.refNum + 1) & 0x0fff
	return t.refNum
}

// Record notes that refNum now refers to a frame sent on phyIf, pending its
// hardware timestamp report.
func (t *EgressTSTracker) Record(refNum uint16, phyIf uint32) {
	t.mu.Lock()
	t.entries[refNum&(etsTrackSize-1)] = etsEntry{valid: true, phyIf: phyIf, jiffies: timex.NowMs()}
	t.mu.Unlock()
}

// Take consumes the pending entry for refNum, returning its physical
// interface and how long it waited, or ok=false if nothing was recorded
// under that ref_num (a stale or duplicate report).
func (t *EgressTSTracker) Take(refNum uint16) (phyIf uint32, waitedMs int64, ok bool) {
	slot := refNum & (etsTrackSize - 1)
	t.mu.Lock()
	e := t.entries[slot]
	t.entries[slot] = etsEntry{}
	t.mu.Unlock()
	if !e.valid {
		return 0, 0, false
	}
	return e.phyIf, timex.NowMs() - e.jiffies, true
}

// ReportTimestamp is called by platform code once hardware signals an
// egress timestamp is ready for refNum. It resolves the pending entry and
// forwards the completed (phyIf, seconds, nanoseconds) tuple to report,
// logging and dropping reports that do not match a recorded ref_num.
func (c *Channel) ReportTimestamp(refNum uint16, seconds, nanos uint32, report func(phyIf uint32, seconds, nanos uint32)) {
	if c.ETS == nil {
		return
	}
	phyIf, _, ok := c.ETS.Take(refNum)
	if !ok {
		fmtx.Logf(c.Index, "egress timestamp report for unknown ref_num %d", refNum)
		return
	}
	if report != nil {
		report(phyIf, seconds, nanos)
	}
}
