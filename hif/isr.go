package hif

// PollChan is the channel an external runner selects on to learn a poll
// invocation is due. It is exposed rather than hidden behind a goroutine:
// a real runner is a plain for-loop calling Poll, not a thread this
// package owns.
func (c *Channel) PollChan() <-chan struct{} { return c.pollWake }

// HandleIRQ is the channel's hardware IRQ handler:
//  1. mask the channel interrupt gate at the CSR;
//  2. atomically request the poll loop to run, or, if a poll is already
//     pending, bump the overrun counter (Stats.PollOnRun, grounded on
//     original_source's xstats.napi_poll_onrun) and return.
//
// Per-direction RX/TX IRQ masking happens inside Poll itself, at entry,
// once the pended invocation actually starts running; completePoll
// unmasks both directions again once the drain catches up with budget.
func (c *Channel) HandleIRQ() {
	c.csr.IRQMask()
	if !c.pollPending.CompareAndSwap(false, true) {
		c.Stats.PollOnRun.Add(1)
		c.pollOverrun.Add(1)
		return
	}
	select {
	case c.pollWake <- struct{}{}:
	default:
	}
}

// HandleGlobalErrorIRQ is the separate higher-level ISR for HIF-global
// errors (FIFO over/underrun, bus errors): it logs, the caller ACKs at the
// CSR layer and leaves the offending source bit masked -- no automatic
// channel recovery is attempted here.
func (c *Channel) HandleGlobalErrorIRQ(source uint32) {
	c.logGlobalError(source)
}

// PollOverrunCount returns the number of IRQs that observed a poll already
// pending.
func (c *Channel) PollOverrunCount() uint64 { return c.pollOverrun.Load() }
