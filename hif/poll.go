package hif

import "pfeng-hif/types"

// Poll runs one cooperative RX/TX-confirm drain, returning the amount of
// RX work actually done: poll(channel, budget) -> work_done.
//
// Budget contract: if the return value equals budget, the caller MUST NOT
// rearm interrupts -- it is expected to call Poll again on its own
// schedule. If the return value is less than budget and both RX and
// TX-confirm drain reported completion, Poll has already rearmed
// interrupts and cleared the pending-poll flag before returning.
func (c *Channel) Poll(sink PacketSink, budget int) int {
	c.csr.RxIRQMask()
	c.csr.TxIRQMask()

	txResults := c.TX.FreeMapFull(c.TX.DefaultTxWork())
	txComplete := len(txResults) < c.TX.DefaultTxWork()

	for _, r := range txResults {
		if r.Kind == TrackIHC && len(r.Payload) >= TxHeaderSize {
			c.noteIHCTxConf(r.Payload[TxHeaderSize:])
		}
	}

	if c.TX.Unused() >= TxBDsMaxNeeded {
		c.wakeSubqueues()
	}

	rxWork, rxComplete := c.pollRX(sink, budget)

	if rxWork < budget && txComplete && rxComplete {
		c.completePoll()
	}
	return rxWork
}

// wakeSubqueues wakes every netdev subqueue bound to this channel, unless
// its TMU back-pressure bit is set.
func (c *Channel) wakeSubqueues() {
	for i := range c.PhyIfs.entries {
		nif := c.PhyIfs.entries[i]
		if nif == nil || nif.Sink == nil {
			continue
		}
		if !nif.Sink.TMUFull() {
			nif.Sink.WakeSubqueues()
		}
	}
}

// pollRX drains up to budget received frames, refilling the RX pool first
// if it is above the low-water mark, and dispatching each frame to either
// the IHC client or the resolved netdev.
func (c *Channel) pollRX(sink PacketSink, budget int) (work int, complete bool) {
	if c.RX.FreeSlots() > c.RX.RefillThreshold() {
		c.RX.Refill(c.RX.RefillThreshold())
		c.csr.EnableRX(bool(c.mode)) // retrigger RX DMA over the freshly published descriptors
	}

	for work < budget {
		pkt, err := c.RX.ReceivePkt(sink)
		if err == ErrRingEmpty {
			return work, true
		}
		if err == ErrOOMDropped {
			c.Stats.RxDropped.Add(1)
			work++
			continue
		}
		if err != nil {
			return work, true
		}

		work++
		c.deliverRX(pkt)
	}
	return work, false
}

// deliverRX dispatches one received frame: IHC frames go to the IHC
// client and are never handed to the stack; everything else is resolved
// through the physical-interface table, AUX-routed if applicable, and
// handed off after header handling.
func (c *Channel) deliverRX(pkt *Packet) {
	if pkt.Header.Flags.Has(RxIHC) {
		c.DispatchIHCRX(pkt)
		return
	}

	c.Stats.RxPackets.Add(1)
	for _, frag := range pkt.Frags {
		c.Stats.RxBytes.Add(uint64(len(frag)))
	}

	isMgmt := IsManagementFrame(pkt.Header)
	nif := c.PhyIfs.Lookup(types.PhyIfID(pkt.Header.IPhyIf), isMgmt)
	if nif == nil || nif.Sink == nil {
		c.Stats.RxDropped.Add(1)
		return
	}
	applyVLANErratum(c, pkt)
	nif.Sink.Deliver(pkt)
}

// applyVLANErratum handles the VLAN-insertion erratum when it is signalled
// for this channel, gated on the same silicon-revision flag as frame-count
// coalescing: it copies the VLAN tag carried in the overloaded
// rx_timestamp_s field into pkt.VLANTag and pulls VlanHLen bytes off the
// first fragment. It does not recover the relocated RX timestamp;
// pkt.Header.RxTimestampS still holds the VLAN tag.
func applyVLANErratum(c *Channel, pkt *Packet) {
	if c.csr.SupportsFrameCoalesce() {
		return // revision does not carry the erratum
	}
	if !pkt.Header.Flags.Has(RxVLAN) {
		return
	}
	if len(pkt.Frags) == 0 || len(pkt.Frags[0]) < VlanHLen {
		return
	}
	pkt.VLANTag = pkt.Header.VlanTag()
	pkt.Frags[0] = pkt.Frags[0][VlanHLen:]
}

// completePoll rearms RX and TX IRQs and clears the pending-poll flag,
// the napi_complete_done-equivalent acknowledgement.
func (c *Channel) completePoll() {
	c.csr.EnableRX(bool(c.mode)) // retrigger RX DMA in case it stalled under TriggerMode
	c.csr.RxIRQUnmask()
	c.csr.TxIRQUnmask()
	c.csr.IRQUnmask()
	c.pollPending.Store(false)
}
