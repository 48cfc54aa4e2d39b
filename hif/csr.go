package hif

import (
	"pfeng-hif/errcode"
	"pfeng-hif/hif/mmio"
	"pfeng-hif/x/fmtx"
)

// Per-channel register offsets, relative to that channel's CTRL register.
const (
	chanStride = 0x100

	regCtrl            = 0x00
	regRxBDPWrLow      = 0x04
	regRxBDPWrHigh     = 0x08
	regRxBDPRdLow      = 0x0c
	regRxBDPRdHigh     = 0x10
	regTxBDPWrLow      = 0x14
	regTxBDPWrHigh     = 0x18
	regTxBDPRdLow      = 0x1c
	regTxBDPRdHigh     = 0x20
	regRxWrbkBufSize   = 0x24
	regTxWrbkBufSize   = 0x28
	regIntSrc          = 0x60
	regIntEn           = 0x64
	regAbsIntTimer     = 0xe8
	regAbsFrameCount   = 0xec
	regIntCoalEn       = 0xf0
)

// CTRL register bits.
const (
	ctrlRxDMAEn     uint32 = 1 << 0
	ctrlTxDMAEn     uint32 = 1 << 1
	ctrlRxBDPPollEn uint32 = 1 << 2
	ctrlTxBDPPollEn uint32 = 1 << 3
)

// INT_EN / INT_SRC bits. The channel gate is bit 0; RX/TX CBD+PKT sit at
// bits 1-4; bits 5-10 are the BDP/DXR timeout erratum sources that, once
// observed, MUST stay masked permanently.
const (
	intChannelEn uint32 = 1 << 0
	intRxCBDEn   uint32 = 1 << 1
	intRxPktEn   uint32 = 1 << 2
	intTxCBDEn   uint32 = 1 << 3
	intTxPktEn   uint32 = 1 << 4

	intBDPRdRxTimeout uint32 = 1 << 5
	intBDPWrRxTimeout uint32 = 1 << 6
	intBDPRdTxTimeout uint32 = 1 << 7
	intBDPWdTxTimeout uint32 = 1 << 8
	intDXRRxTimeout   uint32 = 1 << 9
	intDXRTxTimeout   uint32 = 1 << 10
)

// erratumMask is the set of interrupt sources permanently masked on first
// occurrence. These are also the structural status IRQs init() unmasks up
// front.
const erratumMask = intBDPRdRxTimeout | intBDPWrRxTimeout | intBDPRdTxTimeout |
	intBDPWdTxTimeout | intDXRRxTimeout | intDXRTxTimeout

// ISREvents classifies the bits an isr() call observed.
type ISREvents struct {
	RX       bool
	TX       bool
	Timeouts uint32 // raw erratum bits newly observed this call
}

// ChannelCSR is the thin, sequenced register-interface contract over one
// HIF channel's register block.
type ChannelCSR struct {
	regs         mmio.Regs
	chanIdx      int
	base         uint32
	supportsFrameCoalesce bool
	maskedErrata uint32
}

// NewChannelCSR constructs the CSR view for channel chanIdx.
// supportsFrameCoalesce gates frame-count coalescing per the silicon
// revision.
func NewChannelCSR(regs mmio.Regs, chanIdx int, supportsFrameCoalesce bool) *ChannelCSR {
	return &ChannelCSR{regs: regs, chanIdx: chanIdx, base: uint32(chanIdx) * chanStride, supportsFrameCoalesce: supportsFrameCoalesce}
}

// SupportsFrameCoalesce reports the revision-gated capability, also used by
// the poll/RX path to decide whether to apply the VLAN-insertion erratum
// relocation.
func (c *ChannelCSR) SupportsFrameCoalesce() bool { return c.supportsFrameCoalesce }

func (c *ChannelCSR) read(off uint32) uint32      { return c.regs.Read32(c.base + off) }
func (c *ChannelCSR) write(off uint32, v uint32) { c.regs.Write32(c.base+off, v) }

// Init disables IRQs and DMA, disables RX coalescing, and unmasks the
// structural status sources while leaving RX-CBD/RX-PKT/TX-CBD/TX-PKT and
// the global channel gate masked.
func (c *ChannelCSR) Init() {
	c.write(regIntEn, 0)
	c.write(regCtrl, 0)
	c.setRxIrqCoalesceRaw(0, 0)
	c.write(regIntEn, erratumMask)
	c.maskedErrata = 0
}

// Fini disables coalescing, RX/TX DMA, and all IRQs.
func (c *ChannelCSR) Fini() {
	c.setRxIrqCoalesceRaw(0, 0)
	c.write(regCtrl, 0)
	c.write(regIntEn, 0)
}

// SetBDRingAddr programs the RX or TX BD ring base address: the low word
// holds the address, the high word is zero-written.
func (c *ChannelCSR) SetBDRingAddr(rx bool, addr uint32) {
	if rx {
		c.write(regRxBDPWrLow, addr)
		c.write(regRxBDPWrHigh, 0)
		return
	}
	c.write(regTxBDPWrLow, addr)
	c.write(regTxBDPWrHigh, 0)
}

// SetWBTable programs the write-back table's length register.
func (c *ChannelCSR) SetWBTable(rx bool, length uint32) {
	if rx {
		c.write(regRxWrbkBufSize, length)
		return
	}
	c.write(regTxWrbkBufSize, length)
}

// EnableRX enables RX DMA and, in polling mode, the BD-poll counter.
func (c *ChannelCSR) EnableRX(pollMode bool) {
	v := c.read(regCtrl) | ctrlRxDMAEn
	if pollMode {
		v |= ctrlRxBDPPollEn
	}
	c.write(regCtrl, v)
}

// EnableTX enables TX DMA and, in polling mode, the BD-poll counter.
func (c *ChannelCSR) EnableTX(pollMode bool) {
	v := c.read(regCtrl) | ctrlTxDMAEn
	if pollMode {
		v |= ctrlTxBDPPollEn
	}
	c.write(regCtrl, v)
}

// DisableRX/DisableTX are Stop()'s building blocks.
func (c *ChannelCSR) DisableRX() { c.write(regCtrl, c.read(regCtrl)&^(ctrlRxDMAEn|ctrlRxBDPPollEn)) }
func (c *ChannelCSR) DisableTX() { c.write(regCtrl, c.read(regCtrl)&^(ctrlTxDMAEn|ctrlTxBDPPollEn)) }

// IRQMask/IRQUnmask gate the whole channel.
func (c *ChannelCSR) IRQMask()   { c.write(regIntEn, c.read(regIntEn)&^intChannelEn) }
func (c *ChannelCSR) IRQUnmask() { c.write(regIntEn, c.read(regIntEn)|intChannelEn) }

// RxIRQMask/RxIRQUnmask gate RX-CBD+RX-PKT; TxIRQMask/TxIRQUnmask gate
// TX-CBD+TX-PKT.
func (c *ChannelCSR) RxIRQMask()   { c.write(regIntEn, c.read(regIntEn)&^(intRxCBDEn|intRxPktEn)) }
func (c *ChannelCSR) RxIRQUnmask() { c.write(regIntEn, c.read(regIntEn)|intRxCBDEn|intRxPktEn) }
func (c *ChannelCSR) TxIRQMask()   { c.write(regIntEn, c.read(regIntEn)&^(intTxCBDEn|intTxPktEn)) }
func (c *ChannelCSR) TxIRQUnmask() { c.write(regIntEn, c.read(regIntEn)|intTxCBDEn|intTxPktEn) }

// ISR reads the source register, masks all sources, ACKs by writing the
// source register back, re-enables the non-triggered bits, and classifies
// the triggered bits into RX, TX and a permanently-suppressed erratum set.
func (c *ChannelCSR) ISR() ISREvents {
	src := c.read(regIntSrc)
	en := c.read(regIntEn)

	c.write(regIntEn, 0)
	c.write(regIntSrc, src) // ack by write-back

	newErrata := src & erratumMask &^ c.maskedErrata
	c.maskedErrata |= newErrata

	reenable := en &^ src
	reenable |= en & src &^ erratumMask // bits that triggered but aren't erratum bits are re-enabled here too
	c.write(regIntEn, reenable&^c.maskedErrata)

	if newErrata != 0 {
		fmtx.Logf(c.chanIdx, "permanently masking erratum interrupt sources 0x%x", newErrata)
	}

	return ISREvents{
		RX:       src&(intRxCBDEn|intRxPktEn) != 0,
		TX:       src&(intTxCBDEn|intTxPktEn) != 0,
		Timeouts: newErrata,
	}
}

// setRxIrqCoalesceRaw writes the coalesce-enable/frame-count/timer
// registers directly, bypassing the capability check -- used by Init/Fini
// to force coalescing off.
func (c *ChannelCSR) setRxIrqCoalesceRaw(frames, usecs uint32) {
	if frames == 0 && usecs == 0 {
		c.write(regIntCoalEn, 0)
		c.write(regAbsFrameCount, 0)
		c.write(regAbsIntTimer, 0)
		return
	}
	c.write(regAbsFrameCount, frames)
	c.write(regAbsIntTimer, usecs)
	c.write(regIntCoalEn, 1)
}

// SetRxIrqCoalesce programs RX interrupt coalescing. usecs is converted to
// sys-clock ticks here, with CoalesceTicks, before being stored in the
// timer register; GetRxIrqCoalesce reads back ticks, and the raw usecs
// value is kept only by Channel.SetCoalesce.
func (c *ChannelCSR) SetRxIrqCoalesce(frames, usecs, sysClkRateHz uint32) error {
	if frames == 0 && usecs == 0 {
		c.setRxIrqCoalesceRaw(0, 0)
		return nil
	}
	if frames > 0 && !c.supportsFrameCoalesce {
		return errcode.Unsupported
	}
	var ticks uint32
	if usecs > 0 {
		ticks = CoalesceTicks(usecs, sysClkRateHz)
	}
	c.write(regAbsFrameCount, frames)
	c.write(regAbsIntTimer, ticks)
	c.write(regIntCoalEn, 1)
	return nil
}

// GetRxIrqCoalesce reads back the coalescing configuration.
func (c *ChannelCSR) GetRxIrqCoalesce() (frames, ticks uint32) {
	if c.read(regIntCoalEn) == 0 {
		return 0, 0
	}
	return c.read(regAbsFrameCount), c.read(regAbsIntTimer)
}
