package hif

import (
	"sync"
	"sync/atomic"

	"pfeng-hif/bus"
	"pfeng-hif/errcode"
	"pfeng-hif/types"
	"pfeng-hif/x/fmtx"
	"pfeng-hif/x/ring"
)

// PollMode selects whether RX/TX DMA is kicked by a trigger register write
// or left running under the BD-poll counter.
type PollMode bool

const (
	TriggerMode PollMode = false
	PollingMode PollMode = true
)

// Channel is the per-channel aggregate: the CSR region, the RX/TX rings and
// pools, an optional IHC sub-state, the physical-interface table, the TX
// serialisation lock, the lifecycle state, and the coalesce configuration.
type Channel struct {
	Index int

	csr  *ChannelCSR
	dma  TXDMA
	mode PollMode

	RX *RXPool
	TX *TXPool

	ihcTxQueue *ring.Queue[[]byte]
	IHC        *IHCClient
	ETS        *EgressTSTracker

	PhyIfs PhyIfTable

	Stats   Stats
	state   atomic.Uint32 // types.ChannelState
	refcount atomic.Int32 // >0 means the channel is shared by multiple netifs

	lockTX sync.Mutex

	coalesce     types.CoalesceConfig
	sysClkRateHz uint32

	pollPending atomic.Bool
	pollOverrun atomic.Uint64
	pollWake    chan struct{}

	busConn *bus.Connection
}

// NewChannel constructs a channel in the DISABLED state. sysClkRateHz feeds
// the usecs->ticks coalesce conversion.
func NewChannel(idx int, csr *ChannelCSR, dma TXDMA, mode PollMode, sysClkRateHz uint32, busConn *bus.Connection) *Channel {
	c := &Channel{Index: idx, csr: csr, dma: dma, mode: mode, sysClkRateHz: sysClkRateHz, busConn: busConn, pollWake: make(chan struct{}, 1), ETS: NewEgressTSTracker()}
	c.state.Store(uint32(types.ChannelDisabled))
	return c
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() types.ChannelState { return types.ChannelState(c.state.Load()) }

func (c *Channel) setState(s types.ChannelState) {
	c.state.Store(uint32(s))
	if c.busConn != nil {
		c.busConn.Publish(c.busConn.NewMessage(bus.T("hif", c.Index, "state"), s, true))
	}
}

// Shared reports whether this channel is bound to more than one netif,
// which gates whether Enqueue/DrainIHCTxWork take lock_tx.
func (c *Channel) Shared() bool { return c.refcount.Load() > 0 }

// AddNetif/RemoveNetif track the sharing refcount.
func (c *Channel) AddNetif() { c.refcount.Add(1) }
func (c *Channel) RemoveNetif() {
	if c.refcount.Load() > 0 {
		c.refcount.Add(-1)
	}
}

// Create transitions DISABLED -> REQUESTED.
func (c *Channel) Create(rxPool *RXPool, txPool *TXPool) error {
	if c.State() != types.ChannelDisabled {
		return errcode.BadState
	}
	c.RX = rxPool
	c.TX = txPool
	c.ihcTxQueue = ring.New[[]byte](ihcFifoDepth)
	c.setState(types.ChannelRequested)
	return nil
}

// Open configures IRQ affinity, pre-fills RX buffers, inits coalesce
// defaults, and starts the channel.
// cpuAffinity is the caller-supplied CPU = channel_idx % num_online_cpus
// hint; the actual IRQ-affinity syscall is outside this module's scope.
func (c *Channel) Open(cpuAffinity int, refillCount uint32) error {
	if c.State() != types.ChannelRequested {
		return errcode.BadState
	}
	_ = cpuAffinity
	c.csr.Init()
	c.csr.SetBDRingAddr(true, 0)
	c.csr.SetBDRingAddr(false, 0)
	c.RX.Refill(refillCount)
	c.coalesce = types.CoalesceConfig{}
	c.setState(types.ChannelEnabled)
	return c.Start()
}

// Start transitions ENABLED -> RUNNING by enabling RX/TX DMA and unmasking
// IRQs.
func (c *Channel) Start() error {
	if c.State() != types.ChannelEnabled {
		return errcode.BadState
	}
	c.csr.EnableRX(bool(c.mode))
	c.csr.EnableTX(bool(c.mode))
	c.csr.RxIRQUnmask()
	c.csr.TxIRQUnmask()
	c.csr.IRQUnmask()
	c.setState(types.ChannelRunning)
	return nil
}

// Stop masks all four IRQ gates then disables RX/TX DMA, and blocks until
// any in-flight poll invocation returns; it transitions RUNNING -> ENABLED.
func (c *Channel) Stop() error {
	if c.State() != types.ChannelRunning {
		return errcode.BadState
	}
	c.csr.RxIRQMask()
	c.csr.TxIRQMask()
	c.csr.IRQMask()
	c.csr.DisableRX()
	c.csr.DisableTX()
	for c.pollPending.Load() {
		// A real scheduler would park here; the poll loop clears
		// pollPending before returning, so this is a short busy-wait in
		// the absence of a condition variable.
	}
	c.setState(types.ChannelEnabled)
	return nil
}

// Suspend is Stop's name when invoked from a power-management path: the
// channel returns to ENABLED, leaving in-flight descriptors owned by
// hardware.
func (c *Channel) Suspend() error { return c.Stop() }

// Resume restores RUNNING after reprogramming ring pointers and refilling
// buffers.
func (c *Channel) Resume(refillCount uint32) error {
	if c.State() != types.ChannelEnabled {
		return errcode.BadState
	}
	c.csr.SetBDRingAddr(true, 0)
	c.csr.SetBDRingAddr(false, 0)
	c.RX.Refill(refillCount)
	return c.Start()
}

// Close stops the channel (if running), disables the CSR with Fini,
// unregisters any IHC client, and transitions ENABLED -> REQUESTED. The RX
// and TX pools stay attached to the channel; their pages and tracker
// entries are not released.
func (c *Channel) Close() error {
	if c.State() == types.ChannelRunning {
		if err := c.Stop(); err != nil {
			return err
		}
	}
	if c.State() != types.ChannelEnabled {
		return errcode.BadState
	}
	c.csr.Fini()
	if c.IHC != nil {
		c.UnregisterClient()
	}
	c.setState(types.ChannelRequested)
	return nil
}

// SetCoalesce programs RX IRQ coalescing and, on success, records the
// requested (not converted) values so GetCoalesce round-trips.
func (c *Channel) SetCoalesce(frames, usecs uint32) error {
	if err := c.csr.SetRxIrqCoalesce(frames, usecs, c.sysClkRateHz); err != nil {
		return err
	}
	c.coalesce = types.CoalesceConfig{Frames: frames, Usecs: usecs}
	return nil
}

// GetCoalesce returns the last successfully applied coalesce
// configuration.
func (c *Channel) GetCoalesce() types.CoalesceConfig { return c.coalesce }

// logGlobalError logs a HIF-global error (FIFO over/underrun, bus error),
// which is one-shot disabled at the CSR layer by the caller.
func (c *Channel) logGlobalError(source uint32) {
	c.Stats.GlobalErrors.Add(1)
	fmtx.Logf(-1, "hif global error on channel %d, source=0x%x", c.Index, source)
}
