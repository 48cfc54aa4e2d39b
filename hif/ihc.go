package hif

import (
	"sync"

	"pfeng-hif/bus"
	"pfeng-hif/errcode"
	"pfeng-hif/types"
	"pfeng-hif/x/fmtx"
	"pfeng-hif/x/ring"
)

// ihcFifoDepth bounds the two IHC FIFOs.
const ihcFifoDepth = 64

// IHCRxEntry is the small metadata object enqueued into ihc_rx_fifo when an
// RX frame carries the IHC flag.
type IHCRxEntry struct {
	Data  []byte
	PhyIf types.PhyIfID
}

// IHCClient is the per-channel IHC sub-state: two bounded SPSC FIFOs and an
// event callback. Exactly one exists per channel, and at most one channel
// per system is designated IHC.
type IHCClient struct {
	chanIdx int
	conn    *bus.Connection

	rxFifo     *ring.Queue[IHCRxEntry]
	txConfFifo *ring.Queue[[]byte]

	onEvent func(types.IHCEvent)

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// RegisterClient wires an event callback into the channel's IHC sub-state
// and starts its workqueue goroutine. When the channel was built with a
// bus connection, each dispatched event is also published on it as a
// retained message on hif/<idx>/ihc/event.
func (c *Channel) RegisterClient(onEvent func(types.IHCEvent)) *IHCClient {
	cl := &IHCClient{
		chanIdx:    c.Index,
		conn:       c.busConn,
		rxFifo:     ring.New[IHCRxEntry](ihcFifoDepth),
		txConfFifo: ring.New[[]byte](ihcFifoDepth),
		onEvent:    onEvent,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	cl.wg.Add(1)
	go cl.workqueue()
	c.IHC = cl
	return cl
}

// UnregisterClient drains both FIFOs and stops the workqueue. A non-empty
// fill level at teardown is logged but not fatal.
func (c *Channel) UnregisterClient() {
	if c.IHC == nil {
		return
	}
	cl := c.IHC
	close(cl.stop)
	cl.wg.Wait()
	if n := cl.rxFifo.Len(); n > 0 {
		fmtx.Logf(c.Index, "ihc unregister: rx fifo not empty, %d entries dropped", n)
	}
	if n := cl.txConfFifo.Len(); n > 0 {
		fmtx.Logf(c.Index, "ihc unregister: txconf fifo not empty, %d entries dropped", n)
	}
	c.IHC = nil
}

func (cl *IHCClient) schedule() {
	select {
	case cl.wake <- struct{}{}:
	default:
	}
}

// workqueue is the ordered, single-thread-per-instance IHC worker. On each
// wake it pops every queued entry from both FIFOs and invokes the client's
// event handler once per popped entry (EventRxPktInd for the rx FIFO,
// EventTxDoneInd for the txconf FIFO); the entries themselves are not
// passed to the handler.
func (cl *IHCClient) workqueue() {
	defer cl.wg.Done()
	for {
		select {
		case <-cl.stop:
			return
		case <-cl.wake:
		}
		for cl.rxFifo.Len() > 0 {
			if _, ok := cl.rxFifo.TryPop(); ok {
				cl.notify(types.EventRxPktInd)
			}
		}
		for cl.txConfFifo.Len() > 0 {
			if _, ok := cl.txConfFifo.TryPop(); ok {
				cl.notify(types.EventTxDoneInd)
			}
		}
	}
}

func (cl *IHCClient) notify(ev types.IHCEvent) {
	if cl.onEvent != nil {
		cl.onEvent(ev)
	}
	if cl.conn != nil {
		cl.conn.Publish(cl.conn.NewMessage(bus.T("hif", cl.chanIdx, "ihc", "event"), ev, true))
	}
}

// buildIHCFrame wraps payload in a TX header with IHC|INJECT set and pads
// the result to IHCMinFrameLen bytes.
func buildIHCFrame(chid uint8, dstPhy types.PhyIfID, payload []byte) []byte {
	total := TxHeaderSize + len(payload)
	if total < IHCMinFrameLen {
		total = IHCMinFrameLen
	}
	frame := make([]byte, total)
	hdr := TxHeader{Chid: chid, Flags: TxIHC | TxInject, EPhyIfs: dstPhy.Bitmap()}
	hdr.Marshal(frame[:TxHeaderSize])
	copy(frame[TxHeaderSize:], payload)
	return frame
}

// SendIHC copies payload into a TX-header-prefixed, padded frame, drops it
// into the channel's bounded IHC TX producer FIFO, and wakes the IHC
// client workqueue. That workqueue services only the rx and txconf FIFOs;
// queued frames reach the TX ring only when DrainIHCTxWork is called.
// Returns errcode.FIFOFull if the producer FIFO is saturated.
func (c *Channel) SendIHC(dstPhy types.PhyIfID, payload []byte) error {
	frame := buildIHCFrame(uint8(c.Index), dstPhy, payload)
	if !c.ihcTxQueue.TryPush(frame) {
		c.Stats.IHCTxDropped.Add(1)
		return errcode.FIFOFull
	}
	c.scheduleIHCTxWork()
	return nil
}

// DrainIHCTxWork is the IHC TX worker's body: holding lock_tx when the
// channel is shared, it pops queued frames, writes tracker entries flagged
// IHC, and publishes them on the TX descriptor ring. It returns the number
// of frames actually enqueued.
func (c *Channel) DrainIHCTxWork() int {
	if c.Shared() {
		c.lockTX.Lock()
		defer c.lockTX.Unlock()
	}
	n := 0
	for {
		frame, ok := c.ihcTxQueue.TryPop()
		if !ok {
			break
		}
		if c.TX.ring.Unused() == 0 {
			c.Stats.TxDropped.Add(1)
			continue
		}
		pa, err := c.dma.DMAMapSingle(frame)
		if err != nil {
			c.Stats.TxDropped.Add(1)
			continue
		}
		owner := &ihcOwner{client: c.IHC, frame: frame}
		c.TX.PutMapFrag(pa, uint32(len(frame)), owner, TrackIHC, 0)
		c.TX.ring.EnqueueAt(0, pa, uint16(len(frame)), true)
		c.TX.UpdateWrIdx(1)
		n++
	}
	return n
}

func (c *Channel) scheduleIHCTxWork() {
	if c.IHC != nil {
		c.IHC.schedule()
	}
}

// ihcOwner satisfies TXOwner for an IHC frame: a single-slot, single-
// fragment mapping whose release is a no-op since the frame buffer was a
// throwaway copy, not a stack-owned packet.
type ihcOwner struct {
	client *IHCClient
	frame  []byte
}

func (o *ihcOwner) NumFrags() int   { return 0 }
func (o *ihcOwner) Release()        {}
func (o *ihcOwner) Payload() []byte { return o.frame }

// DispatchIHCRX is called by the RX drain when a received frame's header
// has the IHC flag set. It builds the small metadata object and enqueues
// it into ihc_rx_fifo, waking the workqueue.
func (c *Channel) DispatchIHCRX(pkt *Packet) {
	if c.IHC == nil || len(pkt.Frags) == 0 {
		return
	}
	entry := IHCRxEntry{Data: pkt.Frags[0], PhyIf: types.PhyIfID(pkt.Header.IPhyIf)}
	if !c.IHC.rxFifo.TryPush(entry) {
		c.Stats.IHCRxDropped.Add(1)
		fmtx.Logf(c.Index, "ihc rx fifo full, dropping frame")
		return
	}
	c.IHC.schedule()
}

// noteIHCTxConf is called by the TX-confirm drain for every confirmed
// frame whose tracker flag is IHC: it captures the payload past the TX
// header and enqueues a copy into the IHC client's txconf FIFO.
func (c *Channel) noteIHCTxConf(payload []byte) {
	if c.IHC == nil {
		return
	}
	body := append([]byte(nil), payload...)
	if !c.IHC.txConfFifo.TryPush(body) {
		c.Stats.IHCTxDropped.Add(1)
		fmtx.Logf(c.Index, "ihc txconf fifo full, dropping confirmation")
		return
	}
	c.IHC.schedule()
}
