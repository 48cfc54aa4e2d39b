package hif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfeng-hif/errcode"
	"pfeng-hif/types"
	"pfeng-hif/x/ring"
)

// attachIHCClientNoWorkqueue wires c.IHC directly without starting the
// background workqueue goroutine, so tests can inspect rxFifo/txConfFifo
// contents synchronously instead of racing the goroutine that otherwise
// drains them on every wake.
func attachIHCClientNoWorkqueue(c *Channel) *IHCClient {
	cl := &IHCClient{
		chanIdx:    c.Index,
		rxFifo:     ring.New[IHCRxEntry](ihcFifoDepth),
		txConfFifo: ring.New[[]byte](ihcFifoDepth),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	c.IHC = cl
	return cl
}

func TestBuildIHCFramePadsToMinimumLength(t *testing.T) {
	frame := buildIHCFrame(2, types.PhyIfHIF1, []byte("hi"))
	assert.Len(t, frame, IHCMinFrameLen)

	hdr := UnmarshalTxHeader(frame[:TxHeaderSize])
	assert.Equal(t, uint8(2), hdr.Chid)
	assert.True(t, hdr.Flags.Has(TxIHC))
	assert.True(t, hdr.Flags.Has(TxInject))
	assert.Equal(t, types.PhyIfHIF1.Bitmap(), hdr.EPhyIfs)
}

func TestBuildIHCFrameDoesNotPadOversizedPayload(t *testing.T) {
	payload := make([]byte, 200)
	frame := buildIHCFrame(0, types.PhyIfHIF0, payload)
	assert.Len(t, frame, TxHeaderSize+len(payload))
}

func TestSendIHCDrainAndConfirmLoopback(t *testing.T) {
	c, _, _ := newTestChannelFull(t, 8)
	require.NoError(t, c.Open(0, 7))
	attachIHCClientNoWorkqueue(c)

	// Sized to exactly fill IHCMinFrameLen past the TX header, so the padded
	// frame round-trips to body bytes identical to payload.
	payload := make([]byte, IHCMinFrameLen-TxHeaderSize)
	copy(payload, "ihc loopback payload")
	require.NoError(t, c.SendIHC(types.PhyIfHIF2, payload))

	n := c.DrainIHCTxWork()
	assert.Equal(t, 1, n)
	assert.Equal(t, uint32(1), c.TX.ring.WrIdx())

	c.TX.ring.MarkHWDone(0)
	c.Poll(&fakeSink{}, 10)

	body, ok := c.IHC.txConfFifo.TryPop()
	require.True(t, ok, "the confirmed IHC frame's payload must reach the txconf FIFO")
	assert.Equal(t, payload, body, "the TX header is stripped before handing the payload to the IHC client")
}

func TestSendIHCReturnsFIFOFullWhenQueueSaturated(t *testing.T) {
	c, _, _ := newTestChannelFull(t, 8)
	for i := 0; i < c.ihcTxQueue.Cap(); i++ {
		require.NoError(t, c.SendIHC(types.PhyIfHIF0, []byte("x")))
	}
	err := c.SendIHC(types.PhyIfHIF0, []byte("overflow"))
	assert.ErrorIs(t, err, errcode.FIFOFull)
	assert.Equal(t, uint64(1), c.Stats.IHCTxDropped.Load())
}

func TestDispatchIHCRXEnqueues(t *testing.T) {
	c, _, _ := newTestChannelFull(t, 8)
	attachIHCClientNoWorkqueue(c)

	pkt := &Packet{Frags: [][]byte{[]byte("hello")}, Header: RxHeader{IPhyIf: uint8(types.PhyIfHIF0)}}
	c.DispatchIHCRX(pkt)

	entry, ok := c.IHC.rxFifo.TryPop()
	require.True(t, ok)
	assert.Equal(t, "hello", string(entry.Data))
	assert.Equal(t, types.PhyIfHIF0, entry.PhyIf)
}

func TestDispatchIHCRXNoopWithoutRegisteredClient(t *testing.T) {
	c, _, _ := newTestChannelFull(t, 8)
	pkt := &Packet{Frags: [][]byte{[]byte("hello")}}
	assert.NotPanics(t, func() { c.DispatchIHCRX(pkt) })
}

func TestDispatchIHCRXDropsWhenFIFOFull(t *testing.T) {
	c, _, _ := newTestChannelFull(t, 8)
	attachIHCClientNoWorkqueue(c)

	for i := 0; i < ihcFifoDepth; i++ {
		c.DispatchIHCRX(&Packet{Frags: [][]byte{[]byte("x")}})
	}
	c.DispatchIHCRX(&Packet{Frags: [][]byte{[]byte("overflow")}})
	assert.Equal(t, uint64(1), c.Stats.IHCRxDropped.Load())
}
