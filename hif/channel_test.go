package hif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfeng-hif/errcode"
	"pfeng-hif/hif/mmio"
	"pfeng-hif/types"
)

func newTestChannelFull(t *testing.T, ringDepth uint32) (*Channel, *fakeTXDMA, *fakePageAlloc) {
	t.Helper()
	dma := newFakeTXDMA()
	alloc := newFakePageAlloc()
	csr := NewChannelCSR(mmio.NewFake(), 0, true)
	c := NewChannel(0, csr, dma, TriggerMode, 200_000_000, nil)

	rxRing := NewRing(ringDepth)
	txRing := NewRing(ringDepth)
	rxPool := NewRXPool(0, rxRing, alloc, ringDepth, 2048, 128, ringDepth/2)
	txPool := NewTXPool(txRing, dma, ringDepth)
	require.NoError(t, c.Create(rxPool, txPool))
	return c, dma, alloc
}

func TestChannelLifecycleHappyPath(t *testing.T) {
	c, _, _ := newTestChannelFull(t, 8)
	assert.Equal(t, types.ChannelRequested, c.State())

	require.NoError(t, c.Open(0, 4))
	assert.Equal(t, types.ChannelRunning, c.State())

	require.NoError(t, c.Stop())
	assert.Equal(t, types.ChannelEnabled, c.State())

	require.NoError(t, c.Start())
	assert.Equal(t, types.ChannelRunning, c.State())

	require.NoError(t, c.Suspend())
	assert.Equal(t, types.ChannelEnabled, c.State())

	require.NoError(t, c.Resume(4))
	assert.Equal(t, types.ChannelRunning, c.State())

	require.NoError(t, c.Close())
	assert.Equal(t, types.ChannelRequested, c.State())
}

func TestChannelIllegalTransitionsRejected(t *testing.T) {
	c, _, _ := newTestChannelFull(t, 8)

	assert.ErrorIs(t, c.Start(), errcode.BadState, "cannot Start before Open")
	assert.ErrorIs(t, c.Stop(), errcode.BadState, "cannot Stop a non-running channel")

	require.NoError(t, c.Open(0, 4))
	assert.ErrorIs(t, c.Open(0, 4), errcode.BadState, "cannot Open twice")

	c2 := NewChannel(1, nil, nil, TriggerMode, 200_000_000, nil)
	require.NoError(t, c2.Create(nil, nil), "DISABLED -> REQUESTED always succeeds once")
	assert.ErrorIs(t, c2.Create(nil, nil), errcode.BadState, "cannot Create twice")
}

func TestChannelOpenRefillsRXBuffers(t *testing.T) {
	c, _, alloc := newTestChannelFull(t, 8)
	require.NoError(t, c.Open(0, 7))
	assert.Equal(t, uint32(0), c.RX.FreeSlots(), "refillCount matching ring capacity fills every usable slot")
	assert.Equal(t, 0, alloc.unmaps)
}

func TestChannelCoalesceRoundTrip(t *testing.T) {
	c, _, _ := newTestChannelFull(t, 8)
	require.NoError(t, c.SetCoalesce(4, 100))
	got := c.GetCoalesce()
	assert.Equal(t, uint32(4), got.Frames)
	assert.Equal(t, uint32(100), got.Usecs)
}

func TestChannelCoalesceRejectsUnsupportedFrameCount(t *testing.T) {
	csr := NewChannelCSR(mmio.NewFake(), 0, false)
	c := NewChannel(0, csr, newFakeTXDMA(), TriggerMode, 200_000_000, nil)
	err := c.SetCoalesce(4, 0)
	assert.ErrorIs(t, err, errcode.Unsupported)
	assert.True(t, c.GetCoalesce().Disabled(), "a rejected SetCoalesce must not update the stored configuration")
}
