package hif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"pfeng-hif/errcode"
	"pfeng-hif/hif/mmio"
)

func newTestCSR(supportsFrameCoalesce bool) *ChannelCSR {
	return NewChannelCSR(mmio.NewFake(), 0, supportsFrameCoalesce)
}

func TestCSRInitUnmasksOnlyErrata(t *testing.T) {
	c := newTestCSR(true)
	c.Init()
	assert.Equal(t, uint32(erratumMask), c.read(regIntEn), "structural status sources unmasked, everything else stays masked")
}

func TestCSREnableRXSetsPollBitInPollingMode(t *testing.T) {
	c := newTestCSR(true)
	c.EnableRX(true)
	assert.Equal(t, ctrlRxDMAEn|ctrlRxBDPPollEn, c.read(regCtrl))
	c.DisableRX()
	assert.Equal(t, uint32(0), c.read(regCtrl))
}

func TestCSRIRQMaskUnmaskRoundTrip(t *testing.T) {
	c := newTestCSR(true)
	c.IRQUnmask()
	c.RxIRQUnmask()
	c.TxIRQUnmask()
	assert.Equal(t, intChannelEn|intRxCBDEn|intRxPktEn|intTxCBDEn|intTxPktEn, c.read(regIntEn))

	c.RxIRQMask()
	assert.Equal(t, intChannelEn|intTxCBDEn|intTxPktEn, c.read(regIntEn))
}

func TestISRClassifiesRXAndTXAndReenablesUntriggered(t *testing.T) {
	c := newTestCSR(true)
	c.write(regIntEn, intChannelEn|intRxCBDEn|intRxPktEn|intTxCBDEn|intTxPktEn)
	c.write(regIntSrc, intRxPktEn) // hardware signals only an RX-PKT event

	ev := c.ISR()
	assert.True(t, ev.RX)
	assert.False(t, ev.TX)
	assert.Equal(t, uint32(0), ev.Timeouts)

	// non-erratum sources are restored exactly as they stood in INT_EN
	// before the call, triggered or not; actually masking RX/TX while a
	// poll is in flight is Poll's job, not ISR's.
	assert.Equal(t, intChannelEn|intRxCBDEn|intRxPktEn|intTxCBDEn|intTxPktEn, c.read(regIntEn))
	assert.Equal(t, intRxPktEn, c.read(regIntSrc), "ISR acks by writing the observed source bits back to INT_SRC")
}

func TestISRMasksErratumSourcePermanently(t *testing.T) {
	c := newTestCSR(true)
	c.write(regIntEn, erratumMask)
	c.write(regIntSrc, intBDPRdRxTimeout)

	ev := c.ISR()
	require.Equal(t, intBDPRdRxTimeout, ev.Timeouts)
	assert.Equal(t, erratumMask&^uint32(intBDPRdRxTimeout), c.read(regIntEn), "every other structural source stays enabled, the newly observed erratum bit does not come back")

	// A second occurrence of the same bit must not be reported again.
	c.write(regIntEn, erratumMask)
	c.write(regIntSrc, intBDPRdRxTimeout)
	ev = c.ISR()
	assert.Equal(t, uint32(0), ev.Timeouts, "already-masked erratum bit is not newly observed twice")
}

func TestSetRxIrqCoalesceFrameCountGatedByCapability(t *testing.T) {
	c := newTestCSR(false)
	err := c.SetRxIrqCoalesce(4, 0, 200_000_000)
	assert.ErrorIs(t, err, errcode.Unsupported)

	require.NoError(t, c.SetRxIrqCoalesce(0, 100, 200_000_000))
	frames, ticks := c.GetRxIrqCoalesce()
	assert.Equal(t, uint32(0), frames)
	assert.Equal(t, CoalesceTicks(100, 200_000_000), ticks)
}

// TestRxIrqCoalesceRoundTripsArbitraryValues checks set-then-get round
// trips an arbitrary (frames, usecs) pair exactly, modulo CoalesceTicks'
// usec->tick rounding, and that (0,0) always disables coalescing entirely.
func TestRxIrqCoalesceRoundTripsArbitraryValues(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := newTestCSR(true)
		sysClk := uint32(200_000_000)

		frames := rapid.Uint32Range(0, 1<<16).Draw(rt, "frames")
		usecs := rapid.Uint32Range(0, 1<<20).Draw(rt, "usecs")

		require.NoError(rt, c.SetRxIrqCoalesce(frames, usecs, sysClk))
		gotFrames, gotTicks := c.GetRxIrqCoalesce()

		if frames == 0 && usecs == 0 {
			require.Equal(rt, uint32(0), gotFrames)
			require.Equal(rt, uint32(0), gotTicks)
			return
		}
		require.Equal(rt, frames, gotFrames)
		require.Equal(rt, CoalesceTicks(usecs, sysClk), gotTicks)

		require.NoError(rt, c.SetRxIrqCoalesce(0, 0, sysClk))
		gotFrames, gotTicks = c.GetRxIrqCoalesce()
		require.Equal(rt, uint32(0), gotFrames)
		require.Equal(rt, uint32(0), gotTicks)
	})
}

func TestSetRxIrqCoalesceDisableClearsRegisters(t *testing.T) {
	c := newTestCSR(true)
	require.NoError(t, c.SetRxIrqCoalesce(4, 100, 200_000_000))
	frames, _ := c.GetRxIrqCoalesce()
	require.Equal(t, uint32(4), frames)

	require.NoError(t, c.SetRxIrqCoalesce(0, 0, 200_000_000))
	frames, ticks := c.GetRxIrqCoalesce()
	assert.Equal(t, uint32(0), frames)
	assert.Equal(t, uint32(0), ticks)
}
