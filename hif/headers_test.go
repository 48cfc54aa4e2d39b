package hif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTxHeaderRoundTrip(t *testing.T) {
	h := TxHeader{Chid: 3, Flags: TxIHC | TxETS, EPhyIfs: 0xdeadbeef, EstRefNum: 0xabc}
	buf := make([]byte, TxHeaderSize)
	h.Marshal(buf)

	got := UnmarshalTxHeader(buf)
	assert.Equal(t, h, got)
}

func TestRxHeaderRoundTrip(t *testing.T) {
	h := RxHeader{Flags: RxVLAN | RxTCPv4Csum, IPhyIf: 2, RxTimestampS: 0x11223344, RxTimestampNs: 0x55667788}
	buf := make([]byte, RxHeaderSize)
	h.Marshal(buf)

	got := UnmarshalRxHeader(buf)
	assert.Equal(t, h, got)
	assert.Equal(t, uint32(0x11223344), got.VlanTag())
}

func TestRxFlagsChecksumVerified(t *testing.T) {
	assert.True(t, RxFlags(RxTCPv4Csum).ChecksumVerified())
	assert.True(t, RxFlags(RxUDPv6Csum).ChecksumVerified())
	assert.False(t, RxFlags(RxVLAN|RxPTP).ChecksumVerified())
}

func TestHeaderRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tx := TxHeader{
			Chid:      uint8(rapid.IntRange(0, 255).Draw(rt, "chid")),
			Flags:     TxFlags(rapid.IntRange(0, 63).Draw(rt, "flags")),
			EPhyIfs:   uint32(rapid.IntRange(0, int(^uint32(0)>>1)).Draw(rt, "ephyifs")),
			EstRefNum: uint16(rapid.IntRange(0, 0xffff).Draw(rt, "refnum")),
		}
		buf := make([]byte, TxHeaderSize)
		tx.Marshal(buf)
		require.Equal(rt, tx, UnmarshalTxHeader(buf))
	})
}
