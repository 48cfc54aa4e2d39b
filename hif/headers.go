// Package hif implements the host side of the PFE HIF datapath: descriptor
// rings, the bman buffer pools, the channel CSR contract, the cooperative
// poll loop, the channel ISR, TX scatter/gather enqueue and the IHC
// transport.
package hif

import "encoding/binary"

// Wire-format sizes.
const (
	TxHeaderSize = 8
	RxHeaderSize = 20

	// RxTimestampSOffset is the fixed byte offset of rx_timestamp_s inside
	// the RX header. RxHeader.Marshal and UnmarshalRxHeader place the field
	// here, and VlanTag reads the erratum's VLAN tag from it.
	RxTimestampSOffset = 12

	VlanHLen = 4

	// IHCMinFrameLen is the minimum padded size of an IHC TX frame body.
	IHCMinFrameLen = 68
)

// TxFlags is the HIF TX header flags bitfield.
type TxFlags uint8

const (
	TxIHC TxFlags = 1 << iota
	TxInject
	TxIPCsum
	TxTCPCsum
	TxUDPCsum
	TxETS
)

func (f TxFlags) Has(bit TxFlags) bool { return f&bit != 0 }

// RxFlags is the HIF RX header flags bitfield.
type RxFlags uint16

const (
	RxIHC RxFlags = 1 << iota
	RxTS
	RxETS
	RxPTP
	RxUDPv4Csum
	RxTCPv4Csum
	RxUDPv6Csum
	RxTCPv6Csum
	RxVLAN
)

func (f RxFlags) Has(bit RxFlags) bool { return f&bit != 0 }

// ChecksumVerified reports whether any of the four L4-checksum-verified
// bits is set.
func (f RxFlags) ChecksumVerified() bool {
	return f&(RxUDPv4Csum|RxTCPv4Csum|RxUDPv6Csum|RxTCPv6Csum) != 0
}

// TxHeader is the 8-byte prefix written ahead of every transmitted frame
//
//	byte 0    chid
//	byte 1    flags
//	byte 2-5  e_phy_ifs (big-endian)
//	byte 6-7  est_ref_num (big-endian)
type TxHeader struct {
	Chid      uint8
	Flags     TxFlags
	EPhyIfs   uint32
	EstRefNum uint16
}

// Marshal writes the header's wire form into dst, which must be at least
// TxHeaderSize bytes.
func (h TxHeader) Marshal(dst []byte) {
	_ = dst[TxHeaderSize-1]
	dst[0] = h.Chid
	dst[1] = uint8(h.Flags)
	binary.BigEndian.PutUint32(dst[2:6], h.EPhyIfs)
	binary.BigEndian.PutUint16(dst[6:8], h.EstRefNum)
}

// UnmarshalTxHeader parses a TxHeader from its wire form.
func UnmarshalTxHeader(src []byte) TxHeader {
	_ = src[TxHeaderSize-1]
	return TxHeader{
		Chid:      src[0],
		Flags:     TxFlags(src[1]),
		EPhyIfs:   binary.BigEndian.Uint32(src[2:6]),
		EstRefNum: binary.BigEndian.Uint16(src[6:8]),
	}
}

// RxHeader is the 20-byte prefix found on every received frame
//
//	byte 0-1   flags (big-endian)
//	byte 2     i_phy_if
//	byte 3-11  reserved/padding
//	byte 12-15 rx_timestamp_s (big-endian) -- or an overloaded VLAN tag
//	byte 16-19 rx_timestamp_ns (big-endian)
type RxHeader struct {
	Flags         RxFlags
	IPhyIf        uint8
	RxTimestampS  uint32
	RxTimestampNs uint32
}

// Marshal writes the header's wire form into dst, which must be at least
// RxHeaderSize bytes.
func (h RxHeader) Marshal(dst []byte) {
	_ = dst[RxHeaderSize-1]
	for i := range dst[:RxHeaderSize] {
		dst[i] = 0
	}
	binary.BigEndian.PutUint16(dst[0:2], uint16(h.Flags))
	dst[2] = h.IPhyIf
	binary.BigEndian.PutUint32(dst[RxTimestampSOffset:RxTimestampSOffset+4], h.RxTimestampS)
	binary.BigEndian.PutUint32(dst[16:20], h.RxTimestampNs)
}

// UnmarshalRxHeader parses an RxHeader from its wire form. src must be at
// least RxHeaderSize bytes.
func UnmarshalRxHeader(src []byte) RxHeader {
	_ = src[RxHeaderSize-1]
	return RxHeader{
		Flags:         RxFlags(binary.BigEndian.Uint16(src[0:2])),
		IPhyIf:        src[2],
		RxTimestampS:  binary.BigEndian.Uint32(src[RxTimestampSOffset : RxTimestampSOffset+4]),
		RxTimestampNs: binary.BigEndian.Uint32(src[16:20]),
	}
}

// VlanTag extracts the overloaded VLAN tag carried in RxTimestampS when the
// VLAN-insertion erratum is signalled for this frame.
func (h RxHeader) VlanTag() uint32 { return h.RxTimestampS }
