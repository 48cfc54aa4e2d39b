package hif

import (
	"errors"

	"pfeng-hif/x/fmtx"
	"pfeng-hif/x/mathx"
)

// Page is the allocator's unit of RX memory: twice the usable RX buffer
// size, so a single page is split into two half-page buffers and can be
// recycled by toggling the offset.
type Page struct {
	buf      []byte
	refcount int32
	// lowMem marks a page drawn from a reserve the pool must not recycle
	// back into normal circulation.
	lowMem bool
}

// NewPage wraps buf as a page with a single reference, for PageAllocator
// implementations backed by plain heap memory (tests, and cmd/pfengd
// without real hardware).
func NewPage(buf []byte) *Page { return &Page{buf: buf, refcount: 1} }

// PageAllocator obtains and releases DMA-capable RX pages. A real platform
// backs this with the kernel page allocator plus the IOMMU/SMMU mapping
// call; tests back it with plain heap slices.
type PageAllocator interface {
	AllocPage(size int) (*Page, error)
	DMAMapPage(p *Page) (dmaAddr uint64, err error)
	DMAUnmapPage(p *Page, dmaAddr uint64)
	DMASyncForDevice(dmaAddr uint64, offset, length int)
	FreePage(p *Page)
}

// RXBufMap is one RX ring slot's bookkeeping: the DMA address, the backing
// page, and the half-page offset into it.
type RXBufMap struct {
	dma    uint64
	page   *Page
	offset int
}

// RXPool is the per-channel RX side of bman: a page pool with DMA mapping
// and half-page recycling.
type RXPool struct {
	alloc PageAllocator
	ring  *Ring

	pageSize  int // twice DMASize
	dmaSize   int // usable half-page buffer length
	pad       int // headroom reserved ahead of the payload
	refillLow uint32

	rxTbl []RXBufMap

	wrIdx    uint32
	allocIdx uint32

	chanIdx int
}

// NewRXPool constructs the RX pool for one channel. depth must match the
// RX descriptor ring's length.
func NewRXPool(chanIdx int, ring *Ring, alloc PageAllocator, depth uint32, dmaSize, pad int, refillThreshold uint32) *RXPool {
	return &RXPool{
		alloc:     alloc,
		ring:      ring,
		pageSize:  2 * dmaSize,
		dmaSize:   dmaSize,
		pad:       pad,
		refillLow: refillThreshold,
		rxTbl:     make([]RXBufMap, depth),
		chanIdx:   chanIdx,
	}
}

func (p *RXPool) mask() uint32 { return uint32(len(p.rxTbl)) - 1 }

// allocAndMap obtains a page from the DMA-capable region, maps it whole for
// device read, and sets offset = pad to leave stack headroom.
func (p *RXPool) allocAndMap(slot uint32) error {
	pg, err := p.alloc.AllocPage(p.pageSize)
	if err != nil {
		return err
	}
	dma, err := p.alloc.DMAMapPage(pg)
	if err != nil {
		return err
	}
	p.rxTbl[slot] = RXBufMap{dma: dma, page: pg, offset: p.pad}
	return nil
}

// Refill publishes up to count half-page buffers starting at wrIdx,
// allocating+mapping any slot that does not already hold a page. It stops
// at the first allocation failure and returns the number of slots
// actually published.
func (p *RXPool) Refill(count uint32) uint32 {
	var done uint32
	for ; done < count; done++ {
		slot := (p.wrIdx + done) & p.mask()
		m := &p.rxTbl[slot]
		if m.page == nil {
			if err := p.allocAndMap(slot); err != nil {
				break
			}
			m = &p.rxTbl[slot]
		}
		if err := p.ring.Enqueue(m.dma+uint64(m.offset), uint16(p.dmaSize), false); err != nil {
			break
		}
		p.ring.MarkHWOwned(p.wrIdx + done)
	}
	p.wrIdx += done
	p.allocIdx = p.wrIdx
	return done
}

// FreeSlots reports how many RX descriptor slots are free on the ring
// (Ring.Unused), used by the poll loop to decide whether a refill is due.
func (p *RXPool) FreeSlots() uint32 {
	return p.ring.Unused()
}

// RefillThreshold returns the configured low-water mark.
func (p *RXPool) RefillThreshold() uint32 { return p.refillLow }

// putRxBuff decides whether the page backing map is reusable (exactly one
// reference, not drawn from the low-memory reserve): if so it toggles the
// half-page offset, bumps the refcount, republishes the entry at allocIdx,
// and DMA-syncs the half now owned by the device; otherwise it unmaps the
// page entirely.
func (p *RXPool) putRxBuff(m RXBufMap) {
	if !m.page.lowMem && m.page.refcount == 1 {
		m.offset ^= p.dmaSize
		m.page.refcount++
		p.rxTbl[p.allocIdx&p.mask()] = m
		p.alloc.DMASyncForDevice(m.dma, m.offset, p.dmaSize)
		p.allocIdx++
		return
	}
	p.alloc.DMAUnmapPage(m.page, m.dma)
	p.alloc.FreePage(m.page)
}

// Packet is a received frame handed up to the stack or the IHC dispatcher:
// an RX header plus one or more page-backed fragments.
type Packet struct {
	Header RxHeader
	Frags  [][]byte
	// VLANTag holds the VLAN tag recovered from the overloaded
	// rx_timestamp_s field when the VLAN-insertion erratum relocation
	// applies; zero otherwise.
	VLANTag uint32
	// StackRef models the upper layer's reference on the first fragment's
	// backing page. ReceivePkt does not read it: putRxBuff decides recycling
	// from the page's own refcount.
	StackRef func() int32
}

// PacketSink builds the stack-facing packet object from one or more
// page-backed byte slices. Returning an error simulates the per-packet
// allocator failing mid-frame.
type PacketSink interface {
	NewPacket(first []byte) (*Packet, error)
	AppendFrag(pkt *Packet, frag []byte)
}

// ErrOOMDropped is returned by ReceivePkt when the stack-side packet
// allocator failed mid-frame: the frame (all of its descriptors, through
// its LIFM) has already been consumed and its pages released.
var ErrOOMDropped = errors.New("hif: rx packet dropped, allocator out of memory")

// ReceivePkt consumes one complete frame from the RX ring, recycling or
// releasing pages as it goes.
func (p *RXPool) ReceivePkt(sink PacketSink) (*Packet, error) {
	if p.FreeSlots() > p.refillLow {
		p.Refill(p.refillLow)
	}

	var pkt *Packet
	var hdr RxHeader
	dropped := false
	for {
		_, length, lifm, err := p.ring.DequeueRX()
		if err != nil {
			return nil, err
		}
		slot := (p.ring.RdIdx() - 1) & p.mask()
		m := p.rxTbl[slot]
		frag := m.page.buf[m.offset : m.offset+int(length)]

		switch {
		case dropped:
			p.oomDrop(m)
		case pkt == nil:
			if len(frag) < RxHeaderSize {
				p.oomDrop(m)
				dropped = true
				break
			}
			hdr = UnmarshalRxHeader(frag[:RxHeaderSize])
			np, err := sink.NewPacket(frag[RxHeaderSize:])
			if err != nil {
				p.oomDrop(m)
				dropped = true
			} else {
				pkt = np
				p.putRxBuff(m)
			}
		default:
			sink.AppendFrag(pkt, frag)
			p.putRxBuff(m)
		}

		if lifm {
			break
		}
	}
	if pkt != nil {
		pkt.Header = hdr
	}
	if dropped {
		return nil, ErrOOMDropped
	}
	return pkt, nil
}

// oomDrop unmaps and releases the offending page when the stack-side
// packet allocation fails; the ring's consumer index has already advanced
// in DequeueRX, keeping it aligned with hardware.
func (p *RXPool) oomDrop(m RXBufMap) {
	p.alloc.DMAUnmapPage(m.page, m.dma)
	p.alloc.FreePage(m.page)
	fmtx.Logf(p.chanIdx, "rx buffer dropped: packet allocation failed")
}

// CoalesceTicks converts a microsecond coalesce window into sys-clock
// ticks : usecs * DIV_ROUND_UP(sys_clk_rate_hz, 1e6).
func CoalesceTicks(usecs, sysClkRateHz uint32) uint32 {
	return usecs * mathx.CeilDiv(sysClkRateHz, uint32(1_000_000))
}
