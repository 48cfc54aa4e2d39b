package hif

// TrackKind distinguishes a normal netdev TX frame from an IHC control
// frame at confirm time.
type TrackKind uint8

const (
	TrackNormal TrackKind = iota
	TrackIHC
)

// TXOwner is the stack-side packet a head tracker slot points back to. Its
// Release is invoked once every fragment of the frame has been unmapped.
type TXOwner interface {
	NumFrags() int
	Release()
}

// TXUnmapper performs the two distinct DMA-unmap shapes the TX confirm
// path needs: a "single" mapping for the linear head and a "page" mapping
// for each fragment.
type TXUnmapper interface {
	DMAUnmapSingle(pa uint64, size uint32)
	DMAUnmapPage(pa uint64, size uint32)
}

// TXTrackEntry is one TX ring slot's bookkeeping: the DMA address, mapped
// length, an owner reference non-nil only on the frame's linear-head slot,
// and the NORMAL/IHC flag byte.
type TXTrackEntry struct {
	pa    uint64
	size  uint32
	owner TXOwner
	kind  TrackKind
}

// Populated reports whether this slot carries a live mapping.
func (e TXTrackEntry) Populated() bool { return e.pa != 0 && e.size != 0 }

// TXPool is the per-channel TX side of bman: a tracker vector indexed by
// the same mask as the TX BD ring. It deliberately keeps no index state of
// its own -- wr_idx/rd_idx live on the ring, which is the single source of
// truth both sides must agree on.
type TXPool struct {
	ring  *Ring
	unmap TXUnmapper
	tbl   []TXTrackEntry
}

// NewTXPool constructs the TX pool for one channel. depth must match the
// TX descriptor ring's length.
func NewTXPool(ring *Ring, unmap TXUnmapper, depth uint32) *TXPool {
	return &TXPool{ring: ring, unmap: unmap, tbl: make([]TXTrackEntry, depth)}
}

func (p *TXPool) mask() uint32 { return uint32(len(p.tbl)) - 1 }

// DefaultTxWork is PFE_DEFAULT_TX_WORK, the TX-confirm drain's per-poll
// cap: ring_length / 2.
func (p *TXPool) DefaultTxWork() int { return int(p.ring.Len() / 2) }

// Unused reports the ring's free-slot count.
func (p *TXPool) Unused() uint32 { return p.ring.Unused() }

// PutMapFrag populates entry (wr_idx + i) without publishing wr_idx.
func (p *TXPool) PutMapFrag(pa uint64, size uint32, owner TXOwner, kind TrackKind, i uint32) {
	slot := (p.ring.WrIdx() + i) & p.mask()
	p.tbl[slot] = TXTrackEntry{pa: pa, size: size, owner: owner, kind: kind}
}

// UpdateWrIdx publishes wr_idx += count on the shared ring.
func (p *TXPool) UpdateWrIdx(count uint32) { p.ring.PublishWrIdx(count) }

// UnrollMapFull is the symmetric rollback of a partially-written enqueue:
// it clears every tracker slot from wr_idx up to (but excluding)
// wr_idx+count, mirroring the ring's own UnrollWrIdx. Callers roll back
// the ring separately.
func (p *TXPool) UnrollMapFull(count uint32) {
	wr := p.ring.WrIdx()
	for i := uint32(0); i < count; i++ {
		slot := (wr + i) & p.mask()
		p.tbl[slot] = TXTrackEntry{}
	}
}

// TXConfResult is one confirmed TX frame handed back to the poll loop.
type TXConfResult struct {
	Kind     TrackKind
	HeadPA   uint64
	HeadSize uint32
	// Payload is the IHC frame's own bytes (TX header included), present
	// only when Kind == TrackIHC and the owner exposes payloadOwner. The
	// poll loop strips the TX header before handing it to the IHC client's
	// txconf FIFO.
	Payload []byte
}

// payloadOwner is implemented by TXOwner values that retain their own
// frame bytes -- currently only ihcOwner, since IHC frames are throwaway
// copies rather than stack-owned packets.
type payloadOwner interface {
	Payload() []byte
}

// FreeMapFull drains at most budget confirmed frames starting at rd_idx:
// for each, it reads the owner packet at the head slot, determines the
// fragment count, unmaps the linear entry as a single mapping, unmaps each
// fragment entry as a page mapping, advances rd_idx past all of them
// (through the ring's DequeueTXConf, which only advances once hardware has
// confirmed), and releases the owner packet through the stack. It stops
// early, returning what it has drained so far, once the ring reports no
// more confirmed descriptors.
func (p *TXPool) FreeMapFull(budget int) []TXConfResult {
	results := make([]TXConfResult, 0, budget)
	for len(results) < budget {
		headSlot := p.ring.RdIdx() & p.mask()
		head := p.tbl[headSlot]
		if !head.Populated() || head.owner == nil {
			break
		}
		if err := p.ring.DequeueTXConf(); err != nil {
			break
		}
		nFrags := head.owner.NumFrags()

		p.unmap.DMAUnmapSingle(head.pa, head.size)
		p.tbl[headSlot] = TXTrackEntry{}

		for f := 0; f < nFrags; f++ {
			fragSlot := p.ring.RdIdx() & p.mask()
			if err := p.ring.DequeueTXConf(); err != nil {
				break
			}
			frag := p.tbl[fragSlot]
			if frag.Populated() {
				p.unmap.DMAUnmapPage(frag.pa, frag.size)
			}
			p.tbl[fragSlot] = TXTrackEntry{}
		}

		res := TXConfResult{Kind: head.kind, HeadPA: head.pa, HeadSize: head.size}
		if po, ok := head.owner.(payloadOwner); ok {
			res.Payload = po.Payload()
		}
		results = append(results, res)
		head.owner.Release()
	}
	return results
}
