package hif

import "errors"

// MaxSG is the maximum number of fragments the ring can carry without
// linearising first.
const MaxSG = 17

// TxBDsMaxNeeded is the minimum number of free TX BDs the poll loop
// requires before it wakes a subqueue.
const TxBDsMaxNeeded = MaxSG + 2

// ErrTooManyFrags is returned when a packet has more fragments than MaxSG
// and linearisation was not attempted or failed.
var ErrTooManyFrags = errors.New("hif: too many fragments")

// TXDMA is the combined DMA mapping/unmapping contract the TX path needs:
// a "single" mapping for the linear head, a "page" mapping for each
// fragment.
type TXDMA interface {
	DMAMapSingle(buf []byte) (pa uint64, err error)
	DMAMapPage(buf []byte) (pa uint64, err error)
	DMAUnmapSingle(pa uint64, size uint32)
	DMAUnmapPage(pa uint64, size uint32)
}

// TXFrame is the input to Enqueue: a linear head plus N fragments.
type TXFrame struct {
	Linear          []byte
	Frags           [][]byte
	WantTS          bool // HW-timestamp requested
	PTPEnabled      bool // netif has PTP enabled
	DstPhy          uint32
	Owner           TXOwner
	ChecksumOffload bool
}

// Linearise collapses Frags into Linear in place, used when the fragment
// count exceeds MaxSG or free BDs are short.
// Returns false if the caller should drop the frame instead.
func (f *TXFrame) Linearise() bool {
	total := len(f.Linear)
	for _, frag := range f.Frags {
		total += len(frag)
	}
	buf := make([]byte, 0, total)
	buf = append(buf, f.Linear...)
	for _, frag := range f.Frags {
		buf = append(buf, frag...)
	}
	f.Linear = buf
	f.Frags = nil
	return true
}

// mappedFrag records one already-mapped fragment, so a later failure can
// unmap everything mapped so far.
type mappedFrag struct {
	pa   uint64
	size uint32
}

// Enqueue runs the full TX scatter/gather path : precondition
// checks, per-fragment DMA mapping with rollback on failure, optional
// checksum-offload and egress-timestamp header flags, and wr_idx
// publication.
func (c *Channel) Enqueue(f TXFrame) error {
	if c.Shared() {
		c.lockTX.Lock()
		defer c.lockTX.Unlock()
	}

	n := uint32(len(f.Frags))
	if n > MaxSG {
		if !f.Linearise() {
			c.Stats.TxDropped.Add(1)
			return ErrTooManyFrags
		}
		n = 0
	}
	if c.TX.ring.Unused() < n+2 {
		if !f.Linearise() {
			c.Stats.TxDropped.Add(1)
			return ErrRingFull
		}
		n = 0
	}

	flags := TxFlags(0)
	if f.ChecksumOffload {
		flags |= TxIPCsum | TxTCPCsum | TxUDPCsum
	}
	var refNum uint16
	if f.WantTS && f.PTPEnabled {
		refNum = c.ETS.NextRefNum()
		flags |= TxETS
		c.ETS.Record(refNum, f.DstPhy)
	}

	hdr := TxHeader{Chid: uint8(c.Index), Flags: flags, EPhyIfs: uint32(1) << f.DstPhy, EstRefNum: refNum}
	framed := make([]byte, TxHeaderSize+len(f.Linear))
	hdr.Marshal(framed[:TxHeaderSize])
	copy(framed[TxHeaderSize:], f.Linear)

	headPA, err := c.dma.DMAMapSingle(framed)
	if err != nil {
		c.Stats.TxDropped.Add(1)
		return err
	}
	headSize := uint32(len(framed))

	lastNonEmpty := -1
	for i, frag := range f.Frags {
		if len(frag) != 0 {
			lastNonEmpty = i
		}
	}

	c.TX.PutMapFrag(headPA, headSize, f.Owner, TrackNormal, 0)
	lifm := n == 0 || lastNonEmpty == -1
	c.TX.ring.EnqueueAt(0, headPA, uint16(headSize), lifm)

	mapped := make([]mappedFrag, 0, len(f.Frags))
	for i, frag := range f.Frags {
		if len(frag) == 0 {
			continue
		}
		fpa, err := c.dma.DMAMapPage(frag)
		if err != nil {
			c.rollback(headPA, headSize, mapped)
			c.Stats.TxDropped.Add(1)
			return err
		}
		fsize := uint32(len(frag))
		isLast := i == lastNonEmpty
		idx := uint32(len(mapped)) + 1
		c.TX.PutMapFrag(fpa, fsize, nil, TrackNormal, idx)
		c.TX.ring.EnqueueAt(idx, fpa, uint16(fsize), isLast)
		mapped = append(mapped, mappedFrag{pa: fpa, size: fsize})
	}

	c.TX.UpdateWrIdx(uint32(len(mapped)) + 1)
	c.Stats.TxPackets.Add(1)
	c.Stats.TxBytes.Add(uint64(len(f.Linear)))
	for _, frag := range f.Frags {
		c.Stats.TxBytes.Add(uint64(len(frag)))
	}
	return nil
}

// rollback symmetrically unmaps every slot already mapped for this
// frame -- the linear head and every fragment mapped so far -- and clears
// the tracker and ring descriptor slots written so far. wr_idx itself was
// never published for this frame, so there is nothing to roll back there.
func (c *Channel) rollback(headPA uint64, headSize uint32, mapped []mappedFrag) {
	c.dma.DMAUnmapSingle(headPA, headSize)
	for _, m := range mapped {
		c.dma.DMAUnmapPage(m.pa, m.size)
	}
	count := uint32(len(mapped)) + 1
	c.TX.UnrollMapFull(count)
	c.TX.ring.UnrollWrIdx(count)
}
