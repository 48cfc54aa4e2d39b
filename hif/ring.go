package hif

import (
	"errors"
	"sync/atomic"
)

// ErrRingFull is returned by enqueue when no free descriptor slots remain.
var ErrRingFull = errors.New("hif: descriptor ring full")

// ErrRingEmpty is returned by a dequeue call when the ring has nothing the
// caller side is permitted to consume yet.
var ErrRingEmpty = errors.New("hif: descriptor ring empty")

// bd is one hardware buffer descriptor: a physical address, a length, the
// last-in-frame flag, and the owner bit hardware flips to hand the slot
// back to software.
type bd struct {
	pa   uint64
	len  uint16
	lifm bool
	// ownedByHW is true while the descriptor belongs to the DMA engine.
	// Production code never sets this directly: it mirrors the real owner
	// bit living in MMIO-coherent descriptor memory, flipped by hardware
	// (or, in tests, poked by hand to simulate the DMA engine's side).
	ownedByHW bool
}

// Ring is a power-of-two-sized producer/consumer view of a hardware DMA
// ring. A Ring never interprets what a slot carries; fragment/linear-head/
// IHC semantics live one layer up, in the tracker maps or the in-band
// frame headers.
type Ring struct {
	mask uint32
	bds  []bd

	// wrIdx and rdIdx are unbounded counters, masked on every use. wrIdx
	// is published with release ordering so a concurrent reader observing
	// the new value also observes every descriptor write that preceded it.
	wrIdx uint32
	rdIdx uint32
}

// NewRing allocates a ring of the given length, which must be a power of
// two.
func NewRing(length uint32) *Ring {
	if length == 0 || length&(length-1) != 0 {
		panic("hif: ring length must be a power of two")
	}
	return &Ring{mask: length - 1, bds: make([]bd, length)}
}

// Len returns the ring's total slot count.
func (r *Ring) Len() uint32 { return r.mask + 1 }

// WrIdx returns the current producer counter (unmasked).
func (r *Ring) WrIdx() uint32 { return atomic.LoadUint32(&r.wrIdx) }

// RdIdx returns the current consumer counter (unmasked).
func (r *Ring) RdIdx() uint32 { return atomic.LoadUint32(&r.rdIdx) }

// Unused computes the number of free slots: ring_length - (wr_idx - rd_idx)
// - 1. One slot is always reserved so full and empty stay distinguishable.
func (r *Ring) Unused() uint32 {
	inFlight := atomic.LoadUint32(&r.wrIdx) - atomic.LoadUint32(&r.rdIdx)
	return r.Len() - inFlight - 1
}

// Enqueue writes a descriptor at wrIdx and advances the producer counter.
// The caller is responsible for publishing the new wrIdx to hardware
// (release-ordered MMIO write) once every descriptor in the batch has been
// written; Enqueue itself only updates the in-process counter.
func (r *Ring) Enqueue(pa uint64, length uint16, lifm bool) error {
	if r.Unused() == 0 {
		return ErrRingFull
	}
	slot := atomic.LoadUint32(&r.wrIdx) & r.mask
	r.bds[slot] = bd{pa: pa, len: length, lifm: lifm, ownedByHW: true}
	atomic.AddUint32(&r.wrIdx, 1)
	return nil
}

// EnqueueAt writes a descriptor at wrIdx+offset without advancing the
// producer counter, mirroring put_map_frag's "populate without publishing"
// step. The caller publishes with PublishWrIdx once every fragment in the
// batch is written.
func (r *Ring) EnqueueAt(offset uint32, pa uint64, length uint16, lifm bool) {
	slot := (atomic.LoadUint32(&r.wrIdx) + offset) & r.mask
	r.bds[slot] = bd{pa: pa, len: length, lifm: lifm, ownedByHW: true}
}

// PublishWrIdx atomically advances wrIdx by count.
func (r *Ring) PublishWrIdx(count uint32) {
	atomic.AddUint32(&r.wrIdx, count)
}

// UnrollWrIdx clears count descriptor slots starting at the current wrIdx,
// undoing a partial EnqueueAt batch before PublishWrIdx ever ran. wrIdx
// itself is left untouched: EnqueueAt never advances it, so there is
// nothing to roll back on the producer counter, only the speculatively
// written slot contents.
func (r *Ring) UnrollWrIdx(count uint32) {
	wr := atomic.LoadUint32(&r.wrIdx)
	for i := uint32(0); i < count; i++ {
		slot := (wr + i) & r.mask
		r.bds[slot] = bd{}
	}
}

// DequeueRX reads the descriptor at rdIdx and advances only if hardware has
// marked it software-owned.
func (r *Ring) DequeueRX() (pa uint64, length uint16, lifm bool, err error) {
	slot := atomic.LoadUint32(&r.rdIdx) & r.mask
	d := &r.bds[slot]
	if d.ownedByHW {
		return 0, 0, false, ErrRingEmpty
	}
	pa, length, lifm = d.pa, d.len, d.lifm
	atomic.AddUint32(&r.rdIdx, 1)
	return pa, length, lifm, nil
}

// DequeueTXConf advances rdIdx by one if hardware confirms the descriptor
// at rdIdx has completed. It returns ErrRingEmpty when hardware has not
// confirmed yet, and when rdIdx has caught up with wrIdx.
func (r *Ring) DequeueTXConf() error {
	if atomic.LoadUint32(&r.rdIdx) == atomic.LoadUint32(&r.wrIdx) {
		return ErrRingEmpty
	}
	slot := atomic.LoadUint32(&r.rdIdx) & r.mask
	if r.bds[slot].ownedByHW {
		return ErrRingEmpty
	}
	atomic.AddUint32(&r.rdIdx, 1)
	return nil
}

// MarkHWDone flips the owner bit of the descriptor at the given unmasked
// index to software-owned. Used by tests, and by the DMA-coherent memory
// view in production once hardware has actually written back the
// completion.
func (r *Ring) MarkHWDone(idx uint32) {
	r.bds[idx&r.mask].ownedByHW = false
}

// MarkHWOwned flips the owner bit back to hardware-owned, simulating a
// republished RX descriptor.
func (r *Ring) MarkHWOwned(idx uint32) {
	r.bds[idx&r.mask].ownedByHW = true
}

// PeekRX reports the descriptor at rdIdx without consuming it, for callers
// that need to inspect LIFM before deciding whether to continue a
// multi-descriptor receive loop.
func (r *Ring) PeekRX() (pa uint64, length uint16, lifm bool, ready bool) {
	slot := atomic.LoadUint32(&r.rdIdx) & r.mask
	d := &r.bds[slot]
	if d.ownedByHW {
		return 0, 0, false, false
	}
	return d.pa, d.len, d.lifm, true
}
