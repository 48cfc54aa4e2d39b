package hif

import "sync/atomic"

// Stats are the per-channel counters statistics-observable drops and
// retries manifest through.
type Stats struct {
	RxPackets  atomic.Uint64
	RxBytes    atomic.Uint64
	RxDropped  atomic.Uint64
	TxPackets  atomic.Uint64
	TxBytes    atomic.Uint64
	TxDropped  atomic.Uint64

	// PollOnRun counts ISR invocations that found a poll already pending.
	PollOnRun atomic.Uint64

	// IHCTxDropped/IHCRxDropped count frames dropped because an IHC FIFO
	// was full.
	IHCTxDropped atomic.Uint64
	IHCRxDropped atomic.Uint64

	// ErratumMasked counts interrupt sources permanently masked by the
	// erratum workaround.
	ErratumMasked atomic.Uint64

	// GlobalErrors counts HIF-global FIFO/AXI error interrupts.
	GlobalErrors atomic.Uint64
}
