// cmd/pfeng-ringbench/main.go.
package main

import (
	"time"

	"github.com/spf13/pflag"

	"pfeng-hif/hif"
	"pfeng-hif/x/fmtx"
)

func main() {
	ringLen := pflag.Uint32P("ring-length", "r", 256, "ring length, must be a power of two")
	iterations := pflag.IntP("iterations", "n", 1_000_000, "number of enqueue/dequeue cycles")
	batch := pflag.IntP("batch", "b", 8, "descriptors enqueued per cycle before draining")
	help := pflag.Bool("help", false, "display help text")

	pflag.Usage = func() {
		fmtx.Printf("usage: pfeng-ringbench [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	r := hif.NewRing(*ringLen)

	start := time.Now()
	var cycles int
	for cycles = 0; cycles < *iterations; cycles++ {
		n := *batch
		if uint32(n) > r.Unused() {
			n = int(r.Unused())
		}
		for i := 0; i < n; i++ {
			if err := r.Enqueue(uint64(i), 64, i == n-1); err != nil {
				break
			}
		}
		// Simulate hardware handing every published descriptor back, then
		// drain rd_idx up to wr_idx.
		for r.RdIdx() < r.WrIdx() {
			r.MarkHWDone(r.RdIdx())
			if _, _, _, err := r.DequeueRX(); err != nil {
				break
			}
		}
	}
	elapsed := time.Since(start)

	fmtx.Printf("pfeng-ringbench: ring_length=%d batch=%d cycles=%d elapsed=%s (%.0f cycles/s)\n",
		*ringLen, *batch, cycles, elapsed, float64(cycles)/elapsed.Seconds())
}
