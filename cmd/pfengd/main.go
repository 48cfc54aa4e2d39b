// Command pfengd runs a HIF datapath instance against a YAML platform
// configuration, driving each configured channel's poll loop from a plain
// goroutine-per-channel for-loop rather than any hidden scheduler.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"pfeng-hif/hif"
	"pfeng-hif/platform"
	"pfeng-hif/x/fmtx"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "platform YAML config path (required)")
	verbose := pflag.BoolP("verbose", "v", false, "verbose logging")
	help := pflag.Bool("help", false, "display help text")

	pflag.Usage = func() {
		fmtx.Printf("usage: pfengd --config <path> [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}
	if *configPath == "" {
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := hif.LoadPlatformConfigFile(*configPath)
	if err != nil {
		fmtx.Printf("pfengd: %s\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmtx.Printf("pfengd: loaded %d channel(s), sys_clk_rate_hz=%d\n", len(cfg.Channels), cfg.SysClkRateHz)
	}

	if err := run(cfg, *verbose); err != nil {
		fmtx.Printf("pfengd: %s\n", err)
		os.Exit(1)
	}
}

func run(cfg *hif.PlatformConfig, verbose bool) error {
	prov := platform.NewStaticProvider(cfg.SysClkRateHz)
	for _, ch := range cfg.Channels {
		prov.AddFakeChannel(ch.Index)
	}

	sink := platform.NewHeapPacketSink()
	for _, ch := range cfg.Channels {
		if err := bringUpChannel(ch, prov, cfg.SupportsFrameCoalesce, sink, verbose); err != nil {
			return fmt.Errorf("channel %d: %w", ch.Index, err)
		}
	}
	select {}
}

func bringUpChannel(cfg hif.ChannelConfig, prov *platform.StaticProvider, supportsFrameCoalesce bool, sink hif.PacketSink, verbose bool) error {
	dma := &noopDMA{}
	c, err := platform.BuildChannel(cfg, prov, dma, supportsFrameCoalesce)
	if err != nil {
		return err
	}

	rxPool := hif.NewRXPool(cfg.Index, hif.NewRing(cfg.RingLength), &noopPageAllocator{}, cfg.RingLength, cfg.RXDMASize, cfg.RXPad, cfg.RXRefillLow)
	txPool := hif.NewTXPool(hif.NewRing(cfg.RingLength), dma, cfg.RingLength)
	if err := c.Create(rxPool, txPool); err != nil {
		return err
	}
	if err := c.Open(cfg.Index, cfg.RXRefillLow); err != nil {
		return err
	}

	go func() {
		for range c.PollChan() {
			c.Poll(sink, int(cfg.RingLength))
		}
	}()
	if verbose {
		fmtx.Logf(cfg.Index, "channel up, ring_length=%d", cfg.RingLength)
	}
	return nil
}

// noopDMA and noopPageAllocator stand in for real IOMMU-backed DMA mapping
// until a board's platform.BoardProvider supplies one; cmd/pfengd without
// real hardware exists to exercise configuration and lifecycle wiring, not
// to move real frames.
type noopDMA struct{ next uint64 }

func (d *noopDMA) DMAMapSingle(buf []byte) (uint64, error) { d.next++; return d.next, nil }
func (d *noopDMA) DMAMapPage(buf []byte) (uint64, error)   { d.next++; return d.next, nil }
func (d *noopDMA) DMAUnmapSingle(pa uint64, size uint32)   {}
func (d *noopDMA) DMAUnmapPage(pa uint64, size uint32)     {}

type noopPageAllocator struct{ next uint64 }

func (a *noopPageAllocator) AllocPage(size int) (*hif.Page, error) {
	return hif.NewPage(make([]byte, size)), nil
}
func (a *noopPageAllocator) DMAMapPage(p *hif.Page) (uint64, error) { a.next++; return a.next, nil }
func (a *noopPageAllocator) DMAUnmapPage(p *hif.Page, dmaAddr uint64) {}
func (a *noopPageAllocator) DMASyncForDevice(dmaAddr uint64, offset, length int) {}
func (a *noopPageAllocator) FreePage(p *hif.Page) {}
