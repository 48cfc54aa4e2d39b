package platform

import (
	"fmt"

	"pfeng-hif/hif"
	"pfeng-hif/hif/mmio"
)

// BoardProvider is the opaque boundary to whatever board-description
// mechanism a real deployment uses (a device tree blob, an ACPI table, a
// vendor config partition) to answer the two questions the HIF datapath
// actually needs: where is a channel's CSR/DMA register window, and where
// should its traffic go. Loading device trees is explicitly out of scope;
// this interface is the seam a real board wires in.
type BoardProvider interface {
	// ChannelRegs returns the MMIO register view for the given channel
	// index.
	ChannelRegs(chanIdx int) (mmio.Regs, error)
	// SysClkRateHz returns the platform's HIF system clock rate, used for
	// the usecs->ticks coalesce conversion.
	SysClkRateHz() uint32
}

// StaticProvider is a BoardProvider backed by a fixed, in-memory map of
// fake register sets, sufficient for tests and for cmd/pfengd running
// without real hardware. A UIO-backed provider would instead mmap
// /dev/uioN per channel via hif/mmio.UIORegs.
type StaticProvider struct {
	regs         map[int]mmio.Regs
	sysClkRateHz uint32
}

// NewStaticProvider constructs a provider over sysClkRateHz, with no
// channels registered yet.
func NewStaticProvider(sysClkRateHz uint32) *StaticProvider {
	return &StaticProvider{regs: make(map[int]mmio.Regs), sysClkRateHz: sysClkRateHz}
}

// AddFakeChannel registers a hif/mmio.Fake register set for chanIdx.
func (s *StaticProvider) AddFakeChannel(chanIdx int) *mmio.Fake {
	f := mmio.NewFake()
	s.regs[chanIdx] = f
	return f
}

// ChannelRegs implements BoardProvider.
func (s *StaticProvider) ChannelRegs(chanIdx int) (mmio.Regs, error) {
	r, ok := s.regs[chanIdx]
	if !ok {
		return nil, fmt.Errorf("platform: no registers configured for channel %d", chanIdx)
	}
	return r, nil
}

// SysClkRateHz implements BoardProvider.
func (s *StaticProvider) SysClkRateHz() uint32 { return s.sysClkRateHz }

// UIOProvider is a BoardProvider backed by real /dev/uioN resources, one
// per channel, each mapping that channel's CSR/DMA register window.
type UIOProvider struct {
	paths        map[int]string
	regSize      int
	sysClkRateHz uint32
}

// NewUIOProvider constructs a provider that maps a channel's UIO resource
// file, of size regSize bytes, on every ChannelRegs call for that channel;
// mappings are not cached.
func NewUIOProvider(paths map[int]string, regSize int, sysClkRateHz uint32) *UIOProvider {
	return &UIOProvider{paths: paths, regSize: regSize, sysClkRateHz: sysClkRateHz}
}

// ChannelRegs implements BoardProvider.
func (u *UIOProvider) ChannelRegs(chanIdx int) (mmio.Regs, error) {
	path, ok := u.paths[chanIdx]
	if !ok {
		return nil, fmt.Errorf("platform: no UIO device configured for channel %d", chanIdx)
	}
	return mmio.OpenUIO(path, u.regSize)
}

// SysClkRateHz implements BoardProvider.
func (u *UIOProvider) SysClkRateHz() uint32 { return u.sysClkRateHz }

// BuildChannel constructs a fully wired hif.Channel for chanIdx from cfg
// and the board provider, leaving it in the DISABLED state; calling
// Create is the caller's next step.
func BuildChannel(cfg hif.ChannelConfig, prov BoardProvider, dma hif.TXDMA, supportsFrameCoalesce bool) (*hif.Channel, error) {
	regs, err := prov.ChannelRegs(cfg.Index)
	if err != nil {
		return nil, err
	}
	csr := hif.NewChannelCSR(regs, cfg.Index, supportsFrameCoalesce)
	mode := hif.TriggerMode
	if cfg.Polling {
		mode = hif.PollingMode
	}
	return hif.NewChannel(cfg.Index, csr, dma, mode, prov.SysClkRateHz(), nil), nil
}
