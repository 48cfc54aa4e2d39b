package hif

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"pfeng-hif/types"
)

// PhyIfConfig binds one physical interface to a netdev name within a
// channel's interface table.
type PhyIfConfig struct {
	PhyIf    string `yaml:"phy_if"`
	Netdev   string `yaml:"netdev"`
	OnlyMgmt bool   `yaml:"only_mgmt,omitempty"`
}

// ChannelConfig is one channel's static configuration.
type ChannelConfig struct {
	Index           int           `yaml:"index"`
	RingLength      uint32        `yaml:"ring_length"`
	RXRefillLow     uint32        `yaml:"rx_refill_threshold"`
	RXDMASize       int           `yaml:"rx_dma_size"`
	RXPad           int           `yaml:"rx_pad"`
	CoalesceFrames  uint32        `yaml:"coalesce_frames,omitempty"`
	CoalesceUsecs   uint32        `yaml:"coalesce_usecs,omitempty"`
	Polling         bool          `yaml:"polling,omitempty"`
	PhyIfs          []PhyIfConfig `yaml:"phy_ifs,omitempty"`
}

// PlatformConfig is the top-level YAML document describing one HIF
// instance: how many channels, which one (if any) is designated IHC, the
// silicon-revision capability flag, and each channel's static shape.
type PlatformConfig struct {
	SysClkRateHz          uint32          `yaml:"sys_clk_rate_hz"`
	SupportsFrameCoalesce bool            `yaml:"supports_frame_coalesce"`
	IHCChannel            *int            `yaml:"ihc_channel,omitempty"`
	Channels              []ChannelConfig `yaml:"channels"`
}

// LoadPlatformConfig reads and validates a PlatformConfig from r.
func LoadPlatformConfig(r io.Reader) (*PlatformConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("hif: reading platform config: %w", err)
	}
	var cfg PlatformConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("hif: parsing platform config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadPlatformConfigFile opens path and delegates to LoadPlatformConfig.
func LoadPlatformConfigFile(path string) (*PlatformConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hif: opening platform config %s: %w", path, err)
	}
	defer f.Close()
	return LoadPlatformConfig(f)
}

// Validate checks ring-length power-of-two and IHC-channel-index
// constraints.
func (c *PlatformConfig) Validate() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("hif: platform config declares no channels")
	}
	for _, ch := range c.Channels {
		if ch.RingLength == 0 || ch.RingLength&(ch.RingLength-1) != 0 {
			return fmt.Errorf("hif: channel %d: ring_length %d is not a power of two", ch.Index, ch.RingLength)
		}
	}
	if c.IHCChannel != nil {
		found := false
		for _, ch := range c.Channels {
			if ch.Index == *c.IHCChannel {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("hif: ihc_channel %d does not name a configured channel", *c.IHCChannel)
		}
	}
	return nil
}

// phyIfByName maps a YAML phy_if string to its types.PhyIfID, the inverse
// of types.PhyIfID.String.
func phyIfByName(name string) (types.PhyIfID, bool) {
	for id := types.PhyIfID(0); id < types.PhyIfIDMax; id++ {
		if id.String() == name {
			return id, true
		}
	}
	return 0, false
}

// ResolvePhyIf looks up one entry's physical-interface ID by its
// configured name.
func (p PhyIfConfig) ResolvePhyIf() (types.PhyIfID, error) {
	id, ok := phyIfByName(p.PhyIf)
	if !ok {
		return 0, fmt.Errorf("hif: unknown phy_if name %q", p.PhyIf)
	}
	return id, nil
}
