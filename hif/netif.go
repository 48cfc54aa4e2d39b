package hif

import "pfeng-hif/types"

// NetdevSink is the narrow boundary the HIF datapath needs from a host
// netdev. Link/PHY management, MAC filtering and ethtool surfaces live
// entirely on the other side of this interface.
type NetdevSink interface {
	// Deliver hands a fully decapsulated frame to the stack's
	// GRO-compatible entry point.
	Deliver(pkt *Packet)
	// TMUFull reports whether this netdev's TMU back-pressure bit is set,
	// gating the subqueue wake in the poll loop.
	TMUFull() bool
	// WakeSubqueues is called once free TX BDs cross the watermark.
	WakeSubqueues()
}

// NetIf is one physical-interface binding on a channel: which netdev
// receives its traffic, and whether it is restricted to management-only
// frames for AUX-routing purposes.
type NetIf struct {
	PhyIf     types.PhyIfID
	Sink      NetdevSink
	OnlyMgmt  bool
}

// PhyIfTable is the channel's fixed-size table of netifs keyed by physical
// interface ID, with the AUX hole reused for traffic re-targeted away from
// an only_mgmt primary.
type PhyIfTable struct {
	entries [types.PhyIfIDMax]*NetIf
}

// Bind registers a netif at its physical-interface slot.
func (t *PhyIfTable) Bind(n *NetIf) { t.entries[n.PhyIf] = n }

// Unbind clears a physical-interface slot.
func (t *PhyIfTable) Unbind(id types.PhyIfID) { t.entries[id] = nil }

// Lookup resolves the target netif for an inbound frame's i_phy_if,
// applying the AUX-routing policy: a management frame (PTP or egress-TS)
// always stays on the primary even if it is only_mgmt; a non-management
// frame destined to an only_mgmt primary is re-targeted to AUX when an AUX
// netif exists on the same channel.
//
// id is wire data straight off the RX header's 8-bit i_phy_if field, so it
// can carry any value 0-255; out-of-range IDs resolve to no netif rather
// than indexing entries out of bounds.
func (t *PhyIfTable) Lookup(id types.PhyIfID, isManagement bool) *NetIf {
	if id >= types.PhyIfIDMax {
		return nil
	}
	primary := t.entries[id]
	if primary == nil {
		return nil
	}
	if !primary.OnlyMgmt || isManagement {
		return primary
	}
	if aux := t.entries[types.PhyIfAux]; aux != nil {
		return aux
	}
	return primary
}

// IsManagementFrame reports whether an RX header carries a PTP or
// egress-timestamp indication, the two frame classes the AUX-routing
// policy always keeps on the primary netif.
func IsManagementFrame(h RxHeader) bool {
	return h.Flags.Has(RxPTP) || h.Flags.Has(RxETS)
}
