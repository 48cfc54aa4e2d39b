// Command pfeng-ihcsh is an interactive shell for driving a channel's IHC
// loopback path by hand: send frames, inspect confirmed/received activity,
// and dump per-channel statistics. Input lines are shell-quoted
// (`send --dst 3 "DE AD BE EF"`) and tokenized with shlex, the same
// approach a KISS-TNC utility in the retrieval pack uses for its own
// command line.
package main

import (
	"bufio"
	"encoding/hex"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/pflag"

	"pfeng-hif/hif"
	"pfeng-hif/hif/mmio"
	"pfeng-hif/types"
	"pfeng-hif/x/fmtx"
)

const ringLen = 64

func main() {
	chanIdx := pflag.IntP("channel", "c", 0, "channel index to bring up as the IHC channel")
	help := pflag.Bool("help", false, "display help text")
	pflag.Usage = func() {
		fmtx.Printf("usage: pfeng-ihcsh [options]\n\ncommands:\n  send --dst <phy_if> <hex-or-quoted-ascii>\n  recv\n  stats\n  quit\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	regs := mmio.NewFake()
	csr := hif.NewChannelCSR(regs, *chanIdx, true)
	dma := &loopbackDMA{}
	c := hif.NewChannel(*chanIdx, csr, dma, hif.TriggerMode, 100_000_000, nil)

	rxPool := hif.NewRXPool(*chanIdx, hif.NewRing(ringLen), &loopbackPageAllocator{}, ringLen, 2048, 128, ringLen/4)
	txPool := hif.NewTXPool(hif.NewRing(ringLen), dma, ringLen)
	if err := c.Create(rxPool, txPool); err != nil {
		fmtx.Printf("pfeng-ihcsh: create: %s\n", err)
		os.Exit(1)
	}
	if err := c.Open(*chanIdx, ringLen/4); err != nil {
		fmtx.Printf("pfeng-ihcsh: open: %s\n", err)
		os.Exit(1)
	}

	events := make([]string, 0, 16)
	c.RegisterClient(func(ev types.IHCEvent) {
		events = append(events, ev.String())
	})

	fmtx.Printf("pfeng-ihcsh: channel %d ready, type 'help' for commands\n", *chanIdx)
	repl(c, &events)
}

func repl(c *hif.Channel, events *[]string) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmtx.Print("ihcsh> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		args, err := shlex.Split(line)
		if err != nil {
			fmtx.Printf("parse error: %s\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "quit", "exit":
			return
		case "help":
			fmtx.Printf("commands: send --dst <phy_if> <payload>, recv, stats, quit\n")
		case "send":
			cmdSend(c, args[1:])
		case "recv":
			cmdRecv(c.DrainIHCTxWork())
		case "stats":
			cmdStats(c, *events)
		default:
			fmtx.Printf("unknown command %q\n", args[0])
		}
	}
}

func cmdSend(c *hif.Channel, args []string) {
	var dst int
	var payload string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dst":
			i++
			if i >= len(args) {
				fmtx.Printf("send: --dst needs a value\n")
				return
			}
			v, err := strconv.Atoi(args[i])
			if err != nil {
				fmtx.Printf("send: bad --dst value: %s\n", err)
				return
			}
			dst = v
		default:
			payload = args[i]
		}
	}
	body := decodePayload(payload)
	if err := c.SendIHC(types.PhyIfID(dst), body); err != nil {
		fmtx.Printf("send failed: %s\n", err)
		return
	}
	fmtx.Printf("queued %d bytes to phy_if %d\n", len(body), dst)
}

func decodePayload(s string) []byte {
	if b, err := hex.DecodeString(strings.ReplaceAll(s, " ", "")); err == nil && s != "" {
		return b
	}
	return []byte(s)
}

func cmdRecv(n int) {
	fmtx.Printf("drained %d pending ihc tx frame(s) onto the ring\n", n)
}

func cmdStats(c *hif.Channel, events []string) {
	fmtx.Printf("state=%s ihc_tx_dropped=%d ihc_rx_dropped=%d events=%v\n",
		c.State(), c.Stats.IHCTxDropped.Load(), c.Stats.IHCRxDropped.Load(), events)
}

// loopbackDMA treats every "DMA address" as a direct index into an
// in-process byte-slice table, so frames sent never actually leave the
// process -- enough to exercise SendIHC/DrainIHCTxWork/FreeMapFull without
// real hardware.
type loopbackDMA struct {
	next  uint64
	table map[uint64][]byte
}

func (d *loopbackDMA) mapAny(buf []byte) (uint64, error) {
	if d.table == nil {
		d.table = make(map[uint64][]byte)
	}
	d.next++
	cp := append([]byte(nil), buf...)
	d.table[d.next] = cp
	return d.next, nil
}
func (d *loopbackDMA) DMAMapSingle(buf []byte) (uint64, error) { return d.mapAny(buf) }
func (d *loopbackDMA) DMAMapPage(buf []byte) (uint64, error)   { return d.mapAny(buf) }
func (d *loopbackDMA) DMAUnmapSingle(pa uint64, size uint32)   { delete(d.table, pa) }
func (d *loopbackDMA) DMAUnmapPage(pa uint64, size uint32)     { delete(d.table, pa) }

type loopbackPageAllocator struct{}

func (a *loopbackPageAllocator) AllocPage(size int) (*hif.Page, error) {
	return hif.NewPage(make([]byte, size)), nil
}
func (a *loopbackPageAllocator) DMAMapPage(p *hif.Page) (uint64, error) { return 1, nil }
func (a *loopbackPageAllocator) DMAUnmapPage(p *hif.Page, dmaAddr uint64) {}
func (a *loopbackPageAllocator) DMASyncForDevice(dmaAddr uint64, offset, length int) {}
func (a *loopbackPageAllocator) FreePage(p *hif.Page) {}
