// Package platform wires the hif package to a concrete host environment: a
// Linux TAP device standing in for a real MAC/PHY netdev, and a small
// provider abstraction over the board configuration a real deployment
// would source from a device tree.
package platform

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"pfeng-hif/hif"
	"pfeng-hif/x/fmtx"
	"pfeng-hif/x/shmring"
)

// outQueueSize bounds the byte-stream buffer between Deliver (called from
// the poll loop, which must never block on socket I/O) and the background
// goroutine that actually writes frames to the TAP device.
const outQueueSize = 1 << 20

// lenPrefixSize is the framing overhead Deliver adds ahead of each frame
// in the shmring byte stream, so the flusher goroutine can recover frame
// boundaries from what is otherwise an undelimited byte stream.
const lenPrefixSize = 4

// TapNetdev implements hif.NetdevSink over a Linux TUN/TAP device, standing
// in for the real MAC/PHY netdev the HIF datapath is deliberately agnostic
// about (grounded on BigBossBoolingB-VDATABPro's tap_device.go TUNSETIFF
// dance).
type TapNetdev struct {
	fd   int
	name string

	tmuFull  atomic.Bool
	wakes    atomic.Uint64
	delivers atomic.Uint64
	dropped  atomic.Uint64

	outQueue  *shmring.Ring
	outHandle shmring.Handle
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewTapNetdev opens /dev/net/tun and attaches a TAP interface named name.
func NewTapNetdev(name string) (*TapNetdev, error) {
	fd, err := syscall.Open("/dev/net/tun", syscall.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("platform: opening /dev/net/tun: %w", err)
	}

	var ifr struct {
		Name  [16]byte
		Flags uint16
		_     [2]byte
	}
	copy(ifr.Name[:], name)
	ifr.Flags = unix.IFF_TAP | unix.IFF_NO_PI

	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&ifr))); errno != 0 {
		syscall.Close(fd)
		return nil, fmt.Errorf("platform: TUNSETIFF for %s: %w", name, errno)
	}
	handle, r := shmring.NewRegistered(outQueueSize)
	t := &TapNetdev{
		fd:        fd,
		name:      name,
		outQueue:  r,
		outHandle: handle,
		stop:      make(chan struct{}),
	}
	t.wg.Add(1)
	go t.flush()
	return t, nil
}

// Deliver stages a received, decapsulated frame into the outbound byte
// ring; the background flusher goroutine writes it to the TAP device.
// Deliver never blocks on socket I/O, which matters because the poll loop
// calling it has its own budget to honour.
// A frame that does not fit in the ring is dropped and counted, matching
// the rest of the datapath's "drops manifest only through statistics"
// convention.
func (t *TapNetdev) Deliver(pkt *hif.Packet) {
	t.delivers.Add(1)
	total := 0
	for _, f := range pkt.Frags {
		total += len(f)
	}

	frame := make([]byte, lenPrefixSize+total)
	binary.BigEndian.PutUint32(frame[:lenPrefixSize], uint32(total))
	off := lenPrefixSize
	for _, f := range pkt.Frags {
		off += copy(frame[off:], f)
	}

	if t.outQueue.Space() < len(frame) {
		t.dropped.Add(1)
		fmtx.Logf(-1, "platform: tap %s output queue full, frame dropped", t.name)
		return
	}
	t.outQueue.TryWriteFrom(frame)
}

// DroppedCount returns how many frames Deliver could not fit into the
// outbound ring.
func (t *TapNetdev) DroppedCount() uint64 { return t.dropped.Load() }

// OutQueueHandle returns the registry handle for this netdev's outbound
// byte ring, so an external diagnostic (e.g. a future pfeng-ihcsh "buffers"
// command) can look up its occupancy via shmring.Get without the caller
// needing a direct reference to the TapNetdev.
func (t *TapNetdev) OutQueueHandle() shmring.Handle { return t.outHandle }

// flush drains the outbound byte ring and writes whole frames to the TAP
// file descriptor, re-checking ring state after every wake per shmring's
// edge-coalesced notification contract.
func (t *TapNetdev) flush() {
	defer t.wg.Done()
	var acc []byte
	hdr := make([]byte, lenPrefixSize)
	for {
		select {
		case <-t.stop:
			return
		case <-t.outQueue.Readable():
		}
		for {
			buf := make([]byte, 4096)
			n := t.outQueue.TryReadInto(buf)
			if n == 0 {
				break
			}
			acc = append(acc, buf[:n]...)
		}
		for {
			if len(acc) < lenPrefixSize {
				break
			}
			copy(hdr, acc[:lenPrefixSize])
			want := int(binary.BigEndian.Uint32(hdr))
			if len(acc) < lenPrefixSize+want {
				break
			}
			frame := acc[lenPrefixSize : lenPrefixSize+want]
			if _, err := syscall.Write(t.fd, frame); err != nil {
				fmtx.Logf(-1, "platform: tap %s write failed: %s", t.name, err)
			}
			acc = acc[lenPrefixSize+want:]
		}
	}
}

// TMUFull reports the TMU back-pressure flag most recently set by
// SetTMUFull, gating the poll loop's subqueue wake.
func (t *TapNetdev) TMUFull() bool { return t.tmuFull.Load() }

// SetTMUFull is called by whatever observes the real TMU occupancy
// register; tests and cmd/pfengd drive it directly.
func (t *TapNetdev) SetTMUFull(full bool) { t.tmuFull.Store(full) }

// WakeSubqueues is a no-op for a TAP device (it has no subqueue stop/start
// state of its own) beyond bookkeeping for observability.
func (t *TapNetdev) WakeSubqueues() { t.wakes.Add(1) }

// WakeCount returns how many times WakeSubqueues has fired, for tests.
func (t *TapNetdev) WakeCount() uint64 { return t.wakes.Load() }

// Close stops the flusher goroutine and releases the TAP file descriptor.
func (t *TapNetdev) Close() error {
	close(t.stop)
	t.wg.Wait()
	shmring.Close(t.outHandle)
	if t.fd == 0 {
		return nil
	}
	return syscall.Close(t.fd)
}

const tapReadBufSize = 2048

// ReadFrame reads one raw Ethernet frame from the TAP device, blocking
// until one is available.
func (t *TapNetdev) ReadFrame() ([]byte, error) {
	buf := make([]byte, tapReadBufSize)
	n, err := syscall.Read(t.fd, buf)
	if err != nil {
		return nil, fmt.Errorf("platform: tap %s read: %w", t.name, err)
	}
	return buf[:n], nil
}

// errShortFrame is returned by the packet sink when a caller hands it a
// frame too small to be plausible, rather than silently building an empty
// packet.
var errShortFrame = errors.New("platform: rx frame too short")

// HeapPacketSink implements hif.PacketSink by copying fragment bytes onto
// the Go heap, decoupling the stack-facing Packet from the recyclable page
// memory bman immediately reclaims after ReceivePkt returns.
type HeapPacketSink struct {
	mu       sync.Mutex
	oomAfter int // test hook: fail the oomAfter'th NewPacket call; 0 disables
	calls    int
}

// NewHeapPacketSink constructs a sink with no injected OOM failures.
func NewHeapPacketSink() *HeapPacketSink { return &HeapPacketSink{} }

// InjectOOMAfter makes the n'th subsequent NewPacket call fail, simulating
// the stack-side allocator running out of memory mid-burst.
func (s *HeapPacketSink) InjectOOMAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oomAfter = n
	s.calls = 0
}

// NewPacket builds a new *hif.Packet from the frame's first fragment,
// copying it onto the heap.
func (s *HeapPacketSink) NewPacket(first []byte) (*hif.Packet, error) {
	if len(first) == 0 {
		return nil, errShortFrame
	}
	s.mu.Lock()
	s.calls++
	fail := s.oomAfter > 0 && s.calls == s.oomAfter
	s.mu.Unlock()
	if fail {
		return nil, errors.New("platform: simulated allocator exhaustion")
	}
	cp := append([]byte(nil), first...)
	return &hif.Packet{Frags: [][]byte{cp}}, nil
}

// AppendFrag copies frag onto the heap and appends it to pkt.
func (s *HeapPacketSink) AppendFrag(pkt *hif.Packet, frag []byte) {
	cp := append([]byte(nil), frag...)
	pkt.Frags = append(pkt.Frags, cp)
}
