// Package mmio backs a HIF channel's CSR register file, either with a real
// UIO-mapped device resource (golang.org/x/sys/unix.Mmap) or, for tests,
// platform.StaticProvider and cmd/pfeng-ihcsh, a plain in-memory register
// file.
package mmio

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Regs is the minimal register-file contract the HIF CSR code needs:
// little-endian 32-bit reads and writes at a byte offset into one mapped
// resource.
type Regs interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, v uint32)
}

// UIORegs maps a UIO character device's resource0 file as the CSR register
// window (grounded on the ioctl/mmap pattern in tap_device.go and the
// usbarmory DMA-ring examples).
type UIORegs struct {
	f   *os.File
	mem []byte
}

// OpenUIO maps the given UIO resource file (e.g. "/sys/class/uio/uio0/device/resource0")
// for length bytes.
func OpenUIO(path string, length int) (*UIORegs, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmio: mmap %s: %w", path, err)
	}
	return &UIORegs{f: f, mem: mem}, nil
}

func (r *UIORegs) Read32(offset uint32) uint32 {
	return binary.LittleEndian.Uint32(r.mem[offset : offset+4])
}

func (r *UIORegs) Write32(offset uint32, v uint32) {
	binary.LittleEndian.PutUint32(r.mem[offset:offset+4], v)
}

// Close unmaps the resource and closes the backing file.
func (r *UIORegs) Close() error {
	if err := unix.Munmap(r.mem); err != nil {
		return err
	}
	return r.f.Close()
}

// Fake is an in-memory register file for tests, platform.StaticProvider
// and cmd/pfeng-ihcsh: a flat map keyed by offset, defaulting reads of
// unset offsets to zero.
type Fake struct {
	vals map[uint32]uint32
}

func NewFake() *Fake { return &Fake{vals: make(map[uint32]uint32)} }

func (f *Fake) Read32(offset uint32) uint32 { return f.vals[offset] }

func (f *Fake) Write32(offset uint32, v uint32) { f.vals[offset] = v }
