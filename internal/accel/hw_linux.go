package accel

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/regmap"
)

// HardwareBackend maps the real control window through /dev/mem.
// Accesses go through 32-bit atomics so every register touch is a
// single, ordered load or store the compiler cannot elide or merge.
type HardwareBackend struct {
	fd   int
	mem  []byte
	base *uint32
}

// NewHardware opens devMem and maps the 4 KiB window at the device base
// address.
func NewHardware(devMem string) (*HardwareBackend, error) {
	fd, err := unix.Open(devMem, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, devMem, err)
	}

	mem, err := unix.Mmap(fd, regmap.BaseAddr, regmap.WindowSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: mmap window at 0x%08X: %v", ErrDeviceUnavailable, regmap.BaseAddr, err)
	}

	logger.Log.Info("register window mapped",
		"base", fmt.Sprintf("0x%08X", regmap.BaseAddr),
		"size", regmap.WindowSize)

	return &HardwareBackend{
		fd:   fd,
		mem:  mem,
		base: (*uint32)(unsafe.Pointer(&mem[0])),
	}, nil
}

func (h *HardwareBackend) ReadReg(offset uint32) uint32 {
	return atomic.LoadUint32(h.word(offset))
}

func (h *HardwareBackend) WriteReg(offset uint32, value uint32) {
	atomic.StoreUint32(h.word(offset), value)
}

func (h *HardwareBackend) Close() error {
	if h.mem != nil {
		_ = unix.Munmap(h.mem)
		h.mem = nil
	}
	if h.fd >= 0 {
		err := unix.Close(h.fd)
		h.fd = -1
		return err
	}
	return nil
}

func (h *HardwareBackend) word(offset uint32) *uint32 {
	if offset >= regmap.WindowSize || offset%4 != 0 {
		panic(fmt.Sprintf("accel: register offset 0x%X outside aligned window", offset))
	}
	return (*uint32)(unsafe.Pointer(uintptr(unsafe.Pointer(h.base)) + uintptr(offset)))
}
