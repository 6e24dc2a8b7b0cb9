// Package memory owns the DDR regions shared between the host and the
// accelerator: the weights image, the KV cache, and the two I/O buffers.
// Regions are acquired once at startup and released after the engine
// joins; the driver and stager only ever borrow them.
package memory

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/logger"
)

// ErrMemoryInit reports a failed region acquisition at startup.
var ErrMemoryInit = errors.New("memory: initialization failed")

// regionAlign is the minimum natural alignment of every region.
const regionAlign = 64

// Kind names the four fixed regions.
type Kind int

const (
	Weights Kind = iota
	KVCache
	InputBuffer
	OutputBuffer
	numKinds
)

func (k Kind) String() string {
	switch k {
	case Weights:
		return "weights"
	case KVCache:
		return "kv_cache"
	case InputBuffer:
		return "input_buffer"
	case OutputBuffer:
		return "output_buffer"
	}
	return "unknown"
}

// Region is one contiguous DDR range visible to both host and device.
// Virt aliases the same bytes the device reads at Phys.
type Region struct {
	Name string
	Phys uint64
	Virt []byte
	Size uint64
}

// Zero clears the region contents.
func (r *Region) Zero() {
	clear(r.Virt)
}

// Manager acquires and publishes the memory map.
type Manager struct {
	regions [numKinds]*Region

	// backing holds the raw allocations so aligned sub-slices in the
	// regions keep their base arrays alive.
	backing [][]byte

	// cleanup tears down mmap-backed regions on Release.
	cleanup []func()
}

// Init reserves all four regions per the configured sizes. Physical
// addresses are laid out sequentially from cfg.PhysBase so the regions
// can never overlap regardless of the configured sizes.
func Init(cfg config.Config) (*Manager, error) {
	m := &Manager{}

	sizes := [numKinds]uint64{
		Weights:      cfg.WeightsSize,
		KVCache:      cfg.KVCacheSize,
		InputBuffer:  cfg.InputSize,
		OutputBuffer: cfg.OutputSize,
	}

	phys := alignUp(cfg.PhysBase, regionAlign)
	for k := Kind(0); k < numKinds; k++ {
		region, err := m.reserve(k.String(), phys, sizes[k])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMemoryInit, k, err)
		}
		m.regions[k] = region
		phys = alignUp(phys+sizes[k], regionAlign)
	}

	if err := m.checkInvariants(); err != nil {
		return nil, err
	}

	m.logMap()
	return m, nil
}

// reserve allocates host backing for one region. The backing slice is
// over-allocated so the published view starts on a regionAlign boundary.
func (m *Manager) reserve(name string, phys, size uint64) (*Region, error) {
	if size == 0 {
		return nil, fmt.Errorf("zero-sized region")
	}

	raw := make([]byte, size+regionAlign)
	m.backing = append(m.backing, raw)

	off := 0
	// Alignment of a heap slice is not guaranteed past the allocator's
	// own granularity; compute the adjustment from the element address.
	if rem := sliceAddr(raw) % regionAlign; rem != 0 {
		off = int(regionAlign - rem)
	}

	return &Region{
		Name: name,
		Phys: phys,
		Virt: raw[off : off+int(size)],
		Size: size,
	}, nil
}

// Get returns the region for a kind. The caller borrows it; the manager
// keeps ownership until Release.
func (m *Manager) Get(k Kind) *Region {
	return m.regions[k]
}

// Release drops every region. Must run after the engine has joined.
func (m *Manager) Release() {
	for _, fn := range m.cleanup {
		fn()
	}
	m.cleanup = nil
	for i := range m.regions {
		m.regions[i] = nil
	}
	m.backing = nil
	logger.Log.Info("memory regions released")
}

func (m *Manager) checkInvariants() error {
	for i := Kind(0); i < numKinds; i++ {
		r := m.regions[i]
		if r.Phys%regionAlign != 0 {
			return fmt.Errorf("%w: region %s phys 0x%X not %d-byte aligned", ErrMemoryInit, r.Name, r.Phys, regionAlign)
		}
		if sliceAddr(r.Virt)%regionAlign != 0 {
			return fmt.Errorf("%w: region %s host view not %d-byte aligned", ErrMemoryInit, r.Name, regionAlign)
		}
		for j := i + 1; j < numKinds; j++ {
			o := m.regions[j]
			if r.Phys < o.Phys+o.Size && o.Phys < r.Phys+r.Size {
				return fmt.Errorf("%w: regions %s and %s overlap", ErrMemoryInit, r.Name, o.Name)
			}
		}
	}
	return nil
}

func (m *Manager) logMap() {
	for _, r := range m.regions {
		logger.Log.Info("memory region",
			"name", r.Name,
			"phys", fmt.Sprintf("0x%08X", r.Phys),
			"size", r.Size)
	}
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
