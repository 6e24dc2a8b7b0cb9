package memory

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/logger"
)

// InitHardware maps the DDR regions through /dev/mem so the device sees
// host writes directly. Physical placement follows the same sequential
// layout as the simulated manager, anchored at cfg.PhysBase, with each
// region rounded up to a page so the mmap offsets stay page-aligned.
func InitHardware(cfg config.Config) (*Manager, error) {
	fd, err := unix.Open(cfg.DevMem, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrMemoryInit, cfg.DevMem, err)
	}

	m := &Manager{}
	m.cleanup = append(m.cleanup, func() { _ = unix.Close(fd) })

	sizes := [numKinds]uint64{
		Weights:      cfg.WeightsSize,
		KVCache:      cfg.KVCacheSize,
		InputBuffer:  cfg.InputSize,
		OutputBuffer: cfg.OutputSize,
	}

	pageSize := uint64(unix.Getpagesize())
	phys := alignUp(cfg.PhysBase, pageSize)
	for k := Kind(0); k < numKinds; k++ {
		size := sizes[k]
		data, err := unix.Mmap(fd, int64(phys), int(alignUp(size, pageSize)),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			m.Release()
			return nil, fmt.Errorf("%w: mmap %s at 0x%X: %v", ErrMemoryInit, k, phys, err)
		}
		mapped := data
		m.cleanup = append(m.cleanup, func() { _ = unix.Munmap(mapped) })

		m.regions[k] = &Region{
			Name: k.String(),
			Phys: phys,
			Virt: data[:size],
			Size: size,
		}
		phys = alignUp(phys+size, pageSize)
	}

	if err := m.checkInvariants(); err != nil {
		m.Release()
		return nil, err
	}

	logger.Log.Info("DDR regions mapped through /dev/mem", "base", fmt.Sprintf("0x%08X", cfg.PhysBase))
	m.logMap()
	return m, nil
}
