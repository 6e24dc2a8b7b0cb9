package memory

import (
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.WeightsSize = 64 << 10
	cfg.KVCacheSize = 32 << 10
	cfg.InputSize = 4 << 10
	cfg.OutputSize = 4 << 10
	return cfg
}

func TestInit_PublishesAllRegions(t *testing.T) {
	m, err := Init(testConfig())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer m.Release()

	for k := Kind(0); k < numKinds; k++ {
		r := m.Get(k)
		if r == nil {
			t.Fatalf("region %s missing", k)
		}
		if r.Name != k.String() {
			t.Errorf("region %s published as %q", k, r.Name)
		}
		if uint64(len(r.Virt)) != r.Size {
			t.Errorf("region %s: virt length %d, size %d", k, len(r.Virt), r.Size)
		}
	}
}

func TestInit_AlignmentAndNoOverlap(t *testing.T) {
	m, err := Init(testConfig())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer m.Release()

	for k := Kind(0); k < numKinds; k++ {
		r := m.Get(k)
		if r.Phys%regionAlign != 0 {
			t.Errorf("region %s phys 0x%X misaligned", k, r.Phys)
		}
		if sliceAddr(r.Virt)%regionAlign != 0 {
			t.Errorf("region %s host view misaligned", k)
		}
	}

	for i := Kind(0); i < numKinds; i++ {
		for j := i + 1; j < numKinds; j++ {
			a, b := m.Get(i), m.Get(j)
			if a.Phys < b.Phys+b.Size && b.Phys < a.Phys+a.Size {
				t.Errorf("regions %s and %s overlap", i, j)
			}
		}
	}
}

func TestRegion_Zero(t *testing.T) {
	m, err := Init(testConfig())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer m.Release()

	kv := m.Get(KVCache)
	for i := range kv.Virt {
		kv.Virt[i] = 0xFF
	}
	kv.Zero()
	for i, b := range kv.Virt {
		if b != 0 {
			t.Fatalf("byte %d = 0x%02X after Zero", i, b)
		}
	}
}

func TestInit_RejectsZeroSize(t *testing.T) {
	cfg := testConfig()
	cfg.InputSize = 0
	if _, err := Init(cfg); err == nil {
		t.Errorf("Init accepted a zero-sized region")
	}
}
