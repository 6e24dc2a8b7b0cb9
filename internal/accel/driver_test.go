package accel

import (
	"testing"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/memory"
	"github.com/23skdu/longbow-bodkin/internal/regmap"
)

func testRegions() (input, output, kv *memory.Region) {
	input = &memory.Region{Name: "input_buffer", Phys: 0x10000000, Virt: make([]byte, 64), Size: 64}
	output = &memory.Region{Name: "output_buffer", Phys: 0x20000000, Virt: make([]byte, 64), Size: 64}
	kv = &memory.Region{Name: "kv_cache", Phys: 0x30000000, Virt: make([]byte, 256), Size: 256}
	return input, output, kv
}

func TestDriver_ConfigureWritesAllWords(t *testing.T) {
	sim := NewSimulation(4, 0)
	input, output, kv := testRegions()
	d := New(sim, input, output, kv)

	d.Configure(input.Phys, output.Phys, kv.Phys, 128, 2048)

	for i := 0; i < regmap.ConfigInWords; i++ {
		got := sim.ReadReg(regmap.ConfigWordOffset(i))
		if got != d.cfgWords[i] {
			t.Errorf("config word %d: device has 0x%08X, driver cached 0x%08X", i, got, d.cfgWords[i])
		}
	}

	cfg := UnpackConfig(d.cfgWords)
	if cfg.InputBufferAddr != input.Phys || cfg.Stride != 128 || cfg.MaxTokens != 2048 {
		t.Errorf("configured fields wrong: %+v", cfg)
	}
}

func TestDriver_TokenStream(t *testing.T) {
	sim := NewSimulation(3, 0)
	input, output, kv := testRegions()
	d := New(sim, input, output, kv)

	d.Configure(input.Phys, output.Phys, kv.Phys, 128, 2048)
	d.StartInference(1, []uint32{'h', 'i'})

	var got []uint32
	for i := 0; i < 10; i++ {
		tok, ok := d.NextToken()
		if !ok {
			continue
		}
		got = append(got, tok)
		if tok == EOSToken {
			break
		}
	}

	want := []uint32{'a', 'b', 'c', EOSToken}
	if len(got) != len(want) {
		t.Fatalf("token stream %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %d, expected %d", i, got[i], want[i])
		}
	}

	// After EOS the device latches done; nothing further is yielded.
	if tok, ok := d.NextToken(); ok {
		t.Errorf("NextToken yielded %d after EOS", tok)
	}
	if !d.IsDone() {
		t.Errorf("IsDone = false after the stream completed")
	}
}

// TestDriver_NoDoubleCount pins the advance-gated yield: a status block
// whose tokens_generated has not moved must not be yielded again.
func TestDriver_NoDoubleCount(t *testing.T) {
	// One-hour token period: the device advances once, then holds still.
	sim := NewSimulation(10, time.Hour)
	input, output, kv := testRegions()
	d := New(sim, input, output, kv)

	d.Configure(input.Phys, output.Phys, kv.Phys, 128, 2048)
	d.StartInference(1, []uint32{'x'})

	if _, ok := d.NextToken(); !ok {
		t.Fatalf("first NextToken yielded nothing")
	}
	for i := 0; i < 5; i++ {
		if tok, ok := d.NextToken(); ok {
			t.Fatalf("NextToken re-yielded %d from an unchanged status", tok)
		}
	}
}

func TestDriver_PromptTruncation(t *testing.T) {
	sim := NewSimulation(4, 0)
	input, output, kv := testRegions()
	d := New(sim, input, output, kv)
	d.Configure(input.Phys, output.Phys, kv.Phys, 128, 2048)

	if got := d.InputCapacity(); got != 16 {
		t.Fatalf("InputCapacity = %d, expected 16 for a 64-byte buffer", got)
	}

	prompt := make([]uint32, 20)
	for i := range prompt {
		prompt[i] = uint32(i)
	}
	d.StartInference(2, prompt)

	if d.cfg.PromptLength != 16 {
		t.Errorf("PromptLength = %d, expected truncation to 16", d.cfg.PromptLength)
	}
	if d.cfg.TaskID != 2 {
		t.Errorf("TaskID = %d, expected 2", d.cfg.TaskID)
	}
}

func TestDriver_SetTaskConfigPartialWrite(t *testing.T) {
	sim := NewSimulation(4, 0)
	input, output, kv := testRegions()
	d := New(sim, input, output, kv)
	d.Configure(input.Phys, output.Phys, kv.Phys, 128, 2048)

	d.SetTaskConfig(7, 3, TaskTypeGenerate)

	cfg := UnpackConfig(d.cfgWords)
	if cfg.TaskID != 7 || cfg.PromptLength != 3 {
		t.Errorf("task config not applied: %+v", cfg)
	}
	// Device and cache must agree after a partial write.
	for i := 0; i < regmap.ConfigInWords; i++ {
		if sim.ReadReg(regmap.ConfigWordOffset(i)) != d.cfgWords[i] {
			t.Errorf("config word %d diverged after partial write", i)
		}
	}
}

func TestDriver_Reset(t *testing.T) {
	sim := NewSimulation(4, 0)
	input, output, kv := testRegions()
	for i := range kv.Virt {
		kv.Virt[i] = 0xAA
	}

	d := New(sim, input, output, kv)
	d.Configure(input.Phys, output.Phys, kv.Phys, 128, 2048)
	d.StartInference(3, []uint32{'x'})

	d.Reset()

	for i, b := range kv.Virt {
		if b != 0 {
			t.Fatalf("kv cache byte %d = 0x%02X after reset, expected 0", i, b)
		}
	}
	if !d.IsIdle() {
		t.Errorf("device not idle after reset")
	}
	if tok, ok := d.NextToken(); ok {
		t.Errorf("NextToken yielded %d after reset", tok)
	}

	// Idempotent: a second reset is harmless.
	d.Reset()
}
