package engine

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/accel"
	"github.com/23skdu/longbow-bodkin/internal/memory"
	"github.com/23skdu/longbow-bodkin/internal/queue"
)

// syncBuffer is a goroutine-safe output sink for engine tests.
type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type harness struct {
	eng      *Engine
	tasks    *queue.Ring[Task]
	commands *queue.Ring[Command]
	out      *syncBuffer
	kv       *memory.Region
	done     chan struct{}
}

func newHarness(simTokens int, tokenPeriod time.Duration, maxTokens int) *harness {
	input := &memory.Region{Name: "input_buffer", Phys: 0x10000000, Virt: make([]byte, 256), Size: 256}
	output := &memory.Region{Name: "output_buffer", Phys: 0x20000000, Virt: make([]byte, 256), Size: 256}
	kv := &memory.Region{Name: "kv_cache", Phys: 0x30000000, Virt: make([]byte, 128), Size: 128}

	sim := accel.NewSimulation(simTokens, tokenPeriod)
	driver := accel.New(sim, input, output, kv)
	driver.Configure(input.Phys, output.Phys, kv.Phys, 128, 2048)

	h := &harness{
		tasks:    queue.New[Task](100),
		commands: queue.New[Command](10),
		out:      &syncBuffer{},
		kv:       kv,
		done:     make(chan struct{}),
	}
	h.eng = New(Options{
		Tasks:        h.tasks,
		Commands:     h.commands,
		Driver:       driver,
		Out:          h.out,
		MaxTokens:    maxTokens,
		PollInterval: 2 * time.Millisecond,
		IdleInterval: 2 * time.Millisecond,
	})
	return h
}

func (h *harness) start() {
	go func() {
		h.eng.Run()
		close(h.done)
	}()
}

func (h *harness) waitOutput(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(h.out.String(), substr) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("output never contained %q; got %q", substr, h.out.String())
}

func (h *harness) shutdown(t *testing.T) {
	t.Helper()
	h.commands.TryPush(CmdShutdown)
	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		t.Fatalf("engine did not shut down")
	}
}

func TestEngine_GenerateHappyPath(t *testing.T) {
	h := newHarness(5, 0, 50)
	h.start()

	h.tasks.TryPush(Task{ID: 1, Kind: TaskGenerate, Prompt: []byte("hi")})
	h.waitOutput(t, "[EOS]\n")

	out := h.out.String()
	if !strings.Contains(out, "[Generating] ") {
		t.Errorf("missing generating marker: %q", out)
	}
	if !strings.Contains(out, "abcde") {
		t.Errorf("missing streamed tokens: %q", out)
	}

	h.shutdown(t)
}

func TestEngine_ExactlyOneTerminalMarker(t *testing.T) {
	h := newHarness(3, 0, 50)
	h.start()

	h.tasks.TryPush(Task{ID: 1, Kind: TaskGenerate, Prompt: []byte("x")})
	h.waitOutput(t, "[EOS]\n")
	// Give the engine a moment to (incorrectly) emit anything further.
	time.Sleep(20 * time.Millisecond)
	h.shutdown(t)

	out := h.out.String()
	total := strings.Count(out, "[EOS]") + strings.Count(out, "[Aborted]") + strings.Count(out, "[Max tokens reached]")
	if total != 1 {
		t.Errorf("expected exactly one terminal marker, output: %q", out)
	}
}

func TestEngine_StopDuringGeneration(t *testing.T) {
	h := newHarness(1000, 15*time.Millisecond, 1000)
	for i := range h.kv.Virt {
		h.kv.Virt[i] = 0xAA
	}
	h.start()

	h.tasks.TryPush(Task{ID: 2, Kind: TaskGenerate, Prompt: []byte("a long prompt")})
	h.waitOutput(t, "abc") // three tokens observed

	h.commands.TryPush(CmdStop)
	h.waitOutput(t, "[Aborted]\n")

	if strings.Contains(h.out.String(), "[Memory cleared]") {
		t.Errorf("stop must not clear memory: %q", h.out.String())
	}
	for i, b := range h.kv.Virt {
		if b != 0xAA {
			t.Fatalf("kv cache byte %d changed after stop", i)
		}
	}

	h.shutdown(t)
}

func TestEngine_ResetDuringGeneration(t *testing.T) {
	h := newHarness(1000, 15*time.Millisecond, 1000)
	for i := range h.kv.Virt {
		h.kv.Virt[i] = 0xAA
	}
	h.start()

	h.tasks.TryPush(Task{ID: 3, Kind: TaskGenerate, Prompt: []byte("prompt")})
	h.waitOutput(t, "ab")

	h.commands.TryPush(CmdReset)
	h.waitOutput(t, "[Aborted]\n[Memory cleared]\n")

	for i, b := range h.kv.Virt {
		if b != 0 {
			t.Fatalf("kv cache byte %d = 0x%02X after reset", i, b)
		}
	}

	h.shutdown(t)
}

func TestEngine_ShutdownDuringGeneration(t *testing.T) {
	h := newHarness(1000, 15*time.Millisecond, 1000)
	h.start()

	h.tasks.TryPush(Task{ID: 4, Kind: TaskGenerate, Prompt: []byte("prompt")})
	h.waitOutput(t, "a")

	h.commands.TryPush(CmdShutdown)
	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		t.Fatalf("engine still running after shutdown during generation")
	}
	if !strings.Contains(h.out.String(), "[Aborted]\n") {
		t.Errorf("missing abort marker on shutdown: %q", h.out.String())
	}
}

func TestEngine_MaxTokensReached(t *testing.T) {
	h := newHarness(1000, 0, 5)
	h.start()

	h.tasks.TryPush(Task{ID: 5, Kind: TaskGenerate, Prompt: []byte("p")})
	h.waitOutput(t, "[Max tokens reached]\n")

	if strings.Contains(h.out.String(), "[EOS]") {
		t.Errorf("EOS emitted alongside max-tokens: %q", h.out.String())
	}

	h.shutdown(t)
}

func TestEngine_IdleReset(t *testing.T) {
	h := newHarness(5, 0, 50)
	for i := range h.kv.Virt {
		h.kv.Virt[i] = 0x55
	}
	h.start()

	h.commands.TryPush(CmdReset)
	h.waitOutput(t, "[Memory cleared]\n")

	for i, b := range h.kv.Virt {
		if b != 0 {
			t.Fatalf("kv cache byte %d not cleared by idle reset", i)
		}
	}

	h.shutdown(t)
}

func TestEngine_SequentialTasks(t *testing.T) {
	h := newHarness(2, 0, 50)
	h.start()

	h.tasks.TryPush(Task{ID: 1, Kind: TaskGenerate, Prompt: []byte("one")})
	h.tasks.TryPush(Task{ID: 2, Kind: TaskGenerate, Prompt: []byte("two")})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Count(h.out.String(), "[EOS]\n") == 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if got := strings.Count(h.out.String(), "[EOS]\n"); got != 2 {
		t.Errorf("completed %d generations, expected 2: %q", got, h.out.String())
	}

	h.shutdown(t)
}
