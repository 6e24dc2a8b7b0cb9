// Package engine is the control loop between the queues and the
// accelerator: it sequences configure, start, poll and teardown, streams
// decoded tokens to the output sink, and honors control commands at
// token boundaries.
package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/accel"
	"github.com/23skdu/longbow-bodkin/internal/irq"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/queue"
	"github.com/23skdu/longbow-bodkin/internal/tokenizer"
)

// Options carries the engine's collaborators and pacing knobs. Queues
// are injected; the engine is their only consumer.
type Options struct {
	Tasks    *queue.Ring[Task]
	Commands *queue.Ring[Command]
	Driver   *accel.Driver

	// IRQ is optional. When present the generation loop waits on
	// interrupt edges instead of free-running polls.
	IRQ *irq.Service

	Out io.Writer

	MaxTokens    int
	PollInterval time.Duration
	IdleInterval time.Duration
}

// Engine consumes the two queues and drives the accelerator. Run owns
// all state; nothing here is safe for concurrent use from other
// goroutines except the wakeup channel fed by the interrupt service.
type Engine struct {
	tasks    *queue.Ring[Task]
	commands *queue.Ring[Command]
	driver   *accel.Driver
	irqSvc   *irq.Service
	out      io.Writer
	log      *logger.Logger

	maxTokens    int
	pollInterval time.Duration
	idleInterval time.Duration

	// wakeup is pulsed by interrupt callbacks so the generation loop can
	// sleep until the device has something new.
	wakeup chan struct{}

	st state
}

func New(opts Options) *Engine {
	e := &Engine{
		tasks:        opts.Tasks,
		commands:     opts.Commands,
		driver:       opts.Driver,
		irqSvc:       opts.IRQ,
		out:          opts.Out,
		log:          logger.Log.Component("engine"),
		maxTokens:    opts.MaxTokens,
		pollInterval: opts.PollInterval,
		idleInterval: opts.IdleInterval,
		wakeup:       make(chan struct{}, 1),
	}
	if e.maxTokens <= 0 {
		e.maxTokens = 50
	}
	if e.pollInterval <= 0 {
		e.pollInterval = 50 * time.Millisecond
	}
	if e.idleInterval <= 0 {
		e.idleInterval = 100 * time.Millisecond
	}

	if e.irqSvc != nil {
		// Callbacks only pulse the wakeup channel; token data is always
		// re-read from the driver on the engine goroutine.
		pulse := func(irq.Kind) {
			select {
			case e.wakeup <- struct{}{}:
			default:
			}
		}
		e.irqSvc.OnDone(pulse)
		e.irqSvc.OnToken(pulse)
	}

	return e
}

// Run executes the state machine until a Shutdown command lands. It is
// meant to be the body of the engine goroutine.
func (e *Engine) Run() {
	e.log.Info("inference engine started")

	for e.st.status != ShuttingDown {
		e.stepIdle()
	}

	e.shutdown()
}

// Status exposes the lifecycle state for the health snapshot. It is a
// read of engine-owned state and deliberately approximate.
func (e *Engine) Status() Status {
	return e.st.status
}

// CurrentTask reports the task under generation, if any. Same caveat as
// Status: a racy snapshot for observability only.
func (e *Engine) CurrentTask() (uint32, bool) {
	return e.st.currentTaskID, e.st.taskActive
}

// stepIdle is one turn of the top-level loop: drain commands, then try
// one task, else sleep.
func (e *Engine) stepIdle() {
	if cmd, ok := e.commands.TryPop(); ok {
		e.handleIdleCommand(cmd)
		return
	}

	task, ok := e.tasks.TryPop()
	if !ok {
		time.Sleep(e.idleInterval)
		return
	}

	metrics.QueueDepth.WithLabelValues("tasks").Set(float64(e.tasks.Len()))

	e.st.status = Generating
	e.st.currentTaskID = task.ID
	e.st.taskActive = true

	e.generate(task)

	if e.st.status == Generating {
		e.st.status = Idle
	}
	e.st.taskActive = false
	e.st.cancel = false
	e.st.resetPending = false
}

func (e *Engine) handleIdleCommand(cmd Command) {
	metrics.CommandsProcessed.WithLabelValues(cmd.String()).Inc()

	switch cmd {
	case CmdShutdown:
		e.st.status = ShuttingDown
	case CmdReset:
		e.driver.Reset()
		e.emit("\n[Memory cleared]\n")
	case CmdStop:
		// Nothing running to stop.
	}
}

// generate runs one task to a terminal marker. Exactly one of EOS,
// Aborted or Max tokens is emitted per task.
func (e *Engine) generate(task Task) {
	start := time.Now()
	defer func() {
		metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	}()

	e.st.cancel = false
	e.st.resetPending = false

	promptTokens := tokenizer.Encode(task.Prompt)
	e.log.Info("generation started", "task_id", task.ID, "prompt_tokens", len(promptTokens))

	e.emit("\n[Generating] ")
	e.driver.StartInference(task.ID, promptTokens)

	for produced := 0; produced < e.maxTokens; {
		if cmd, ok := e.commands.TryPop(); ok {
			metrics.CommandsProcessed.WithLabelValues(cmd.String()).Inc()
			switch cmd {
			case CmdShutdown:
				e.st.cancel = true
				e.st.status = ShuttingDown
			case CmdReset:
				e.st.cancel = true
				e.st.resetPending = true
			case CmdStop:
				e.st.cancel = true
			}
		}

		if e.st.cancel {
			e.emit("\n[Aborted]\n")
			metrics.GenerationsTotal.WithLabelValues("aborted").Inc()
			if e.st.resetPending {
				e.driver.Reset()
				e.emit("[Memory cleared]\n")
				e.st.resetPending = false
			}
			return
		}

		if token, ok := e.driver.NextToken(); ok {
			if token == accel.EOSToken {
				e.emit("\n[EOS]\n")
				metrics.GenerationsTotal.WithLabelValues("eos").Inc()
				return
			}
			e.emit(tokenizer.Decode(token))
			metrics.TokensStreamed.Inc()
			produced++
			continue
		}

		e.pace()
	}

	e.emit("\n[Max tokens reached]\n")
	metrics.GenerationsTotal.WithLabelValues("max_tokens").Inc()
}

// pace waits for the next poll. With an interrupt service attached the
// wait ends early on a device edge; the poll interval stays as a
// backstop against a lost edge.
func (e *Engine) pace() {
	if e.irqSvc == nil {
		time.Sleep(e.pollInterval)
		return
	}
	select {
	case <-e.wakeup:
	case <-time.After(e.pollInterval):
	}
}

func (e *Engine) shutdown() {
	e.driver.Reset()
	if e.irqSvc != nil {
		e.irqSvc.Stop()
	}
	e.log.Info("engine shutdown complete")
}

// emit writes user-visible output, unbuffered. The sink is the console;
// write failures are not recoverable and only logged.
func (e *Engine) emit(s string) {
	if _, err := fmt.Fprint(e.out, s); err != nil {
		e.log.Error("output sink write failed", "error", err)
	}
}
