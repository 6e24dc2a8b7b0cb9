package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokensStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_tokens_streamed_total",
		Help: "Tokens read from the accelerator and streamed to the console",
	})

	GenerationDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "bodkin_generation_duration_seconds",
		Help: "Wall time of a single generation, start to terminal marker",
	})

	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bodkin_generations_total",
		Help: "Generations by terminal outcome",
	}, []string{"outcome"}) // eos, aborted, max_tokens

	TasksAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_tasks_accepted_total",
		Help: "Tasks accepted into the task queue",
	})

	TasksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_tasks_dropped_total",
		Help: "Tasks dropped because the task queue was full",
	})

	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bodkin_commands_total",
		Help: "Control commands consumed by the engine",
	}, []string{"command"}) // stop, reset, shutdown

	PromptTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_prompt_truncations_total",
		Help: "Prompts truncated to fit the device input buffer",
	})

	InterruptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bodkin_interrupts_total",
		Help: "Interrupts dispatched by the UIO service loop",
	}, []string{"kind"}) // done, ready, token, error

	DeviceResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_device_resets_total",
		Help: "Accelerator resets issued by the engine",
	})

	RegisterWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_register_writes_total",
		Help: "32-bit writes to the accelerator register window",
	})

	RegisterReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_register_reads_total",
		Help: "32-bit reads from the accelerator register window",
	})

	WeightsStagedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bodkin_weights_staged_bytes",
		Help: "Bytes of model weights resident in the DDR weights region",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bodkin_queue_depth",
		Help: "Depth of the task queue, sampled each time the engine takes a task",
	}, []string{"queue"})
)
