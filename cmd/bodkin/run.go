package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-bodkin/internal/accel"
	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/engine"
	"github.com/23skdu/longbow-bodkin/internal/irq"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/memory"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/monitoring"
	"github.com/23skdu/longbow-bodkin/internal/queue"
	"github.com/23skdu/longbow-bodkin/internal/staging"
	"github.com/23skdu/longbow-bodkin/internal/weights"
)

// simTokenPeriod paces the simulated device so console output streams at
// a believable rate.
const simTokenPeriod = 60 * time.Millisecond

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the inference console",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML config file", Value: "bodkin.yaml"},
			&cli.StringFlag{Name: "model", Usage: "Path to the weight container"},
			&cli.BoolFlag{Name: "hw", Usage: "Use the memory-mapped hardware backend"},
			&cli.BoolFlag{Name: "irq", Usage: "Run the UIO interrupt service"},
			&cli.StringFlag{Name: "uio", Usage: "UIO device path"},
			&cli.IntFlag{Name: "max-tokens", Usage: "Per-generation token budget"},
			&cli.StringFlag{Name: "metrics", Usage: "Metrics/health listen address"},
			&cli.StringFlag{Name: "log-level", Usage: "DEBUG, INFO, WARN or ERROR"},
			&cli.StringFlag{Name: "log-format", Usage: "console or json"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Default()
			if err := cfg.LoadFile(cmd.String("config")); err != nil {
				return err
			}
			applyRunFlags(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger.Setup(cfg.LogLevel, cfg.LogFormat)
			return run(cfg, os.Stdin, os.Stdout)
		},
	}
}

func applyRunFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("model") {
		cfg.ModelPath = cmd.String("model")
	}
	if cmd.IsSet("hw") {
		cfg.Hardware = cmd.Bool("hw")
	}
	if cmd.IsSet("irq") {
		cfg.Interrupts = cmd.Bool("irq")
	}
	if cmd.IsSet("uio") {
		cfg.UIODevice = cmd.String("uio")
	}
	if cmd.IsSet("max-tokens") {
		cfg.MaxTokens = int(cmd.Int("max-tokens"))
	}
	if cmd.IsSet("metrics") {
		cfg.MetricsAddr = cmd.String("metrics")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = cmd.String("log-format")
	}
}

// run wires the whole control plane and blocks until orderly shutdown.
// Any error it returns is an initialization failure; runtime faults are
// surfaced on the console and the engine recovers or shuts down itself.
func run(cfg config.Config, in io.Reader, out io.Writer) error {
	banner(out)

	// Phase 1: memory
	var (
		mem *memory.Manager
		err error
	)
	if cfg.Hardware {
		mem, err = memory.InitHardware(cfg)
	} else {
		mem, err = memory.Init(cfg)
	}
	if err != nil {
		return err
	}
	defer mem.Release()

	// Phase 2: weights
	model, err := loadWeights(cfg, mem)
	if err != nil {
		return err
	}

	// Phase 3: device
	var backend accel.Backend
	if cfg.Hardware {
		backend, err = accel.NewHardware(cfg.DevMem)
		if err != nil {
			return err
		}
	} else {
		backend = accel.NewSimulation(accel.DefaultSimTokens, simTokenPeriod)
	}
	defer backend.Close()

	input := mem.Get(memory.InputBuffer)
	output := mem.Get(memory.OutputBuffer)
	kv := mem.Get(memory.KVCache)

	driver := accel.New(backend, input, output, kv)
	driver.Configure(input.Phys, output.Phys, kv.Phys, cfg.Stride, cfg.DeviceMaxTokens)
	if model != nil {
		hdr := model.Header
		driver.ConfigureModel(hdr.NumLayers, hdr.HiddenSize, hdr.NumHeads, hdr.VocabSize, hdr.MaxSeqLen)
	}

	var irqSvc *irq.Service
	if cfg.Interrupts {
		irqSvc, err = irq.New(cfg.UIODevice, backend)
		if err != nil {
			return err
		}
	}

	tasks := queue.New[engine.Task](cfg.TaskQueueDepth)
	commands := queue.New[engine.Command](cfg.CommandQueueDepth)

	eng := engine.New(engine.Options{
		Tasks:        tasks,
		Commands:     commands,
		Driver:       driver,
		IRQ:          irqSvc,
		Out:          out,
		MaxTokens:    cfg.MaxTokens,
		PollInterval: cfg.PollInterval,
		IdleInterval: cfg.IdleInterval,
	})

	// Callbacks are registered by the engine constructor; only then is it
	// safe to let edges fire.
	if irqSvc != nil {
		irqSvc.Start()
	}

	monitor := monitoring.New(monitoring.Sources{
		EngineState: func() string { return eng.Status().String() },
		CurrentTask: eng.CurrentTask,
		TaskDepth:   tasks.Len,
		CmdDepth:    commands.Len,
		IRQStats: func() irq.Stats {
			if irqSvc == nil {
				return irq.Stats{}
			}
			return irqSvc.Stats()
		},
		ModelLoaded: model != nil,
	})
	go func() {
		if serveErr := monitor.Serve(cfg.MetricsAddr); serveErr != nil {
			logger.Log.Warn("monitoring endpoint failed", "error", serveErr)
		}
	}()

	g := new(errgroup.Group)
	g.Go(func() error {
		eng.Run()
		return nil
	})

	fmt.Fprintln(out, "\nSystem ready for inference!")
	shell(in, out, tasks, commands)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Log.Info("application shutdown")
	return nil
}

// loadWeights parses and stages the model container. A missing or bad
// container degrades to simulation mode without weights; only an
// undersized DDR region is fatal.
func loadWeights(cfg config.Config, mem *memory.Manager) (*weights.Model, error) {
	model, err := weights.LoadFile(cfg.ModelPath)
	if err != nil {
		if errors.Is(err, weights.ErrBadContainer) || errors.Is(err, weights.ErrTruncated) {
			logger.Log.Error("weight container rejected", "path", cfg.ModelPath, "error", err)
		} else {
			logger.Log.Warn("no model weights found", "path", cfg.ModelPath, "error", err)
		}
		logger.Log.Warn("continuing without weights (simulation mode)")
		return nil, nil
	}

	stager := staging.New(model, mem.Get(memory.Weights))
	if err := stager.Stage(); err != nil {
		return nil, err
	}
	if len(model.Layers) > 0 {
		base, _ := stager.LayerAddress(0)
		logger.Log.Debug("layer 0 staged", "phys", fmt.Sprintf("0x%08X", base))
	}
	return model, nil
}

// shell classifies console lines into commands and tasks until /quit or
// EOF. It is the single producer for both queues.
func shell(in io.Reader, out io.Writer, tasks *queue.Ring[engine.Task], commands *queue.Ring[engine.Command]) {
	scanner := bufio.NewScanner(in)
	nextTaskID := uint32(1)

	fmt.Fprint(out, "\n> ")
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			fmt.Fprint(out, "> ")
			continue
		}

		switch line {
		case "/quit":
			pushCommand(commands, engine.CmdShutdown)
			return
		case "/stop":
			pushCommand(commands, engine.CmdStop)
		case "/reset":
			pushCommand(commands, engine.CmdReset)
		default:
			task := engine.Task{ID: nextTaskID, Kind: engine.TaskGenerate, Prompt: []byte(line)}
			if tasks.TryPush(task) {
				nextTaskID++
				metrics.TasksAccepted.Inc()
			} else {
				fmt.Fprint(out, "[Warning] Task queue full, dropping request\n")
				metrics.TasksDropped.Inc()
			}
		}
		fmt.Fprint(out, "> ")
	}

	// EOF on stdin: treat as an orderly quit.
	pushCommand(commands, engine.CmdShutdown)
}

func pushCommand(commands *queue.Ring[engine.Command], cmd engine.Command) {
	if !commands.TryPush(cmd) {
		logger.Log.Warn("command queue full, dropping command", "command", cmd.String())
	}
}

func banner(out io.Writer) {
	fmt.Fprintln(out, "=================================================")
	fmt.Fprintln(out, "FPGA Inference Engine Console")
	fmt.Fprintln(out, "=================================================")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  /quit   - Shutdown engine")
	fmt.Fprintln(out, "  /stop   - Stop current generation")
	fmt.Fprintln(out, "  /reset  - Clear KV cache")
	fmt.Fprintln(out, "  <text>  - Generate response")
	fmt.Fprintln(out, "=================================================")
}
