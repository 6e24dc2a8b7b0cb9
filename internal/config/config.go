package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries everything the firmware needs at startup: device paths,
// DDR sizing, and the pacing knobs of the engine loop. Values come from
// Default(), optionally a YAML file, then CLI flag overrides.
type Config struct {
	ModelPath string `yaml:"model_path"`
	UIODevice string `yaml:"uio_device"`
	DevMem    string `yaml:"dev_mem"`

	// Hardware selects the memory-mapped register backend; the default is
	// the in-process simulation backend.
	Hardware   bool `yaml:"hardware"`
	Interrupts bool `yaml:"interrupts"`

	MaxTokens    int           `yaml:"max_tokens"`
	PollInterval time.Duration `yaml:"poll_interval"`
	IdleInterval time.Duration `yaml:"idle_interval"`

	TaskQueueDepth    int `yaml:"task_queue_depth"`
	CommandQueueDepth int `yaml:"command_queue_depth"`

	// DDR sizing. Physical placement is decided by the memory manager;
	// PhysBase anchors the simulated layout.
	PhysBase    uint64 `yaml:"phys_base"`
	WeightsSize uint64 `yaml:"weights_size"`
	KVCacheSize uint64 `yaml:"kv_cache_size"`
	InputSize   uint64 `yaml:"input_size"`
	OutputSize  uint64 `yaml:"output_size"`

	// Device-wide configuration written once at startup.
	Stride          uint32 `yaml:"stride"`
	DeviceMaxTokens uint32 `yaml:"device_max_tokens"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

func Default() Config {
	return Config{
		ModelPath: "model.pt.bin",
		UIODevice: "/dev/uio0",
		DevMem:    "/dev/mem",

		MaxTokens:    50,
		PollInterval: 50 * time.Millisecond,
		IdleInterval: 100 * time.Millisecond,

		TaskQueueDepth:    100,
		CommandQueueDepth: 10,

		PhysBase:    0x10000000,
		WeightsSize: 1 << 30,  // 1 GiB
		KVCacheSize: 512 << 20, // 512 MiB
		InputSize:   16 << 10,
		OutputSize:  16 << 10,

		Stride:          128,
		DeviceMaxTokens: 2048,

		MetricsAddr: ":9090",
		LogLevel:    "INFO",
		LogFormat:   "console",
	}
}

func (c *Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("invalid max_tokens: %d (must be positive)", c.MaxTokens)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll_interval: %v (must be positive)", c.PollInterval)
	}
	if c.IdleInterval <= 0 {
		return fmt.Errorf("invalid idle_interval: %v (must be positive)", c.IdleInterval)
	}
	if c.TaskQueueDepth <= 0 {
		return fmt.Errorf("invalid task_queue_depth: %d (must be positive)", c.TaskQueueDepth)
	}
	if c.CommandQueueDepth <= 0 {
		return fmt.Errorf("invalid command_queue_depth: %d (must be positive)", c.CommandQueueDepth)
	}
	if c.WeightsSize == 0 {
		return fmt.Errorf("invalid weights_size: 0")
	}
	if c.KVCacheSize == 0 {
		return fmt.Errorf("invalid kv_cache_size: 0")
	}
	if c.InputSize == 0 || c.InputSize%4 != 0 {
		return fmt.Errorf("invalid input_size: %d (must be a positive multiple of 4)", c.InputSize)
	}
	if c.OutputSize == 0 || c.OutputSize%4 != 0 {
		return fmt.Errorf("invalid output_size: %d (must be a positive multiple of 4)", c.OutputSize)
	}
	if c.Stride == 0 {
		return fmt.Errorf("invalid stride: 0")
	}
	if c.Hardware && c.DevMem == "" {
		return fmt.Errorf("hardware backend requires dev_mem path")
	}
	if c.Interrupts && c.UIODevice == "" {
		return fmt.Errorf("interrupt service requires uio_device path")
	}
	return nil
}

// LoadFile overlays values from a YAML config file onto c. A missing file
// is not an error; the defaults stand.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
