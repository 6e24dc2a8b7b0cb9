// Package monitoring serves the health snapshot and the Prometheus
// scrape endpoint for the firmware process.
package monitoring

import (
	"net/http"
	"runtime"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-bodkin/internal/irq"
	"github.com/23skdu/longbow-bodkin/internal/logger"
)

// Snapshot is the health document returned by /healthz.
type Snapshot struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`

	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`

	EngineState   string  `json:"engine_state"`
	CurrentTaskID *uint32 `json:"current_task_id,omitempty"`
	ModelLoaded   bool    `json:"model_loaded"`
	TaskDepth     int     `json:"task_queue_depth"`
	CommandDepth  int     `json:"command_queue_depth"`

	Interrupts *irq.Stats `json:"interrupts,omitempty"`
}

// Sources are the live getters the snapshot is assembled from. Nil
// getters are skipped.
type Sources struct {
	EngineState func() string
	CurrentTask func() (uint32, bool)
	TaskDepth   func() int
	CmdDepth    func() int
	IRQStats    func() irq.Stats

	ModelLoaded bool
}

// Monitor owns the HTTP surface.
type Monitor struct {
	start   time.Time
	sources Sources
}

func New(sources Sources) *Monitor {
	return &Monitor{start: time.Now(), sources: sources}
}

func (m *Monitor) snapshot() Snapshot {
	s := Snapshot{
		Status:      "ok",
		Timestamp:   time.Now(),
		Uptime:      time.Since(m.start).Round(time.Second).String(),
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		ModelLoaded: m.sources.ModelLoaded,
	}
	if m.sources.EngineState != nil {
		s.EngineState = m.sources.EngineState()
	}
	if m.sources.CurrentTask != nil {
		if id, active := m.sources.CurrentTask(); active {
			s.CurrentTaskID = &id
		}
	}
	if m.sources.TaskDepth != nil {
		s.TaskDepth = m.sources.TaskDepth()
	}
	if m.sources.CmdDepth != nil {
		s.CommandDepth = m.sources.CmdDepth()
	}
	if m.sources.IRQStats != nil {
		stats := m.sources.IRQStats()
		s.Interrupts = &stats
	}
	return s
}

// Handler returns the mux with /healthz and /metrics.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(m.snapshot()); err != nil {
			logger.Log.Error("health snapshot encode failed", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve blocks on the HTTP listener and returns its error. The run
// command starts it on its own goroutine and only logs a listener
// failure; it is not fatal.
func (m *Monitor) Serve(addr string) error {
	logger.Log.Info("monitoring endpoint serving", "addr", addr)
	return http.ListenAndServe(addr, m.Handler())
}
