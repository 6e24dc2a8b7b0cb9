// Package irq runs the optional interrupt service loop over a UIO
// descriptor. The loop converts device edges into short callbacks; it
// never interprets token data itself — the driver stays the single
// source of truth for status.
package irq

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/23skdu/longbow-bodkin/internal/accel"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/regmap"
)

// Kind identifies an interrupt source bit.
type Kind int

const (
	Done Kind = iota
	Ready
	TokenReady
	Error
)

func (k Kind) String() string {
	switch k {
	case Done:
		return "done"
	case Ready:
		return "ready"
	case TokenReady:
		return "token"
	case Error:
		return "error"
	}
	return "unknown"
}

// Callback handles one interrupt edge. Callbacks run on the service
// goroutine and must not block or do long work; they signal the engine
// through atomics or channels.
type Callback func(Kind)

// Stats is a snapshot of the service counters.
type Stats struct {
	Total  uint64 `json:"total"`
	Done   uint64 `json:"done"`
	Ready  uint64 `json:"ready"`
	Token  uint64 `json:"token"`
	Errors uint64 `json:"errors"`
}

// Service owns the UIO descriptor and the interrupt enable registers.
type Service struct {
	fd   int
	regs accel.Backend
	log  *logger.Logger

	running atomic.Bool
	wg      sync.WaitGroup

	mu       sync.Mutex
	onDone   Callback
	onReady  Callback
	onToken  Callback
	onError  Callback

	total  atomic.Uint64
	done   atomic.Uint64
	ready  atomic.Uint64
	token  atomic.Uint64
	errors atomic.Uint64
}

// New opens the UIO device and binds the service to the register
// backend it will read and clear the ISR through.
func New(uioPath string, regs accel.Backend) (*Service, error) {
	fd, err := unix.Open(uioPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", accel.ErrDeviceUnavailable, uioPath, err)
	}

	logger.Log.Info("UIO device opened", "path", uioPath, "fd", fd)
	return &Service{
		fd:   fd,
		regs: regs,
		log:  logger.Log.Component("irq"),
	}, nil
}

// OnDone registers the ap_done callback.
func (s *Service) OnDone(cb Callback) { s.setCallback(&s.onDone, cb) }

// OnReady registers the ap_ready callback.
func (s *Service) OnReady(cb Callback) { s.setCallback(&s.onReady, cb) }

// OnToken registers the token-ready callback.
func (s *Service) OnToken(cb Callback) { s.setCallback(&s.onToken, cb) }

// OnError registers the device-error callback.
func (s *Service) OnError(cb Callback) { s.setCallback(&s.onError, cb) }

func (s *Service) setCallback(slot *Callback, cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*slot = cb
}

// Start enables interrupts at the device and launches the service loop.
func (s *Service) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	s.regs.WriteReg(regmap.Gie, 1)
	s.regs.WriteReg(regmap.Ier, regmap.IrqDone|regmap.IrqReady)

	s.wg.Add(1)
	go s.loop()
	s.log.Info("interrupt service started")
}

// Stop joins the loop, disables interrupts and closes the descriptor.
func (s *Service) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.wg.Wait()

	s.regs.WriteReg(regmap.Ier, 0)
	s.regs.WriteReg(regmap.Gie, 0)
	_ = unix.Close(s.fd)
	s.fd = -1

	s.log.Info("interrupt service stopped",
		"total", s.total.Load(),
		"done", s.done.Load(),
		"ready", s.ready.Load(),
		"token", s.token.Load(),
		"errors", s.errors.Load())
}

// loop blocks on the descriptor with a 1-second timeout so Stop is
// observed even on a quiet device.
func (s *Service) loop() {
	defer s.wg.Done()

	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	var count [4]byte
	rearm := [4]byte{1, 0, 0, 0}

	for s.running.Load() {
		fds[0].Revents = 0
		n, err := unix.Poll(fds, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			s.log.Error("poll failed, service exiting", "error", err)
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		nb, err := unix.Read(s.fd, count[:])
		if err != nil || nb != len(count) {
			s.log.Warn("short interrupt count read", "bytes", nb, "error", err)
			continue
		}
		s.total.Add(1)
		s.log.Debug("interrupt", "count", binary.LittleEndian.Uint32(count[:]))

		isr := s.regs.ReadReg(regmap.Isr)
		s.dispatch(isr)
		if isr != 0 {
			s.regs.WriteReg(regmap.Isr, isr)
		}

		// Re-arm the UIO interrupt line.
		if _, err := unix.Write(s.fd, rearm[:]); err != nil {
			s.log.Warn("interrupt re-arm failed", "error", err)
		}
	}
}

func (s *Service) dispatch(isr uint32) {
	s.mu.Lock()
	onDone, onReady, onToken, onError := s.onDone, s.onReady, s.onToken, s.onError
	s.mu.Unlock()

	if isr&regmap.IrqDone != 0 {
		s.done.Add(1)
		metrics.InterruptsTotal.WithLabelValues("done").Inc()
		if onDone != nil {
			onDone(Done)
		}
	}
	if isr&regmap.IrqReady != 0 {
		s.ready.Add(1)
		metrics.InterruptsTotal.WithLabelValues("ready").Inc()
		if onReady != nil {
			onReady(Ready)
		}
	}
	if isr&regmap.IrqTokenReady != 0 {
		s.token.Add(1)
		metrics.InterruptsTotal.WithLabelValues("token").Inc()
		if onToken != nil {
			onToken(TokenReady)
		}
	}
	if isr&regmap.IrqError != 0 {
		s.errors.Add(1)
		metrics.InterruptsTotal.WithLabelValues("error").Inc()
		if onError != nil {
			onError(Error)
		}
	}
}

// Stats snapshots the interrupt counters.
func (s *Service) Stats() Stats {
	return Stats{
		Total:  s.total.Load(),
		Done:   s.done.Load(),
		Ready:  s.ready.Load(),
		Token:  s.token.Load(),
		Errors: s.errors.Load(),
	}
}

// Running reports whether the service loop is live.
func (s *Service) Running() bool {
	return s.running.Load()
}
