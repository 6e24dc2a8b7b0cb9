package accel

import (
	"sync"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/regmap"
)

// DefaultSimTokens is how many tokens a simulated generation produces
// before the EOS marker.
const DefaultSimTokens = 12

// SimulationBackend is an in-process register file with synthetic status
// progression, used on hosts without the device. A read of the status
// valid gate while a generation is live advances the stream by one
// token, at most once per token period; after the limit it reports EOS,
// then latches done and raises the done interrupt bit.
type SimulationBackend struct {
	mu   sync.Mutex
	regs [regmap.WindowSize / 4]uint32

	tokenLimit  uint32
	tokenPeriod time.Duration
	lastAdvance time.Time
	generating  bool
	produced    uint32
	eosSent     bool
}

// NewSimulation returns a simulated device producing tokenLimit tokens
// per generation, no faster than one per tokenPeriod. tokenLimit <= 0
// selects DefaultSimTokens; a zero period advances on every poll.
func NewSimulation(tokenLimit int, tokenPeriod time.Duration) *SimulationBackend {
	limit := uint32(DefaultSimTokens)
	if tokenLimit > 0 {
		limit = uint32(tokenLimit)
	}
	s := &SimulationBackend{tokenLimit: limit, tokenPeriod: tokenPeriod}
	s.regs[regmap.ApCtrl/4] = regmap.CtrlIdle
	return s
}

func (s *SimulationBackend) ReadReg(offset uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset == regmap.StatusOutCtrl {
		if !s.generating && !s.eosSent {
			return 0
		}
		s.advance()
		return regmap.StatusOutValid
	}
	return s.regs[offset/4]
}

func (s *SimulationBackend) WriteReg(offset uint32, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch offset {
	case regmap.ApCtrl:
		if value&regmap.CtrlStart != 0 {
			s.startGeneration()
		} else {
			// Control clear: abandon any live generation.
			s.generating = false
			s.eosSent = false
			s.regs[regmap.ApCtrl/4] = regmap.CtrlIdle
		}
	case regmap.Isr:
		// Write-1-to-clear
		s.regs[regmap.Isr/4] &^= value
	case regmap.IrqClear:
		s.regs[regmap.Isr/4] &^= value
		s.regs[offset/4] = value
	default:
		s.regs[offset/4] = value
	}
}

func (s *SimulationBackend) Close() error {
	return nil
}

func (s *SimulationBackend) startGeneration() {
	s.generating = true
	s.produced = 0
	s.eosSent = false
	s.lastAdvance = time.Time{}
	s.regs[regmap.ApCtrl/4] = regmap.CtrlStart
	s.setStatus(0, 0, StatusFlagValid)
}

// advance moves the synthetic stream forward one step. Tokens cycle
// through the lowercase alphabet so the console output is readable.
func (s *SimulationBackend) advance() {
	if s.tokenPeriod > 0 {
		now := time.Now()
		if now.Sub(s.lastAdvance) < s.tokenPeriod {
			return
		}
		s.lastAdvance = now
	}

	switch {
	case s.produced < s.tokenLimit:
		s.produced++
		tok := uint32('a' + (s.produced-1)%26)
		s.setStatus(tok, s.produced, StatusFlagValid)
	case !s.eosSent:
		s.produced++
		s.eosSent = true
		s.setStatus(EOSToken, s.produced, StatusFlagValid)
	default:
		s.generating = false
		s.setStatus(EOSToken, s.produced, StatusFlagValid|StatusFlagDone)
		s.regs[regmap.ApCtrl/4] = regmap.CtrlDone | regmap.CtrlIdle
		s.regs[regmap.Isr/4] |= regmap.IrqDone
	}
}

func (s *SimulationBackend) setStatus(current, generated, flags uint32) {
	s.regs[regmap.StatusWordOffset(0)/4] = current
	s.regs[regmap.StatusWordOffset(1)/4] = generated
	s.regs[regmap.StatusWordOffset(2)/4] = 0
	s.regs[regmap.StatusWordOffset(3)/4] = flags
}
