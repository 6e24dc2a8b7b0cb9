package accel

import (
	"encoding/binary"

	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/memory"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/regmap"
)

// TaskTypeGenerate is the only task type the current bitstream accepts.
const TaskTypeGenerate = 0

// Driver owns the register window for the engine thread. It caches the
// logical config and the last packed image so per-task updates only
// rewrite the words whose bits moved.
type Driver struct {
	backend Backend
	log     *logger.Logger

	cfg      ConfigIn
	cfgWords ConfigWords
	status   StatusOut

	input  *memory.Region
	output *memory.Region
	kv     *memory.Region

	// lastYielded tracks status.TokensGenerated at the last token handed
	// to the engine, so a re-read of an unchanged status never
	// double-counts.
	lastYielded uint32
}

// New wires a driver to a register backend and its borrowed DDR regions.
func New(backend Backend, input, output, kv *memory.Region) *Driver {
	return &Driver{
		backend: backend,
		log:     logger.Log.Component("driver"),
		input:   input,
		output:  output,
		kv:      kv,
	}
}

func (d *Driver) readReg(offset uint32) uint32 {
	metrics.RegisterReads.Inc()
	return d.backend.ReadReg(offset)
}

func (d *Driver) writeReg(offset, value uint32) {
	metrics.RegisterWrites.Inc()
	d.backend.WriteReg(offset, value)
}

// Configure writes the device-wide configuration: buffer addresses,
// stride and the hardware token budget. Called once at startup; it does
// not start the device.
func (d *Driver) Configure(inputAddr, outputAddr, kvCacheAddr uint64, stride, maxTokens uint32) {
	d.cfg.InputBufferAddr = inputAddr
	d.cfg.OutputBufferAddr = outputAddr
	d.cfg.KVCacheAddr = kvCacheAddr
	d.cfg.Stride = stride
	d.cfg.MaxTokens = maxTokens

	d.cfgWords = d.cfg.Pack()
	for i := 0; i < regmap.ConfigInWords; i++ {
		d.writeReg(regmap.ConfigWordOffset(i), d.cfgWords[i])
	}

	d.log.Info("accelerator configured",
		"input_addr", inputAddr,
		"output_addr", outputAddr,
		"kv_cache_addr", kvCacheAddr,
		"stride", stride,
		"max_tokens", maxTokens)
}

// ConfigureModel publishes the model geometry to the device after a
// successful weight load. Only the changed words are rewritten.
func (d *Driver) ConfigureModel(numLayers, hiddenSize, numHeads, vocabSize, seqLen uint32) {
	next := d.cfg
	next.NumLayers = numLayers
	next.HiddenSize = hiddenSize
	next.NumHeads = numHeads
	next.VocabSize = vocabSize
	next.SequenceLength = seqLen
	d.applyConfig(next)

	d.log.Info("model geometry configured",
		"layers", numLayers, "hidden", hiddenSize, "heads", numHeads, "vocab", vocabSize)
}

// SetTaskConfig updates the task-scoped fields and rewrites only the
// words whose bit ranges changed.
func (d *Driver) SetTaskConfig(taskID, promptLen, taskType uint32) {
	next := d.cfg
	next.TaskID = taskID
	next.PromptLength = promptLen
	next.TaskType = taskType
	d.applyConfig(next)
}

func (d *Driver) applyConfig(next ConfigIn) {
	words := next.Pack()
	for _, i := range ChangedWords(d.cfgWords, words) {
		d.writeReg(regmap.ConfigWordOffset(i), words[i])
	}
	d.cfg = next
	d.cfgWords = words
}

// InputCapacity is how many prompt tokens fit the device input buffer.
func (d *Driver) InputCapacity() int {
	return len(d.input.Virt) / 4
}

// StartInference stages the prompt into the input buffer and pulses
// ap_start. Prompts longer than the input buffer are truncated; the
// truncation is logged and counted.
func (d *Driver) StartInference(taskID uint32, promptTokens []uint32) {
	n := len(promptTokens)
	if limit := d.InputCapacity(); n > limit {
		d.log.Warn("prompt truncated to input buffer capacity",
			"task_id", taskID, "prompt_len", n, "capacity", limit)
		metrics.PromptTruncations.Inc()
		n = limit
	}

	d.SetTaskConfig(taskID, uint32(n), TaskTypeGenerate)

	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(d.input.Virt[i*4:], promptTokens[i])
	}

	d.lastYielded = 0
	d.writeReg(regmap.ApCtrl, regmap.CtrlStart)

	d.log.Debug("inference started", "task_id", taskID, "prompt_tokens", n)
}

// PollStatus samples the status block. The four data words are only
// read when the valid gate is up; the cached status keeps its previous
// value otherwise. Returns whether a valid status was captured.
func (d *Driver) PollStatus() bool {
	ctrl := d.readReg(regmap.StatusOutCtrl)
	if ctrl&regmap.StatusOutValid == 0 {
		return false
	}

	var words [regmap.StatusOutWords]uint32
	for i := range words {
		words[i] = d.readReg(regmap.StatusWordOffset(i))
	}
	d.status = UnpackStatus(words)
	return true
}

// NextToken yields the current token when the device has advanced past
// the last yielded position. The tokens_generated counter is the
// authoritative cursor; an unchanged status yields nothing.
func (d *Driver) NextToken() (uint32, bool) {
	if !d.PollStatus() {
		return 0, false
	}
	if !d.status.Valid() || d.status.Done() {
		return 0, false
	}
	if d.status.TokensGenerated <= d.lastYielded {
		return 0, false
	}

	d.lastYielded = d.status.TokensGenerated
	return d.status.CurrentToken, true
}

// Status returns the last captured status block.
func (d *Driver) Status() StatusOut {
	return d.status
}

// IsDone reports the ap_done control bit.
func (d *Driver) IsDone() bool {
	return d.readReg(regmap.ApCtrl)&regmap.CtrlDone != 0
}

// IsIdle reports the ap_idle control bit.
func (d *Driver) IsIdle() bool {
	return d.readReg(regmap.ApCtrl)&regmap.CtrlIdle != 0
}

// Reset clears all interrupt sources, zeroes the control register and
// wipes the KV cache region. Safe to call repeatedly.
func (d *Driver) Reset() {
	d.writeReg(regmap.IrqClear, 0xFFFFFFFF)
	d.writeReg(regmap.ApCtrl, 0)
	d.kv.Zero()
	d.lastYielded = 0
	d.status = StatusOut{}

	metrics.DeviceResets.Inc()
	d.log.Info("accelerator reset, KV cache cleared")
}
