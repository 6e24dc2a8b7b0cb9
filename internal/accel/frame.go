// Package accel drives the accelerator through its memory-mapped
// register window: packing the 1216-bit configuration block, decoding
// the 128-bit status block, and sequencing start/poll/reset.
package accel

import "github.com/23skdu/longbow-bodkin/internal/regmap"

// EOSToken is the in-band end-of-sequence marker the device reports as
// a current_token value.
const EOSToken = 0xFFFFFFFF

// Word index of each logical field inside the config block. 64-bit
// fields span two words, low word first.
const (
	wordInputAddr    = 0
	wordOutputAddr   = 2
	wordKVCacheAddr  = 4
	wordStride       = 6
	wordMaxTokens    = 7
	wordBatchSize    = 8
	wordSeqLen       = 9
	wordNumLayers    = 10
	wordHiddenSize   = 11
	wordNumHeads     = 12
	wordVocabSize    = 13
	wordPromptLength = 14
	wordTaskID       = 15
	wordTaskType     = 16
	wordFlags        = 17
	// words 18..37 are reserved padding up to 1216 bits
)

// ConfigWords is the packed register image of a ConfigIn.
type ConfigWords [regmap.ConfigInWords]uint32

// ConfigIn is the logical view of the configuration block. The packed
// form is produced field-by-field at fixed bit positions; never rely on
// the Go struct layout matching the wire layout.
type ConfigIn struct {
	InputBufferAddr  uint64
	OutputBufferAddr uint64
	KVCacheAddr      uint64

	Stride         uint32
	MaxTokens      uint32
	BatchSize      uint32
	SequenceLength uint32

	NumLayers  uint32
	HiddenSize uint32
	NumHeads   uint32
	VocabSize  uint32

	PromptLength uint32
	TaskID       uint32
	TaskType     uint32
	Flags        uint32
}

// Pack serializes the logical fields into the 38-word register image.
func (c *ConfigIn) Pack() ConfigWords {
	var w ConfigWords
	putAddr(&w, wordInputAddr, c.InputBufferAddr)
	putAddr(&w, wordOutputAddr, c.OutputBufferAddr)
	putAddr(&w, wordKVCacheAddr, c.KVCacheAddr)
	w[wordStride] = c.Stride
	w[wordMaxTokens] = c.MaxTokens
	w[wordBatchSize] = c.BatchSize
	w[wordSeqLen] = c.SequenceLength
	w[wordNumLayers] = c.NumLayers
	w[wordHiddenSize] = c.HiddenSize
	w[wordNumHeads] = c.NumHeads
	w[wordVocabSize] = c.VocabSize
	w[wordPromptLength] = c.PromptLength
	w[wordTaskID] = c.TaskID
	w[wordTaskType] = c.TaskType
	w[wordFlags] = c.Flags
	return w
}

// UnpackConfig is the inverse of Pack; unpack(pack(c)) == c.
func UnpackConfig(w ConfigWords) ConfigIn {
	return ConfigIn{
		InputBufferAddr:  getAddr(&w, wordInputAddr),
		OutputBufferAddr: getAddr(&w, wordOutputAddr),
		KVCacheAddr:      getAddr(&w, wordKVCacheAddr),
		Stride:           w[wordStride],
		MaxTokens:        w[wordMaxTokens],
		BatchSize:        w[wordBatchSize],
		SequenceLength:   w[wordSeqLen],
		NumLayers:        w[wordNumLayers],
		HiddenSize:       w[wordHiddenSize],
		NumHeads:         w[wordNumHeads],
		VocabSize:        w[wordVocabSize],
		PromptLength:     w[wordPromptLength],
		TaskID:           w[wordTaskID],
		TaskType:         w[wordTaskType],
		Flags:            w[wordFlags],
	}
}

// ChangedWords returns the indices that differ between two register
// images, so task reconfiguration only rewrites what moved.
func ChangedWords(prev, next ConfigWords) []int {
	var changed []int
	for i := range prev {
		if prev[i] != next[i] {
			changed = append(changed, i)
		}
	}
	return changed
}

func putAddr(w *ConfigWords, start int, addr uint64) {
	w[start] = uint32(addr)
	w[start+1] = uint32(addr >> 32)
}

func getAddr(w *ConfigWords, start int) uint64 {
	return uint64(w[start]) | uint64(w[start+1])<<32
}

// StatusOut flag bits.
const (
	StatusFlagValid = 0x01
	StatusFlagDone  = 0x02
	StatusFlagError = 0x04
)

// StatusOut is the decoded 128-bit status block.
type StatusOut struct {
	CurrentToken    uint32
	TokensGenerated uint32
	ErrorCode       uint32
	Flags           uint32
}

func (s StatusOut) Valid() bool { return s.Flags&StatusFlagValid != 0 }
func (s StatusOut) Done() bool  { return s.Flags&StatusFlagDone != 0 }
func (s StatusOut) Err() bool   { return s.Flags&StatusFlagError != 0 }

// UnpackStatus decodes the four status words.
func UnpackStatus(w [regmap.StatusOutWords]uint32) StatusOut {
	return StatusOut{
		CurrentToken:    w[0],
		TokensGenerated: w[1],
		ErrorCode:       w[2],
		Flags:           w[3],
	}
}
