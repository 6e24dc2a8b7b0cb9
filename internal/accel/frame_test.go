package accel

import (
	"reflect"
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/regmap"
)

func TestConfigRoundTrip(t *testing.T) {
	c := ConfigIn{
		InputBufferAddr: 0x1122334455667788,
		Stride:          128,
		MaxTokens:       2048,
		TaskID:          42,
	}

	words := c.Pack()
	got := UnpackConfig(words)

	if got != c {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, c)
	}
}

func TestConfigRoundTrip_AllFields(t *testing.T) {
	c := ConfigIn{
		InputBufferAddr:  0x10000000,
		OutputBufferAddr: 0x20000000,
		KVCacheAddr:      0x30000000,
		Stride:           128,
		MaxTokens:        2048,
		BatchSize:        1,
		SequenceLength:   1024,
		NumLayers:        12,
		HiddenSize:       768,
		NumHeads:         12,
		VocabSize:        50257,
		PromptLength:     17,
		TaskID:           7,
		TaskType:         TaskTypeGenerate,
		Flags:            0xA5,
	}

	if got := UnpackConfig(c.Pack()); got != c {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, c)
	}
}

func TestPack_AddressWordOrder(t *testing.T) {
	c := ConfigIn{InputBufferAddr: 0x1122334455667788}
	words := c.Pack()

	// 64-bit fields: low word first
	if words[0] != 0x55667788 {
		t.Errorf("low word = 0x%08X, expected 0x55667788", words[0])
	}
	if words[1] != 0x11223344 {
		t.Errorf("high word = 0x%08X, expected 0x11223344", words[1])
	}
}

func TestPack_Deterministic(t *testing.T) {
	c := ConfigIn{KVCacheAddr: 0x30000000, TaskID: 9}
	if c.Pack() != c.Pack() {
		t.Errorf("pack is not deterministic")
	}
}

func TestChangedWords(t *testing.T) {
	base := ConfigIn{
		InputBufferAddr: 0x10000000,
		Stride:          128,
	}
	next := base
	next.PromptLength = 33
	next.TaskID = 5
	next.TaskType = TaskTypeGenerate // zero value, unchanged

	changed := ChangedWords(base.Pack(), next.Pack())
	want := []int{wordPromptLength, wordTaskID}
	if !reflect.DeepEqual(changed, want) {
		t.Errorf("ChangedWords = %v, expected %v", changed, want)
	}

	if got := ChangedWords(base.Pack(), base.Pack()); got != nil {
		t.Errorf("ChangedWords on identical images = %v, expected none", got)
	}
}

func TestUnpackStatus(t *testing.T) {
	var words [regmap.StatusOutWords]uint32
	words[0] = 0x61
	words[1] = 3
	words[2] = 0
	words[3] = StatusFlagValid | StatusFlagDone

	s := UnpackStatus(words)
	if s.CurrentToken != 0x61 || s.TokensGenerated != 3 {
		t.Errorf("unexpected status: %+v", s)
	}
	if !s.Valid() || !s.Done() || s.Err() {
		t.Errorf("flag decode wrong: valid=%v done=%v err=%v", s.Valid(), s.Done(), s.Err())
	}
}
