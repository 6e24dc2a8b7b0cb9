// Package staging lays the parsed model out in the DDR weights region at
// deterministic offsets the accelerator address generator is compiled
// against: embeddings first, then each layer's packed projections and
// layer norms, then the lm_head.
package staging

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/memory"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/weights"
)

// ErrInsufficientDDR reports a weights region smaller than the model.
var ErrInsufficientDDR = errors.New("staging: insufficient DDR for weights")

// Stager writes a model into a borrowed DDR region and answers layer
// placement queries afterwards.
type Stager struct {
	model  *weights.Model
	region *memory.Region
	staged uint64
}

func New(model *weights.Model, region *memory.Region) *Stager {
	return &Stager{model: model, region: region}
}

// RequiredSize sums every section of the serialized model: f16 tensors
// at two bytes per element, quantized blocks at their packed length.
func RequiredSize(m *weights.Model) uint64 {
	total := uint64(len(m.TokenEmbeddings)) * 2
	total += uint64(len(m.PositionEmbeddings)) * 2
	for i := range m.Layers {
		total += layerSize(&m.Layers[i])
	}
	total += uint64(len(m.LMHead)) * 2
	return total
}

// layerSize is the serialized footprint of one layer in DDR.
func layerSize(l *weights.LayerWeights) uint64 {
	total := uint64(l.Q.DataSize() + l.K.DataSize() + l.V.DataSize() + l.O.DataSize())
	total += uint64(l.FFNUp.DataSize() + l.FFNDown.DataSize())
	total += uint64(len(l.Ln1Weight)+len(l.Ln1Bias)+len(l.Ln2Weight)+len(l.Ln2Bias)) * 2
	return total
}

// Stage copies the model into the region. Write order and offsets are
// fixed; LayerAddress answers must match what lands here.
func (s *Stager) Stage() error {
	required := RequiredSize(s.model)
	if required > s.region.Size {
		return fmt.Errorf("%w: need %d bytes, region %s holds %d",
			ErrInsufficientDDR, required, s.region.Name, s.region.Size)
	}

	off := 0
	off = writeF16(s.region.Virt, off, s.model.TokenEmbeddings)
	off = writeF16(s.region.Virt, off, s.model.PositionEmbeddings)
	embBytes := off

	for i := range s.model.Layers {
		l := &s.model.Layers[i]
		off += copy(s.region.Virt[off:], l.Q.Data)
		off += copy(s.region.Virt[off:], l.K.Data)
		off += copy(s.region.Virt[off:], l.V.Data)
		off += copy(s.region.Virt[off:], l.O.Data)
		off += copy(s.region.Virt[off:], l.FFNUp.Data)
		off += copy(s.region.Virt[off:], l.FFNDown.Data)
		off = writeF16(s.region.Virt, off, l.Ln1Weight)
		off = writeF16(s.region.Virt, off, l.Ln1Bias)
		off = writeF16(s.region.Virt, off, l.Ln2Weight)
		off = writeF16(s.region.Virt, off, l.Ln2Bias)
	}
	layerBytes := off - embBytes

	off = writeF16(s.region.Virt, off, s.model.LMHead)

	s.staged = uint64(off)
	metrics.WeightsStagedBytes.Set(float64(s.staged))

	logger.Log.Info("weights staged to DDR",
		"embedding_bytes", embBytes,
		"layer_bytes", layerBytes,
		"total_bytes", s.staged,
		"phys", fmt.Sprintf("0x%08X", s.region.Phys))

	return nil
}

// StagedBytes returns the number of bytes written by Stage.
func (s *Stager) StagedBytes() uint64 {
	return s.staged
}

// LayerAddress returns the physical base of layer i, the sum of every
// section preceding it. LayerAddress(i+1)-LayerAddress(i) equals the
// serialized size of layer i.
func (s *Stager) LayerAddress(i int) (uint64, error) {
	if i < 0 || i >= len(s.model.Layers) {
		return 0, fmt.Errorf("staging: layer %d out of range (model has %d)", i, len(s.model.Layers))
	}

	off := uint64(len(s.model.TokenEmbeddings)+len(s.model.PositionEmbeddings)) * 2
	for k := 0; k < i; k++ {
		off += layerSize(&s.model.Layers[k])
	}
	return s.region.Phys + off, nil
}

// LayerSpan returns the serialized byte size of layer i.
func (s *Stager) LayerSpan(i int) (uint64, error) {
	if i < 0 || i >= len(s.model.Layers) {
		return 0, fmt.Errorf("staging: layer %d out of range (model has %d)", i, len(s.model.Layers))
	}
	return layerSize(&s.model.Layers[i]), nil
}

// writeF16 narrows a float32 vector to f16 at dst[off:] and returns the
// advanced offset.
func writeF16(dst []byte, off int, vec []float32) int {
	for _, v := range vec {
		binary.LittleEndian.PutUint16(dst[off:], weights.Fp16FromFloat32(v))
		off += 2
	}
	return off
}
