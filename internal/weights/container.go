package weights

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"

	"github.com/23skdu/longbow-bodkin/internal/logger"
)

// maxDim bounds any single header dimension. Anything larger is a
// corrupt container, not a real model.
const maxDim = 1 << 24

// LoadFile reads and parses a model container from disk.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("weights: open %s: %w", path, err)
	}
	return Parse(data)
}

// reader is a bounds-checked cursor over the container bytes.
type reader struct {
	data []byte
	off  int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) || r.off+n < r.off {
		return nil, ErrTruncated
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) f32() (float32, error) {
	v, err := r.u32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *reader) i8() (int8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

// f16vec reads n half-precision values and widens them to float32.
func (r *reader) f16vec(n int) ([]float32, error) {
	raw, err := r.take(n * 2)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = Fp16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out, nil
}

// mulDim multiplies two dimensions, failing on overflow.
func mulDim(a, b uint32) (int, error) {
	p := uint64(a) * uint64(b)
	if p > math.MaxInt32 {
		return 0, fmt.Errorf("%w: tensor size %d x %d overflows", ErrBadContainer, a, b)
	}
	return int(p), nil
}

// Parse decodes a model container from memory. The layout is the header,
// token and position embeddings as f16, then per layer six INT4 blocks in
// the order q, k, v, o, ffn_up, ffn_down followed by four f16 layer-norm
// vectors, then the lm_head as f16, then the optional checksum trailer.
func Parse(data []byte) (*Model, error) {
	r := &reader{data: data}

	hdr, err := parseHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Model{Header: hdr}

	embSize, err := mulDim(hdr.VocabSize, hdr.HiddenSize)
	if err != nil {
		return nil, err
	}
	if m.TokenEmbeddings, err = r.f16vec(embSize); err != nil {
		return nil, err
	}

	posSize, err := mulDim(hdr.MaxSeqLen, hdr.HiddenSize)
	if err != nil {
		return nil, err
	}
	if m.PositionEmbeddings, err = r.f16vec(posSize); err != nil {
		return nil, err
	}

	attnSize, err := mulDim(hdr.HiddenSize, hdr.HiddenSize)
	if err != nil {
		return nil, err
	}
	ffnSize, err := mulDim(hdr.HiddenSize, hdr.IntermediateSize)
	if err != nil {
		return nil, err
	}

	m.Layers = make([]LayerWeights, hdr.NumLayers)
	for i := range m.Layers {
		layer := &m.Layers[i]
		layer.LayerIdx = i
		layer.HiddenSize = int(hdr.HiddenSize)
		layer.IntermediateSize = int(hdr.IntermediateSize)

		sizes := []int{attnSize, attnSize, attnSize, attnSize, ffnSize, ffnSize}
		for w, blk := range layer.blocks() {
			if err := parseBlock(r, blk, sizes[w]); err != nil {
				return nil, fmt.Errorf("layer %d block %d: %w", i, w, err)
			}
		}

		hidden := int(hdr.HiddenSize)
		if layer.Ln1Weight, err = r.f16vec(hidden); err != nil {
			return nil, err
		}
		if layer.Ln1Bias, err = r.f16vec(hidden); err != nil {
			return nil, err
		}
		if layer.Ln2Weight, err = r.f16vec(hidden); err != nil {
			return nil, err
		}
		if layer.Ln2Bias, err = r.f16vec(hidden); err != nil {
			return nil, err
		}
	}

	if m.LMHead, err = r.f16vec(embSize); err != nil {
		return nil, err
	}

	if hdr.ChecksumOffset != 0 {
		if m.Checksums, err = parseChecksums(data, hdr.ChecksumOffset); err != nil {
			return nil, err
		}
		surfaceChecksums(m.Checksums)
	}

	logger.Log.Info("model container parsed",
		"version", hdr.Version,
		"layers", hdr.NumLayers,
		"hidden", hdr.HiddenSize,
		"heads", hdr.NumHeads,
		"vocab", hdr.VocabSize,
		"max_seq", hdr.MaxSeqLen,
		"checksums", len(m.Checksums))

	return m, nil
}

func parseHeader(r *reader) (Header, error) {
	var hdr Header

	b, err := r.take(HeaderSize)
	if err != nil {
		return hdr, err
	}

	hdr.Magic = binary.LittleEndian.Uint32(b[0:])
	if hdr.Magic != ContainerMagic {
		return hdr, ErrInvalidMagic{Magic: hdr.Magic}
	}

	hdr.Version = binary.LittleEndian.Uint32(b[4:])
	hdr.NumLayers = binary.LittleEndian.Uint32(b[8:])
	hdr.HiddenSize = binary.LittleEndian.Uint32(b[12:])
	hdr.NumHeads = binary.LittleEndian.Uint32(b[16:])
	hdr.VocabSize = binary.LittleEndian.Uint32(b[20:])
	hdr.MaxSeqLen = binary.LittleEndian.Uint32(b[24:])
	hdr.IntermediateSize = binary.LittleEndian.Uint32(b[28:])
	hdr.ChecksumOffset = binary.LittleEndian.Uint32(b[32:])

	for _, dim := range []uint32{hdr.NumLayers, hdr.HiddenSize, hdr.NumHeads, hdr.VocabSize, hdr.MaxSeqLen, hdr.IntermediateSize} {
		if dim == 0 || dim > maxDim {
			return hdr, fmt.Errorf("%w: implausible dimension %d", ErrBadContainer, dim)
		}
	}

	return hdr, nil
}

// parseBlock reads one quantized block: f32 scale, i8 zero point, u32
// byte length, then the packed nibbles. The byte length must match the
// weight count implied by the model dimensions.
func parseBlock(r *reader, blk *Int4Block, numWeights int) error {
	scale, err := r.f32()
	if err != nil {
		return err
	}
	zp, err := r.i8()
	if err != nil {
		return err
	}
	byteLen, err := r.u32()
	if err != nil {
		return err
	}

	want := (numWeights + 1) / 2
	if int(byteLen) != want {
		return fmt.Errorf("%w: block length %d, expected %d", ErrBadContainer, byteLen, want)
	}

	data, err := r.take(int(byteLen))
	if err != nil {
		return err
	}

	blk.Scale = scale
	blk.ZeroPoint = zp
	blk.NumWeights = numWeights
	blk.Data = data
	return nil
}

func parseChecksums(data []byte, offset uint32) ([]Checksum, error) {
	if uint64(offset) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: checksum trailer offset %d beyond %d bytes", ErrBadContainer, offset, len(data))
	}
	r := &reader{data: data, off: int(offset)}

	count, err := r.u32()
	if err != nil {
		return nil, err
	}

	sums := make([]Checksum, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.take(int(nameLen))
		if err != nil {
			return nil, err
		}
		digest, err := r.take(32)
		if err != nil {
			return nil, err
		}

		var cs Checksum
		cs.Name = string(name)
		copy(cs.Digest[:], digest)
		sums = append(sums, cs)
	}
	return sums, nil
}

// surfaceChecksums logs the trailer contents. Verification against the
// staged bytes is a policy decision left to the operator workflow.
func surfaceChecksums(sums []Checksum) {
	for _, cs := range sums {
		logger.Log.Debug("container checksum",
			"tensor", cs.Name,
			"sha256", hex.EncodeToString(cs.Digest[:8]))
	}
}
