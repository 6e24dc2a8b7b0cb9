package weights

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serializes a model back into container form. The firmware only
// ever parses containers produced by the offline converter; this encoder
// exists for the synthetic-model generator and the round-trip tests.
// When withChecksums is set a SHA-256 trailer is appended covering the
// embeddings and every quantized block, mirroring the converter.
func Encode(m *Model, withChecksums bool) ([]byte, error) {
	if int(m.Header.NumLayers) != len(m.Layers) {
		return nil, fmt.Errorf("%w: header claims %d layers, model has %d", ErrBadContainer, m.Header.NumLayers, len(m.Layers))
	}

	var buf bytes.Buffer
	var sums []Checksum

	writeHeader(&buf, m.Header, 0)

	embStart := buf.Len()
	writeF16Vec(&buf, m.TokenEmbeddings)
	sums = appendChecksum(sums, withChecksums, "embeddings", buf.Bytes()[embStart:])

	posStart := buf.Len()
	writeF16Vec(&buf, m.PositionEmbeddings)
	sums = appendChecksum(sums, withChecksums, "pos_embeddings", buf.Bytes()[posStart:])

	blockNames := []string{"q_weights", "k_weights", "v_weights", "o_weights", "ffn_up", "ffn_down"}
	for i := range m.Layers {
		layer := &m.Layers[i]
		for w, blk := range layer.blocks() {
			writeBlock(&buf, blk)
			sums = appendChecksum(sums, withChecksums,
				fmt.Sprintf("layer_%d_%s", i, blockNames[w]), blk.Data)
		}
		writeF16Vec(&buf, layer.Ln1Weight)
		writeF16Vec(&buf, layer.Ln1Bias)
		writeF16Vec(&buf, layer.Ln2Weight)
		writeF16Vec(&buf, layer.Ln2Bias)
	}

	writeF16Vec(&buf, m.LMHead)

	out := buf.Bytes()
	if withChecksums {
		trailerOffset := uint32(len(out))

		var trailer bytes.Buffer
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(sums)))
		trailer.Write(n[:])
		for _, cs := range sums {
			binary.LittleEndian.PutUint32(n[:], uint32(len(cs.Name)))
			trailer.Write(n[:])
			trailer.WriteString(cs.Name)
			trailer.Write(cs.Digest[:])
		}
		out = append(out, trailer.Bytes()...)

		// Patch the trailer offset into the header.
		binary.LittleEndian.PutUint32(out[32:], trailerOffset)
	}

	return out, nil
}

func writeHeader(buf *bytes.Buffer, hdr Header, checksumOffset uint32) {
	var b [HeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:], ContainerMagic)
	binary.LittleEndian.PutUint32(b[4:], hdr.Version)
	binary.LittleEndian.PutUint32(b[8:], hdr.NumLayers)
	binary.LittleEndian.PutUint32(b[12:], hdr.HiddenSize)
	binary.LittleEndian.PutUint32(b[16:], hdr.NumHeads)
	binary.LittleEndian.PutUint32(b[20:], hdr.VocabSize)
	binary.LittleEndian.PutUint32(b[24:], hdr.MaxSeqLen)
	binary.LittleEndian.PutUint32(b[28:], hdr.IntermediateSize)
	binary.LittleEndian.PutUint32(b[32:], checksumOffset)
	buf.Write(b[:])
}

func writeF16Vec(buf *bytes.Buffer, vec []float32) {
	var b [2]byte
	for _, v := range vec {
		binary.LittleEndian.PutUint16(b[:], Fp16FromFloat32(v))
		buf.Write(b[:])
	}
}

func writeBlock(buf *bytes.Buffer, blk *Int4Block) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(blk.Scale))
	buf.Write(b[:])
	buf.WriteByte(byte(blk.ZeroPoint))
	binary.LittleEndian.PutUint32(b[:], uint32(len(blk.Data)))
	buf.Write(b[:])
	buf.Write(blk.Data)
}

func appendChecksum(sums []Checksum, enabled bool, name string, data []byte) []Checksum {
	if !enabled {
		return sums
	}
	return append(sums, Checksum{Name: name, Digest: sha256.Sum256(data)})
}
