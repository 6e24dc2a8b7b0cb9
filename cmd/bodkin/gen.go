package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-bodkin/internal/weights"
)

// genCmd produces a small synthetic container so the console and the
// staging path can be exercised without a converted model.
func genCmd() *cli.Command {
	return &cli.Command{
		Name:  "gen",
		Usage: "Generate a synthetic weight container",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: "model.pt.bin", Usage: "Output path"},
			&cli.IntFlag{Name: "layers", Value: 2, Usage: "Transformer layers"},
			&cli.IntFlag{Name: "hidden", Value: 64, Usage: "Hidden size"},
			&cli.IntFlag{Name: "heads", Value: 4, Usage: "Attention heads"},
			&cli.IntFlag{Name: "vocab", Value: 256, Usage: "Vocabulary size"},
			&cli.IntFlag{Name: "seq", Value: 128, Usage: "Max sequence length"},
			&cli.IntFlag{Name: "intermediate", Value: 256, Usage: "FFN intermediate size"},
			&cli.IntFlag{Name: "seed", Value: 1, Usage: "PRNG seed"},
			&cli.BoolFlag{Name: "checksums", Value: true, Usage: "Append the SHA-256 trailer"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			model := synthModel(
				int(cmd.Int("layers")), int(cmd.Int("hidden")), int(cmd.Int("heads")),
				int(cmd.Int("vocab")), int(cmd.Int("seq")), int(cmd.Int("intermediate")),
				int64(cmd.Int("seed")))

			data, err := weights.Encode(model, cmd.Bool("checksums"))
			if err != nil {
				return err
			}

			out := cmd.String("out")
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d bytes, %d layers)\n", out, len(data), len(model.Layers))
			return nil
		},
	}
}

func synthModel(layers, hidden, heads, vocab, seq, intermediate int, seed int64) *weights.Model {
	rng := rand.New(rand.NewSource(seed))

	m := &weights.Model{
		Header: weights.Header{
			Magic:            weights.ContainerMagic,
			Version:          1,
			NumLayers:        uint32(layers),
			HiddenSize:       uint32(hidden),
			NumHeads:         uint32(heads),
			VocabSize:        uint32(vocab),
			MaxSeqLen:        uint32(seq),
			IntermediateSize: uint32(intermediate),
		},
		TokenEmbeddings:    randVec(rng, vocab*hidden),
		PositionEmbeddings: randVec(rng, seq*hidden),
		LMHead:             randVec(rng, vocab*hidden),
	}

	for i := 0; i < layers; i++ {
		layer := weights.LayerWeights{
			Q:       randBlock(rng, hidden*hidden),
			K:       randBlock(rng, hidden*hidden),
			V:       randBlock(rng, hidden*hidden),
			O:       randBlock(rng, hidden*hidden),
			FFNUp:   randBlock(rng, hidden*intermediate),
			FFNDown: randBlock(rng, intermediate*hidden),

			Ln1Weight: randVec(rng, hidden),
			Ln1Bias:   randVec(rng, hidden),
			Ln2Weight: randVec(rng, hidden),
			Ln2Bias:   randVec(rng, hidden),

			LayerIdx:         i,
			HiddenSize:       hidden,
			IntermediateSize: intermediate,
		}
		m.Layers = append(m.Layers, layer)
	}

	return m
}

func randVec(rng *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func randBlock(rng *rand.Rand, n int) weights.Int4Block {
	blk := weights.NewInt4Block(n)
	blk.Scale = rng.Float32()/7 + 1e-3
	for i := 0; i < n; i++ {
		blk.Set(i, int8(rng.Intn(16)-8))
	}
	return blk
}
