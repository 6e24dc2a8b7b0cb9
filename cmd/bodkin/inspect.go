package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/staging"
	"github.com/23skdu/longbow-bodkin/internal/weights"
)

type layerInfo struct {
	Index            int    `json:"index"`
	SerializedBytes  uint64 `json:"serialized_bytes"`
	AttnBlockWeights int    `json:"attn_block_weights"`
	FFNUpWeights     int    `json:"ffn_up_weights"`
}

type containerInfo struct {
	Version          uint32 `json:"version"`
	NumLayers        uint32 `json:"num_layers"`
	HiddenSize       uint32 `json:"hidden_size"`
	NumHeads         uint32 `json:"num_heads"`
	VocabSize        uint32 `json:"vocab_size"`
	MaxSeqLen        uint32 `json:"max_seq_len"`
	IntermediateSize uint32 `json:"intermediate_size"`

	RequiredDDRBytes uint64 `json:"required_ddr_bytes"`

	Layers    []layerInfo       `json:"layers"`
	Checksums map[string]string `json:"checksums,omitempty"`
}

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Dump a weight container as JSON",
		ArgsUsage: "<container>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("usage: bodkin inspect <container>")
			}
			logger.Setup("ERROR", "console")

			model, err := weights.LoadFile(cmd.Args().First())
			if err != nil {
				return err
			}

			info := containerInfo{
				Version:          model.Header.Version,
				NumLayers:        model.Header.NumLayers,
				HiddenSize:       model.Header.HiddenSize,
				NumHeads:         model.Header.NumHeads,
				VocabSize:        model.Header.VocabSize,
				MaxSeqLen:        model.Header.MaxSeqLen,
				IntermediateSize: model.Header.IntermediateSize,
				RequiredDDRBytes: staging.RequiredSize(model),
			}

			for i := range model.Layers {
				l := &model.Layers[i]
				size := uint64(l.Q.DataSize()+l.K.DataSize()+l.V.DataSize()+l.O.DataSize()) +
					uint64(l.FFNUp.DataSize()+l.FFNDown.DataSize()) +
					uint64(len(l.Ln1Weight)+len(l.Ln1Bias)+len(l.Ln2Weight)+len(l.Ln2Bias))*2
				info.Layers = append(info.Layers, layerInfo{
					Index:            i,
					SerializedBytes:  size,
					AttnBlockWeights: l.Q.NumWeights,
					FFNUpWeights:     l.FFNUp.NumWeights,
				})
			}

			if len(model.Checksums) > 0 {
				info.Checksums = make(map[string]string, len(model.Checksums))
				for _, cs := range model.Checksums {
					info.Checksums[cs.Name] = hex.EncodeToString(cs.Digest[:])
				}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}
