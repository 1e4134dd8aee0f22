package ai

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashVector derives a deterministic pseudo-vector from the sha256 of text.
// Identical text always yields the identical vector; it carries no semantics.
func HashVector(text string, dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	digest := sha256.Sum256([]byte(text))
	out := make([]float32, dim)
	var seed [sha256.Size + 4]byte
	copy(seed[:], digest[:])
	var block [sha256.Size]byte
	var norm float64
	for i := 0; i < dim; i++ {
		if i%sha256.Size == 0 {
			binary.BigEndian.PutUint32(seed[sha256.Size:], uint32(i/sha256.Size))
			block = sha256.Sum256(seed[:])
		}
		v := float64(block[i%sha256.Size]) / 255.0
		if i%2 == 1 {
			v = -v
		}
		out[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		return out
	}
	scale := 1 / math.Sqrt(norm)
	for i := range out {
		out[i] = float32(float64(out[i]) * scale)
	}
	return out
}

type hashEmbedConfig struct {
	Dimension int `json:"dimension"`
}

// hashEmbedProvider exposes HashVector as a provider so it can be configured explicitly.
type hashEmbedProvider struct {
	dim int
}

func (p *hashEmbedProvider) Name() string {
	return "hash"
}

func (p *hashEmbedProvider) MaxBatchSize() int {
	return 1024
}

func (p *hashEmbedProvider) Embed(ctx context.Context, model string, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = HashVector(text, p.dim)
	}
	return out, nil
}

func createHashEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &hashEmbedConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	return &hashEmbedProvider{dim: cfg.Dimension}, nil
}

func init() {
	RegisterEmbed("hash", createHashEmbedFactory)
}
