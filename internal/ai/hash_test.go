package ai

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashVectorDeterministicAndNormalized(t *testing.T) {
	a := HashVector("合同的成立要件", 100)
	b := HashVector("合同的成立要件", 100)
	c := HashVector("正当防卫", 100)
	require.Len(t, a, 100)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)

	var norm float64
	for i, v := range a {
		norm += float64(v) * float64(v)
		if i%2 == 1 {
			require.LessOrEqual(t, v, float32(0))
		} else {
			require.GreaterOrEqual(t, v, float32(0))
		}
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashVectorDimensions(t *testing.T) {
	require.Nil(t, HashVector("x", 0))
	require.Len(t, HashVector("x", 1), 1)
	require.Len(t, HashVector("x", 1536), 1536)
}

func TestHashProviderRegistered(t *testing.T) {
	p, err := NewEmbedProvider("HASH", map[string]interface{}{"dimension": 16})
	require.NoError(t, err)
	require.Equal(t, "hash", p.Name())
	vecs, err := p.Embed(context.Background(), "", []string{"a", "b"}, TaskTypeDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Len(t, vecs[0], 16)
	require.Equal(t, HashVector("b", 16), vecs[1])

	_, err = NewEmbedProvider("nope", nil)
	require.Error(t, err)
	_, err = NewEmbedProvider("", nil)
	require.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	require.Zero(t, parseRetryAfter(""))
	require.Zero(t, parseRetryAfter("garbage"))
	require.Equal(t, 3*time.Second, parseRetryAfter("3"))
}
