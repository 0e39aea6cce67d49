package ai

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockEmbedVectors(t *testing.T) {
	ctx := context.Background()
	mock := NewMock()

	t.Run("derived vectors have unit length", func(t *testing.T) {
		embeddings, err := mock.Embed(ctx, []string{"travel plans", "favorite food"})
		require.NoError(t, err)
		for _, v := range embeddings {
			var norm float64
			for _, x := range v {
				norm += float64(x) * float64(x)
			}
			require.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
		}
	})

	t.Run("same text embeds identically", func(t *testing.T) {
		first, err := mock.Embed(ctx, []string{"travel plans"})
		require.NoError(t, err)
		second, err := mock.Embed(ctx, []string{"travel plans"})
		require.NoError(t, err)
		require.Equal(t, first, second)
	})
}
