package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSearchQuery(t *testing.T) {
	t.Run("should split terms and flags", func(t *testing.T) {
		req := require.New(t)

		query := NewSearchQuery("/find invoice march --from bob --limit 5")

		req.Equal("invoice march", query.Terms)
		req.Equal("bob", query.SenderID)
		req.Equal(5, query.Limit)
		req.False(query.Empty())
	})

	t.Run("should keep the default limit on a bad value", func(t *testing.T) {
		req := require.New(t)

		query := NewSearchQuery("lunch --limit soon")

		req.Equal("lunch", query.Terms)
		req.Equal(DefaultLimit, query.Limit)
	})

	t.Run("should be empty without terms", func(t *testing.T) {
		require.True(t, NewSearchQuery("/find --from bob").Empty())
	})
}
