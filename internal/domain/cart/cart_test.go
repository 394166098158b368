package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	t.Run("same product and size sums quantities", func(t *testing.T) {
		c := &Cart{ShopperID: "s1"}
		c.Merge(Item{ProductID: "p1", Size: "M", Quantity: 1})
		c.Merge(Item{ProductID: "p1", Size: "M", Quantity: 2})

		require.Len(t, c.Items, 1)
		assert.Equal(t, 3, c.Items[0].Quantity)
	})

	t.Run("same product different size stays separate", func(t *testing.T) {
		c := &Cart{ShopperID: "s1"}
		c.Merge(Item{ProductID: "p1", Size: "M", Quantity: 1})
		c.Merge(Item{ProductID: "p1", Size: "L", Quantity: 1})

		require.Len(t, c.Items, 2)
	})

	t.Run("different products append", func(t *testing.T) {
		c := &Cart{ShopperID: "s1"}
		c.Merge(Item{ProductID: "p1", Quantity: 1})
		c.Merge(Item{ProductID: "p2", Quantity: 4})

		require.Len(t, c.Items, 2)
		assert.Equal(t, 4, c.Items[1].Quantity)
	})
}
