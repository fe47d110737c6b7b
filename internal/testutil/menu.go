package testutil

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cafesync/internal/menu"
)

// SmallCatalog is a three-item menu with round prices and short preparation
// times:
//
//	1 Espresso       2.50  30s  Coffee
//	2 Latte          4.50  45s  Coffee
//	3 Club Sandwich  8.00  90s  Food
func SmallCatalog(t testing.TB) *menu.Catalog {
	t.Helper()
	c, err := menu.NewCatalog([]menu.Item{
		{ID: 1, Name: "Espresso", Price: decimal.RequireFromString("2.50"), Category: menu.CategoryCoffee, PrepTime: 30 * time.Second},
		{ID: 2, Name: "Latte", Price: decimal.RequireFromString("4.50"), Category: menu.CategoryCoffee, PrepTime: 45 * time.Second},
		{ID: 3, Name: "Club Sandwich", Price: decimal.RequireFromString("8.00"), Category: menu.CategoryFood, PrepTime: 90 * time.Second},
	})
	require.NoError(t, err)
	return c
}
