package cart

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kitchen-ledger/internal/domain/menu"
	"github.com/xenking/kitchen-ledger/internal/domain/order"
	"github.com/xenking/kitchen-ledger/internal/domain/tax"
)

// --- Helpers ---

var (
	latte = menu.Item{ID: "latte", Name: "Latte", Price: decimal.RequireFromString("4.50"), Category: menu.CategoryDrink}
	avo   = menu.Item{ID: "avo", Name: "Avocado Toast", Price: decimal.RequireFromString("8.99"), Category: menu.CategoryToast}
)

func testCatalog() *menu.Catalog {
	return menu.NewCatalog([]menu.Item{latte, avo})
}

func rate(s string) tax.Profile {
	return tax.Profile{Jurisdiction: "Test", Rate: decimal.RequireFromString(s)}
}

// --- Tests ---

func TestCart_AddItemMerges(t *testing.T) {
	c := New(testCatalog(), rate("0"))
	c.AddItem(latte)
	c.AddItem(avo)
	c.AddItem(latte)

	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, "17.99", c.Subtotal().StringFixed(2))
}

func TestCart_TaxRounding(t *testing.T) {
	c := New(testCatalog(), rate("0.0825"))
	c.AddItem(avo)

	// 8.99 * 0.0825 = 0.741675
	assert.Equal(t, "8.99", c.Subtotal().StringFixed(2))
	assert.Equal(t, "0.74", c.Tax().StringFixed(2))
	assert.Equal(t, "9.73", c.Total().StringFixed(2))
}

func TestCart_ZeroRate(t *testing.T) {
	c := New(testCatalog(), rate("0"))
	c.AddItem(avo)
	assert.True(t, c.Tax().IsZero())
	assert.True(t, c.Total().Equal(c.Subtotal()))
}

func TestCart_AddItemByID(t *testing.T) {
	c := New(testCatalog(), rate("0.1"))
	require.NoError(t, c.AddItemByID("latte"))

	err := c.AddItemByID("ghost")
	var verr *order.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, c.Lines(), 1)
}

func TestCart_RemoveOneUnit(t *testing.T) {
	c := New(testCatalog(), rate("0.1"))
	c.AddItem(latte)
	c.AddItem(latte)
	c.AddItem(avo)

	require.NoError(t, c.RemoveOneUnit(0))
	assert.Equal(t, 1, c.Lines()[0].Quantity)

	require.NoError(t, c.RemoveOneUnit(0))
	require.Len(t, c.Lines(), 1)
	assert.Equal(t, "avo", c.Lines()[0].Item.ID)
	assert.Equal(t, "8.99", c.Subtotal().StringFixed(2))

	var verr *order.ValidationError
	require.ErrorAs(t, c.RemoveOneUnit(5), &verr)
	require.ErrorAs(t, c.RemoveOneUnit(-1), &verr)
}

func TestCart_SetTaxRate(t *testing.T) {
	c := New(testCatalog(), rate("0"))
	c.AddItem(avo)

	require.NoError(t, c.SetTaxRate(decimal.RequireFromString("0.0825")))
	assert.Equal(t, "0.74", c.Tax().StringFixed(2))

	var verr *order.ValidationError
	require.ErrorAs(t, c.SetTaxRate(decimal.RequireFromString("-0.01")), &verr)
	assert.Equal(t, "0.74", c.Tax().StringFixed(2))
}

func TestCart_UnitPriceCaptured(t *testing.T) {
	c := New(testCatalog(), rate("0"))
	c.AddItem(latte)

	repriced := latte
	repriced.Price = decimal.RequireFromString("9.00")
	c.AddItem(repriced)

	assert.Equal(t, "9.00", c.Subtotal().StringFixed(2))
}

func TestCart_ToOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := New(testCatalog(), rate("0.0825"),
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return "draft-1" }),
	)
	c.AddItem(avo)
	c.AddItem(latte)

	o, err := c.ToOrder("c-1", 12, WithStation("bar"), WithPriority(order.PriorityRush))
	require.NoError(t, err)

	assert.Equal(t, "draft-1", o.ID)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, now, o.CreatedAt)
	assert.Equal(t, 12, o.Number())
	assert.Equal(t, "bar", o.StationID)
	assert.Equal(t, order.PriorityRush, o.Priority)
	assert.True(t, o.Total.Equal(o.Subtotal.Add(o.Tax)))
	require.NoError(t, o.Validate())

	// Draft is detached from the cart.
	o.Items[0].Quantity = 50
	assert.Equal(t, 1, c.Lines()[0].Quantity)
}

func TestCart_ToOrderValidation(t *testing.T) {
	c := New(testCatalog(), rate("0"))

	var verr *order.ValidationError
	_, err := c.ToOrder("c-1", 1)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "items", verr.Field)

	c.AddItem(latte)
	_, err = c.ToOrder("", 1)
	require.ErrorAs(t, err, &verr)

	_, err = c.ToOrder("c-1", 0)
	require.ErrorAs(t, err, &verr)
}

func TestCart_Reset(t *testing.T) {
	c := New(testCatalog(), rate("0.1"))
	c.AddItem(latte)
	c.Reset()

	assert.True(t, c.Empty())
	assert.True(t, c.Subtotal().IsZero())
	assert.True(t, c.Total().IsZero())
}

func TestCart_RandomSequencesKeepTotals(t *testing.T) {
	items := []menu.Item{
		latte,
		avo,
		{ID: "kola", Name: "Kola", Price: decimal.RequireFromString("2.35"), Category: menu.CategoryKolas},
		{ID: "kicker", Name: "Kicker", Price: decimal.RequireFromString("0.99"), Category: menu.CategoryKickers},
	}
	rates := []string{"0", "0.0625", "0.0825", "0.1", "0.0775"}

	rng := rand.New(rand.NewPCG(42, 2026))
	for run := range 200 {
		profile := rate(rates[rng.IntN(len(rates))])
		c := New(menu.NewCatalog(items), profile)

		for step := range 40 {
			if rng.IntN(3) == 0 && !c.Empty() {
				require.NoError(t, c.RemoveOneUnit(rng.IntN(len(c.Lines()))))
			} else {
				c.AddItem(items[rng.IntN(len(items))])
			}

			want := decimal.Zero
			for _, l := range c.Lines() {
				require.GreaterOrEqual(t, l.Quantity, 1)
				want = want.Add(l.Amount())
			}
			msg := fmt.Sprintf("run %d step %d rate %s", run, step, profile.Rate)
			require.False(t, c.Subtotal().IsNegative(), msg)
			require.True(t, c.Subtotal().Equal(want), msg)
			require.True(t, c.Tax().Equal(c.Subtotal().Mul(profile.Rate).Round(2)), msg)
			require.True(t, c.Total().Equal(c.Subtotal().Add(c.Tax())), msg)
		}
	}
}
