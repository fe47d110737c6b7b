// Package menu holds the catalog of items a cafe can sell.
//
// A Catalog is built once and never mutated afterwards, so concurrent
// readers need no locking. Orders copy the price they see at add time and
// keep only the item id as a reference.
package menu

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cafesync/internal/fault"
)

// Category groups menu items.
type Category int

const (
	CategoryCoffee Category = iota + 1
	CategoryTea
	CategoryPastry
	CategoryFood
	CategoryCold
	CategoryDessert
)

var categoryNames = map[Category]string{
	CategoryCoffee:  "Coffee",
	CategoryTea:     "Tea",
	CategoryPastry:  "Pastry",
	CategoryFood:    "Food",
	CategoryCold:    "Cold",
	CategoryDessert: "Dessert",
}

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		CategoryCoffee, CategoryTea, CategoryPastry,
		CategoryFood, CategoryCold, CategoryDessert,
	}
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// ParseCategory resolves a category by its display name.
func ParseCategory(s string) (Category, error) {
	for c, name := range categoryNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fault.Validation("unknown menu category %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if _, ok := categoryNames[c]; !ok {
		return nil, fmt.Errorf("invalid category %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Item is one sellable menu entry.
type Item struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Category    Category        `json:"category"`
	PrepTime    time.Duration   `json:"-"`
}

// itemJSON carries the preparation time in seconds, the unit menu files use.
type itemJSON struct {
	itemFields
	PrepSeconds float64 `json:"prepSeconds"`
}

type itemFields Item

// MarshalJSON renders PrepTime as prepSeconds.
func (i Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(itemJSON{itemFields: itemFields(i), PrepSeconds: i.PrepTime.Seconds()})
}

// UnmarshalJSON reads prepSeconds back into PrepTime.
func (i *Item) UnmarshalJSON(data []byte) error {
	var v itemJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*i = Item(v.itemFields)
	i.PrepTime = time.Duration(v.PrepSeconds * float64(time.Second))
	return nil
}

// Catalog maps item ids to definitions.
type Catalog struct {
	items map[int]Item
	ids   []int // ascending
}

// NewCatalog validates items and builds a catalog from them.
func NewCatalog(items []Item) (*Catalog, error) {
	c := &Catalog{
		items: make(map[int]Item, len(items)),
		ids:   make([]int, 0, len(items)),
	}
	for i, item := range items {
		if err := validateItem(item); err != nil {
			return nil, fmt.Errorf("item[%d]: %w", i, err)
		}
		if _, dup := c.items[item.ID]; dup {
			return nil, fmt.Errorf("item[%d]: %w", i, fault.Validation("duplicate menu item id %d", item.ID))
		}
		c.items[item.ID] = item
		c.ids = append(c.ids, item.ID)
	}
	sort.Ints(c.ids)
	return c, nil
}

func validateItem(item Item) error {
	switch {
	case item.ID <= 0:
		return fault.Validation("menu item id must be positive, got %d", item.ID)
	case item.Name == "":
		return fault.Validation("menu item %d has no name", item.ID)
	case item.Price.IsNegative():
		return fault.Validation("menu item %d has negative price %s", item.ID, item.Price)
	case item.PrepTime <= 0:
		return fault.Validation("menu item %d needs a positive preparation time", item.ID)
	}
	if _, ok := categoryNames[item.Category]; !ok {
		return fault.Validation("menu item %d has unknown category %d", item.ID, int(item.Category))
	}
	return nil
}

// Lookup returns the item with the given id, or a NotFound error.
func (c *Catalog) Lookup(id int) (Item, error) {
	item, ok := c.items[id]
	if !ok {
		return Item{}, fault.NotFound("menu_item", strconv.Itoa(id))
	}
	return item, nil
}

// ByCategory returns the items of one category in id order.
func (c *Catalog) ByCategory(cat Category) []Item {
	var out []Item
	for _, id := range c.ids {
		if item := c.items[id]; item.Category == cat {
			out = append(out, item)
		}
	}
	return out
}

// All returns every item in id order.
func (c *Catalog) All() []Item {
	out := make([]Item, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.items[id])
	}
	return out
}

// Len returns the number of items.
func (c *Catalog) Len() int {
	return len(c.ids)
}

// At returns the i-th item in id order. Used for uniform random picks.
func (c *Catalog) At(i int) Item {
	return c.items[c.ids[i]]
}
