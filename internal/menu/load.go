package menu

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"
)

//go:embed schema.cue
var schemaCUE string

//go:embed default.cue
var defaultCUE []byte

// LoadError reports a problem in a CUE menu source, with position when known.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the built-in house menu.
func Default() *Catalog {
	c, err := Load("default.cue", defaultCUE)
	if err != nil {
		panic(fmt.Sprintf("menu: embedded default menu is invalid: %v", err))
	}
	return c
}

// LoadFile reads a CUE menu from disk.
func LoadFile(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read menu: %w", err)
	}
	return Load(path, src)
}

// Load compiles a CUE menu source and checks it against the menu schema.
//
// The source must declare a top-level list:
//
//	items: [
//		{id: 1, name: "Espresso", price: 2.50, category: "Coffee", prep_seconds: 30},
//	]
func Load(filename string, src []byte) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("menu schema: %w", err)
	}

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	itemsVal := data.LookupPath(cue.ParsePath("items"))
	if !itemsVal.Exists() {
		return nil, &LoadError{
			Field:   "items",
			Message: "items list is required",
			Pos:     data.Pos(),
		}
	}

	iter, err := v.LookupPath(cue.ParsePath("items")).List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var items []Item
	for iter.Next() {
		item, err := parseItem(iter.Value())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return NewCatalog(items)
}

func parseItem(v cue.Value) (Item, error) {
	var item Item

	id, err := v.LookupPath(cue.ParsePath("id")).Int64()
	if err != nil {
		return item, formatCUEError(err)
	}
	item.ID = int(id)

	if item.Name, err = v.LookupPath(cue.ParsePath("name")).String(); err != nil {
		return item, formatCUEError(err)
	}

	if dv := v.LookupPath(cue.ParsePath("description")); dv.Exists() {
		if item.Description, err = dv.String(); err != nil {
			return item, formatCUEError(err)
		}
	}

	price, err := v.LookupPath(cue.ParsePath("price")).Float64()
	if err != nil {
		return item, formatCUEError(err)
	}
	item.Price = decimal.NewFromFloat(price).Round(2)

	catName, err := v.LookupPath(cue.ParsePath("category")).String()
	if err != nil {
		return item, formatCUEError(err)
	}
	if item.Category, err = ParseCategory(catName); err != nil {
		return item, &LoadError{Field: "category", Message: err.Error(), Pos: v.Pos()}
	}

	secs, err := v.LookupPath(cue.ParsePath("prep_seconds")).Float64()
	if err != nil {
		return item, formatCUEError(err)
	}
	item.PrepTime = time.Duration(secs * float64(time.Second))

	return item, nil
}

// formatCUEError keeps the first CUE error and its source position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
