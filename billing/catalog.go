package billing

import (
	"context"
	"fmt"

	"github.com/hospiverse/clinic-engine/generic"
)

// Item is a catalog entry. The catalog is reference data: read-only here
// apart from seeding.
type Item struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Price generic.Money `json:"price"`
	Type  ItemType      `json:"type"`
}

type Catalog struct {
	store generic.Store
}

func NewCatalog(store generic.Store) *Catalog {
	return &Catalog{store: store}
}

// ListItems returns orderable items, grouped by type then name. The
// consultation fee is excluded since every cart already carries it.
func (c *Catalog) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := c.store.Find(ctx, generic.Query{
		Collection: generic.CollectionItems,
		OrderBy:    []generic.Order{generic.Asc("type"), generic.Asc("name")},
	})
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(rows))
	for _, rec := range rows {
		item, err := itemFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if IsConsultationFee(item.Name) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Item returns one catalog entry by id.
func (c *Catalog) Item(ctx context.Context, id string) (Item, error) {
	rec, err := c.store.Get(ctx, generic.CollectionItems, id)
	if err != nil {
		return Item{}, err
	}
	return itemFromRecord(rec)
}

// Seed inserts items atomically. Items without an id get one.
func (c *Catalog) Seed(ctx context.Context, items []Item) error {
	recs := make([]generic.Record, 0, len(items))
	for _, it := range items {
		if it.Name == "" {
			return generic.Invalid("name", "catalog item needs a name")
		}
		if it.Price.IsNegative() {
			return generic.Invalid("price", fmt.Sprintf("%s has a negative price", it.Name))
		}
		if it.ID == "" {
			it.ID = generic.NewID()
		}
		recs = append(recs, generic.Record{
			"id":    it.ID,
			"name":  it.Name,
			"price": it.Price.Round().String(),
			"type":  string(it.Type),
		})
	}
	return c.store.InsertBatch(ctx, generic.CollectionItems, recs)
}

func itemFromRecord(rec generic.Record) (Item, error) {
	price, err := rec.Money("price")
	if err != nil {
		return Item{}, generic.WrapStore("decode", generic.CollectionItems, fmt.Errorf("item %s: %w", rec.ID(), err))
	}
	return Item{
		ID:    rec.ID(),
		Name:  rec.String("name"),
		Price: price,
		Type:  ItemType(rec.String("type")),
	}, nil
}
