package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/hospiverse/clinic-engine/generic"
)

// createdLayout has fixed-width fractional seconds so lexical order of
// created_at matches cart order.
const createdLayout = "2006-01-02T15:04:05.000000Z07:00"

// Order is one persisted bill line.
type Order struct {
	ID            string        `json:"id"`
	AppointmentID string        `json:"appointment_id"`
	ItemName      string        `json:"item_name"`
	Price         generic.Money `json:"price"`
	Quantity      int           `json:"quantity"`
	Dosage        string        `json:"dosage,omitempty"`
	CreatedAt     string        `json:"created_at"`
}

func (o Order) Subtotal() generic.Money { return o.Price.MulInt(o.Quantity) }

// Bill is the read-path view of an appointment's orders.
type Bill struct {
	AppointmentID string        `json:"appointment_id"`
	Lines         []Order       `json:"lines"`
	Total         generic.Money `json:"total"`
}

// OrderRecords turns the cart into one order record per line, fee first.
func (c *Cart) OrderRecords(appointmentID string, now time.Time) []generic.Record {
	recs := make([]generic.Record, len(c.lines))
	for i, l := range c.lines {
		var dosage any
		if l.Dosage != "" {
			dosage = l.Dosage
		}
		recs[i] = generic.Record{
			"id":             generic.NewID(),
			"appointment_id": appointmentID,
			"item_name":      l.Name,
			"price":          l.Price.String(),
			"quantity":       l.Quantity,
			"dosage":         dosage,
			"created_at":     now.UTC().Add(time.Duration(i) * time.Microsecond).Format(createdLayout),
		}
	}
	return recs
}

// Biller reads bills back from persisted orders.
type Biller struct {
	store generic.Store
}

func NewBiller(store generic.Store) *Biller {
	return &Biller{store: store}
}

// BillFor returns the persisted orders for an appointment and their total.
// An appointment without orders has an empty bill.
func (b *Biller) BillFor(ctx context.Context, appointmentID string) (*Bill, error) {
	rows, err := b.store.Find(ctx, generic.Query{
		Collection: generic.CollectionOrders,
		Where:      []generic.Predicate{generic.Eq("appointment_id", appointmentID)},
		OrderBy:    []generic.Order{generic.Asc("created_at"), generic.Asc("id")},
	})
	if err != nil {
		return nil, err
	}

	bill := &Bill{AppointmentID: appointmentID, Lines: make([]Order, 0, len(rows))}
	subtotals := make([]generic.Money, 0, len(rows))
	for _, rec := range rows {
		price, err := rec.Money("price")
		if err != nil {
			return nil, generic.WrapStore("decode", generic.CollectionOrders, fmt.Errorf("order %s: %w", rec.ID(), err))
		}
		o := Order{
			ID:            rec.ID(),
			AppointmentID: rec.String("appointment_id"),
			ItemName:      rec.String("item_name"),
			Price:         price,
			Quantity:      rec.Int("quantity"),
			Dosage:        rec.String("dosage"),
			CreatedAt:     rec.String("created_at"),
		}
		bill.Lines = append(bill.Lines, o)
		subtotals = append(subtotals, o.Subtotal())
	}
	bill.Total = generic.SumMoney(subtotals...)
	return bill, nil
}
