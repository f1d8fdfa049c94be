/*
Package billing accumulates billable lines during a consultation and reads
them back for settlement.

KEY CONCEPTS:
  - Cart:  Authoring path. Always holds exactly one fixed "General
           Consultation" fee line that cannot be removed or edited.
  - Order: One persisted line, written in a batch when the consultation
           completes and immutable afterwards.
  - Bill:  Read path. Orders for an appointment plus their total.

PRECISION:
  Prices are rounded to cents when a line is created; totals are exact
  decimal sums (generic.Money). total(cart) equals the total of the bill
  later read back from the persisted orders.

SEE ALSO:
  - appointment/ledger.go: Persists a cart on completion
  - catalog.go: Items a cart line can be created from
*/
package billing

import (
	"strconv"
	"strings"

	"github.com/hospiverse/clinic-engine/generic"
)

// ConsultationFeeName is the name of the fixed fee line.
const ConsultationFeeName = "General Consultation"

// DefaultConsultationFee is the base rate of the fixed fee line.
var DefaultConsultationFee = generic.NewMoney(100)

type ItemType string

const (
	TypeFee      ItemType = "Fee"
	TypeMedicine ItemType = "Medicine"
	TypeTest     ItemType = "Test"
)

// Line is one cart entry.
type Line struct {
	ItemID   string        `json:"item_id,omitempty"`
	Name     string        `json:"name"`
	Price    generic.Money `json:"price"`
	Type     ItemType      `json:"type"`
	Quantity int           `json:"quantity"`
	Dosage   string        `json:"dosage,omitempty"`
	Fixed    bool          `json:"fixed"`
}

func (l Line) Subtotal() generic.Money {
	return l.Price.MulInt(l.Quantity)
}

// IsConsultationFee reports whether name refers to the fixed fee.
func IsConsultationFee(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), ConsultationFeeName)
}

// =============================================================================
// CART
// =============================================================================

// Cart is not safe for concurrent use; one consultation owns one cart.
type Cart struct {
	lines []Line
}

// NewCart returns a cart holding only the fixed fee line.
func NewCart(fee generic.Money) *Cart {
	return &Cart{lines: []Line{{
		Name:     ConsultationFeeName,
		Price:    fee.Round(),
		Type:     TypeFee,
		Quantity: 1,
		Fixed:    true,
	}}}
}

// AddLine appends item with quantity 1 and no dosage. Adding the
// consultation fee again is a no-op and returns false.
func (c *Cart) AddLine(item Item) bool {
	if IsConsultationFee(item.Name) {
		return false
	}
	c.lines = append(c.lines, Line{
		ItemID:   item.ID,
		Name:     item.Name,
		Price:    item.Price.Round(),
		Type:     item.Type,
		Quantity: 1,
	})
	return true
}

// RemoveLine drops the line at index. The fixed line and out-of-range
// indexes are left alone and return false.
func (c *Cart) RemoveLine(index int) bool {
	if index < 0 || index >= len(c.lines) || c.lines[index].Fixed {
		return false
	}
	c.lines = append(c.lines[:index], c.lines[index+1:]...)
	return true
}

type Field string

const (
	FieldQuantity Field = "quantity"
	FieldDosage   Field = "dosage"
)

// UpdateLine sets quantity or dosage on a non-fixed line from a form value.
// Quantities below 1 are clamped to 1. The fixed line is never changed.
func (c *Cart) UpdateLine(index int, field Field, value string) error {
	if index < 0 || index >= len(c.lines) {
		return generic.Invalid("index", "no such line")
	}
	switch field {
	case FieldQuantity:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return generic.Invalid("quantity", "must be a whole number")
		}
		c.SetQuantity(index, n)
	case FieldDosage:
		c.SetDosage(index, value)
	default:
		return generic.Invalid("field", "must be quantity or dosage")
	}
	return nil
}

func (c *Cart) SetQuantity(index, n int) {
	if index < 0 || index >= len(c.lines) || c.lines[index].Fixed {
		return
	}
	if n < 1 {
		n = 1
	}
	c.lines[index].Quantity = n
}

func (c *Cart) SetDosage(index int, dosage string) {
	if index < 0 || index >= len(c.lines) || c.lines[index].Fixed {
		return
	}
	c.lines[index].Dosage = strings.TrimSpace(dosage)
}

// Lines returns a copy of the cart's lines, fee line first.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int { return len(c.lines) }

// Total is the exact sum of price x quantity over all lines.
func (c *Cart) Total() generic.Money {
	subtotals := make([]generic.Money, len(c.lines))
	for i, l := range c.lines {
		subtotals[i] = l.Subtotal()
	}
	return generic.SumMoney(subtotals...)
}
