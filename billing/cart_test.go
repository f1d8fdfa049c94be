package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospiverse/clinic-engine/billing"
	"github.com/hospiverse/clinic-engine/generic"
)

var (
	paracetamol = billing.Item{ID: "i1", Name: "Paracetamol", Price: generic.NewMoney(5), Type: billing.TypeMedicine}
	bloodTest   = billing.Item{ID: "i2", Name: "Blood Test", Price: generic.MustParseMoney("45.50"), Type: billing.TypeTest}
)

func TestNewCart_HoldsFixedFee(t *testing.T) {
	c := billing.NewCart(billing.DefaultConsultationFee)

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, billing.ConsultationFeeName, lines[0].Name)
	assert.True(t, lines[0].Fixed)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.Equal(t, "100.00", c.Total().String())
}

func TestCart_AddLine(t *testing.T) {
	c := billing.NewCart(billing.DefaultConsultationFee)

	assert.True(t, c.AddLine(paracetamol))
	assert.True(t, c.AddLine(paracetamol), "same item may appear twice")

	lines := c.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, 1, lines[1].Quantity)
	assert.Empty(t, lines[1].Dosage)
	assert.False(t, lines[1].Fixed)
	assert.Equal(t, "110.00", c.Total().String())
}

func TestCart_AddLine_FeeIsRejected(t *testing.T) {
	c := billing.NewCart(billing.DefaultConsultationFee)

	assert.False(t, c.AddLine(billing.Item{Name: "general consultation ", Price: generic.NewMoney(100)}))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, "100.00", c.Total().String())
}

func TestCart_RemoveLine(t *testing.T) {
	c := billing.NewCart(billing.DefaultConsultationFee)
	c.AddLine(paracetamol)
	c.AddLine(bloodTest)

	// GIVEN: the fixed line at index 0
	// WHEN: removing it
	// THEN: nothing changes
	assert.False(t, c.RemoveLine(0))
	assert.False(t, c.RemoveLine(7))
	assert.Equal(t, 3, c.Len())

	assert.True(t, c.RemoveLine(1))
	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "Blood Test", lines[1].Name)
	assert.Equal(t, "145.50", c.Total().String())
}

func TestCart_UpdateLine(t *testing.T) {
	c := billing.NewCart(billing.DefaultConsultationFee)
	c.AddLine(paracetamol)

	require.NoError(t, c.UpdateLine(1, billing.FieldQuantity, "3"))
	require.NoError(t, c.UpdateLine(1, billing.FieldDosage, " 1 tab x 3 days "))

	line := c.Lines()[1]
	assert.Equal(t, 3, line.Quantity)
	assert.Equal(t, "1 tab x 3 days", line.Dosage)
	assert.Equal(t, "115.00", c.Total().String())
}

func TestCart_UpdateLine_QuantityClampedToOne(t *testing.T) {
	c := billing.NewCart(billing.DefaultConsultationFee)
	c.AddLine(paracetamol)

	require.NoError(t, c.UpdateLine(1, billing.FieldQuantity, "0"))
	assert.Equal(t, 1, c.Lines()[1].Quantity)

	require.NoError(t, c.UpdateLine(1, billing.FieldQuantity, "-4"))
	assert.Equal(t, 1, c.Lines()[1].Quantity)
}

func TestCart_UpdateLine_Rejections(t *testing.T) {
	c := billing.NewCart(billing.DefaultConsultationFee)
	c.AddLine(paracetamol)

	assert.ErrorIs(t, c.UpdateLine(1, billing.FieldQuantity, "two"), generic.ErrValidation)
	assert.ErrorIs(t, c.UpdateLine(1, billing.Field("price"), "1"), generic.ErrValidation)
	assert.ErrorIs(t, c.UpdateLine(5, billing.FieldDosage, "x"), generic.ErrValidation)
}

func TestCart_FixedLineIsImmutable(t *testing.T) {
	c := billing.NewCart(billing.DefaultConsultationFee)

	require.NoError(t, c.UpdateLine(0, billing.FieldQuantity, "4"))
	require.NoError(t, c.UpdateLine(0, billing.FieldDosage, "twice"))

	fee := c.Lines()[0]
	assert.Equal(t, 1, fee.Quantity)
	assert.Empty(t, fee.Dosage)
	assert.Equal(t, "100.00", c.Total().String())
}

func TestCart_LinesIsACopy(t *testing.T) {
	c := billing.NewCart(billing.DefaultConsultationFee)
	lines := c.Lines()
	lines[0].Quantity = 9
	assert.Equal(t, 1, c.Lines()[0].Quantity)
}

func TestCart_PricesRoundedAtCreation(t *testing.T) {
	c := billing.NewCart(generic.MustParseMoney("99.999"))
	c.AddLine(billing.Item{Name: "Swab", Price: generic.MustParseMoney("0.333"), Type: billing.TypeTest})
	c.SetQuantity(1, 3)

	assert.Equal(t, "100.99", c.Total().String())
}
