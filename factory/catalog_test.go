package factory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospiverse/clinic-engine/billing"
	"github.com/hospiverse/clinic-engine/factory"
	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/identity"
)

func TestParseCatalog_Default(t *testing.T) {
	items, err := factory.NewCatalogFactory().ParseCatalog([]byte(factory.DefaultCatalogJSON))
	require.NoError(t, err)

	byName := make(map[string]billing.Item, len(items))
	for _, it := range items {
		byName[it.Name] = it
	}
	assert.Equal(t, "100.00", byName[billing.ConsultationFeeName].Price.String())
	assert.Equal(t, billing.TypeFee, byName[billing.ConsultationFeeName].Type)
	assert.Equal(t, "45.50", byName["Blood Test"].Price.String())
	assert.Equal(t, billing.TypeMedicine, byName["Paracetamol"].Type)
}

func TestParseSeed_NormalizesTypesPricesAndStaff(t *testing.T) {
	seed, err := factory.NewCatalogFactory().ParseSeed([]byte(`{
		"items": [
			{"name": " Swab ", "price": "1.005", "type": "test"},
			{"name": "Bandage", "price": 2, "type": "Supply"}
		],
		"staff": [
			{"email": "hr@clinic.test", "password": "secret1", "full_name": "Helen", "role": "HR", "department": "Admin"}
		]
	}`))
	require.NoError(t, err)

	require.Len(t, seed.Items, 2)
	assert.Equal(t, "Swab", seed.Items[0].Name)
	assert.Equal(t, billing.TypeTest, seed.Items[0].Type)
	assert.Equal(t, "1.01", seed.Items[0].Price.String())
	assert.Equal(t, billing.ItemType("Supply"), seed.Items[1].Type)

	require.Len(t, seed.Staff, 1)
	assert.Equal(t, identity.RoleHR, seed.Staff[0].Role)
}

func TestParseSeed_Rejections(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"items": [`},
		{"missing name", `{"items": [{"price": 1, "type": "Fee"}]}`},
		{"missing price", `{"items": [{"name": "X", "type": "Fee"}]}`},
		{"negative price", `{"items": [{"name": "X", "price": -1, "type": "Fee"}]}`},
		{"bad price", `{"items": [{"name": "X", "price": "abc", "type": "Fee"}]}`},
		{"missing type", `{"items": [{"name": "X", "price": 1}]}`},
		{"duplicate", `{"items": [{"name": "X", "price": 1, "type": "Fee"}, {"name": "x", "price": 2, "type": "Fee"}]}`},
		{"staff without email", `{"items": [], "staff": [{"password": "secret1"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.NewCatalogFactory().ParseSeed([]byte(tt.json))
			assert.Error(t, err)
		})
	}
}

func TestParseSeed_ValidationErrorsAreClassified(t *testing.T) {
	_, err := factory.NewCatalogFactory().ParseSeed([]byte(`{"items": [{"name": "X", "price": -1, "type": "Fee"}]}`))
	assert.ErrorIs(t, err, generic.ErrValidation)
}
