/*
Package factory converts JSON seed files into catalog items and staff
accounts.

PURPOSE:
  Lets the clinic's reference data (billable items, initial staff) be
  configured without code changes. The server loads the file named by
  CLINIC_CATALOG_FILE, or DefaultCatalogJSON when none is set.

JSON SCHEMA:
  {
    "items": [
      {"id": "med-paracetamol", "name": "Paracetamol", "price": 5, "type": "Medicine"},
      {"name": "Blood Test", "price": "45.50", "type": "test"}
    ],
    "staff": [
      {"email": "hr@clinic.test", "password": "secret1", "full_name": "Helen Ruiz",
       "role": "hr", "department": "Administration"}
    ]
  }

  Prices accept JSON numbers or decimal strings and are rounded to cents.
  Item types are case-insensitive; Fee, Medicine and Test are canonical,
  any other non-empty type is kept as written.

USAGE:
  f := factory.NewCatalogFactory()
  seed, err := f.ParseSeed([]byte(factory.DefaultCatalogJSON))
  err = billing.NewCatalog(store).Seed(ctx, seed.Items)

SEE ALSO:
  - billing/catalog.go: Catalog.Seed
  - staff/directory.go: CreateRequest used for staff entries
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hospiverse/clinic-engine/billing"
	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/identity"
	"github.com/hospiverse/clinic-engine/staff"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type SeedJSON struct {
	Items []ItemJSON  `json:"items"`
	Staff []StaffJSON `json:"staff,omitempty"`
}

type ItemJSON struct {
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name"`
	Price *generic.Money `json:"price"`
	Type  string         `json:"type"`
}

type StaffJSON struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

// Seed is a parsed seed file.
type Seed struct {
	Items []billing.Item
	Staff []staff.CreateRequest
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

type CatalogFactory struct{}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// ParseSeed parses a full seed file.
func (f *CatalogFactory) ParseSeed(data []byte) (*Seed, error) {
	var sj SeedJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return nil, fmt.Errorf("failed to parse seed JSON: %w", err)
	}
	return f.FromJSON(sj)
}

// ParseCatalog parses a seed file and returns only its items.
func (f *CatalogFactory) ParseCatalog(data []byte) ([]billing.Item, error) {
	seed, err := f.ParseSeed(data)
	if err != nil {
		return nil, err
	}
	return seed.Items, nil
}

// FromJSON converts SeedJSON into domain values.
func (f *CatalogFactory) FromJSON(sj SeedJSON) (*Seed, error) {
	seed := &Seed{}
	seen := make(map[string]bool, len(sj.Items))
	for i, ij := range sj.Items {
		item, err := parseItem(ij)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		key := strings.ToLower(item.Name)
		if seen[key] {
			return nil, fmt.Errorf("item %d: duplicate name %q", i, item.Name)
		}
		seen[key] = true
		seed.Items = append(seed.Items, item)
	}
	for i, s := range sj.Staff {
		if strings.TrimSpace(s.Email) == "" {
			return nil, fmt.Errorf("staff %d: %w", i, generic.Invalid("email", "is required"))
		}
		seed.Staff = append(seed.Staff, staff.CreateRequest{
			Email:      s.Email,
			Password:   s.Password,
			FullName:   s.FullName,
			Role:       identity.Role(strings.ToLower(strings.TrimSpace(s.Role))),
			Department: s.Department,
		})
	}
	return seed, nil
}

func parseItem(ij ItemJSON) (billing.Item, error) {
	name := strings.TrimSpace(ij.Name)
	if name == "" {
		return billing.Item{}, generic.Invalid("name", "is required")
	}
	if ij.Price == nil {
		return billing.Item{}, generic.Invalid("price", "is required")
	}
	if ij.Price.IsNegative() {
		return billing.Item{}, generic.Invalid("price", "must not be negative")
	}
	typ, err := parseItemType(ij.Type)
	if err != nil {
		return billing.Item{}, err
	}
	return billing.Item{
		ID:    strings.TrimSpace(ij.ID),
		Name:  name,
		Price: ij.Price.Round(),
		Type:  typ,
	}, nil
}

func parseItemType(s string) (billing.ItemType, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "fee":
		return billing.TypeFee, nil
	case "medicine":
		return billing.TypeMedicine, nil
	case "test":
		return billing.TypeTest, nil
	case "":
		return "", generic.Invalid("type", "is required")
	default:
		return billing.ItemType(s), nil
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// DefaultCatalogJSON is the catalog a fresh clinic starts with.
const DefaultCatalogJSON = `{
  "items": [
    {"id": "fee-consultation", "name": "General Consultation", "price": 100, "type": "Fee"},
    {"id": "med-paracetamol", "name": "Paracetamol", "price": 5, "type": "Medicine"},
    {"id": "med-amoxicillin", "name": "Amoxicillin", "price": 12, "type": "Medicine"},
    {"id": "med-ibuprofen", "name": "Ibuprofen", "price": "7.50", "type": "Medicine"},
    {"id": "med-cetirizine", "name": "Cetirizine", "price": "3.25", "type": "Medicine"},
    {"id": "test-blood", "name": "Blood Test", "price": "45.50", "type": "Test"},
    {"id": "test-urinalysis", "name": "Urinalysis", "price": 30, "type": "Test"},
    {"id": "test-xray", "name": "X-Ray", "price": 80, "type": "Test"}
  ]
}`
