package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospiverse/clinic-engine/auth"
	"github.com/hospiverse/clinic-engine/billing"
	"github.com/hospiverse/clinic-engine/identity"
	"github.com/hospiverse/clinic-engine/pkg/logging"
	"github.com/hospiverse/clinic-engine/staff"
	"github.com/hospiverse/clinic-engine/store/sqlite"
)

const seedFile = `{
  "items": [
    {"id": "med-paracetamol", "name": "Paracetamol", "price": 5, "type": "Medicine"}
  ],
  "staff": [
    {"email": "helen@clinic.test", "password": "secret1", "full_name": "Helen Ruiz",
     "role": "hr", "department": "Administration"}
  ]
}`

func TestSeedClinic_ItemsAndStaff(t *testing.T) {
	// GIVEN: An empty store and a seed file with one item and one HR account
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	log := logging.Discard()
	provider := auth.NewProvider(store, auth.ProviderOptions{Secret: "test-secret", Logger: log})
	dir := staff.NewDirectory(store, provider.NewClient(auth.ClientOptions{StorageKey: "seed"}), staff.Options{Logger: log})
	dir.Start()
	t.Cleanup(dir.Close)

	file := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(file, []byte(seedFile), 0o600))
	ctx := context.Background()

	// WHEN: The server seeds twice, as on a restart
	require.NoError(t, seedClinic(ctx, store, dir, file, log))
	require.NoError(t, seedClinic(ctx, store, dir, file, log))

	// THEN: The catalog holds the item once
	items, err := billing.NewCatalog(store).ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "5.00", items[0].Price.String())

	// AND: The seed account exists once with its profile and can sign in
	list, err := dir.ListStaff(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Helen Ruiz", list[0].FullName)
	assert.Equal(t, identity.RoleHR, list[0].Role)

	session, err := provider.Authenticate(ctx, "helen@clinic.test", "secret1")
	require.NoError(t, err)
	assert.Equal(t, list[0].ID, session.UserID)
}

func TestSeedClinic_InvalidStaffEntryFails(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	log := logging.Discard()
	provider := auth.NewProvider(store, auth.ProviderOptions{Secret: "test-secret", Logger: log})
	dir := staff.NewDirectory(store, provider.NewClient(auth.ClientOptions{StorageKey: "seed"}), staff.Options{Logger: log})
	dir.Start()
	t.Cleanup(dir.Close)

	file := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"items": [], "staff": [
	  {"email": "x@clinic.test", "password": "1", "full_name": "X", "role": "hr", "department": "Admin"}]}`), 0o600))

	err = seedClinic(context.Background(), store, dir, file, log)

	assert.Error(t, err)
}
