package staff_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospiverse/clinic-engine/auth"
	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/generic/store"
	"github.com/hospiverse/clinic-engine/identity"
	"github.com/hospiverse/clinic-engine/metrics"
	"github.com/hospiverse/clinic-engine/pkg/logging"
	"github.com/hospiverse/clinic-engine/staff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var errWriteRejected = errors.New("write rejected")

// flakyStore fails profile updates while fail is set.
type flakyStore struct {
	generic.Store
	fail atomic.Bool
}

func (f *flakyStore) Update(ctx context.Context, coll generic.Collection, where []generic.Predicate, fields generic.Record) (int, error) {
	if f.fail.Load() {
		return 0, generic.WrapStore("update", coll, errWriteRejected)
	}
	return f.Store.Update(ctx, coll, where, fields)
}

type fixture struct {
	mem      *store.TxMemory
	flaky    *flakyStore
	provider *auth.Provider
	dir      *staff.Directory
	reg      *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewTxMemory()
	provider := auth.NewProvider(mem, auth.ProviderOptions{Secret: "test-secret", Logger: logging.Discard()})
	flaky := &flakyStore{Store: mem}
	reg := prometheus.NewRegistry()
	dir := staff.NewDirectory(flaky, provider.NewClient(auth.ClientOptions{StorageKey: "provisioning"}), staff.Options{
		Logger:  logging.Discard(),
		Metrics: metrics.New(reg),
	})
	t.Cleanup(dir.Close)
	return &fixture{mem: mem, flaky: flaky, provider: provider, dir: dir, reg: reg}
}

func (f *fixture) seed(t *testing.T, id, name string, role identity.Role) {
	t.Helper()
	require.NoError(t, identity.InsertProfile(context.Background(), f.mem, identity.Identity{
		ID: id, Email: id + "@clinic.test", FullName: name, Role: role, Department: "General", Status: identity.StatusActive,
	}))
}

func strp(s string) *string { return &s }

func flush(t *testing.T, d *staff.Directory) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Flush(ctx))
}

func reconcileFailures(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "clinic_staff_reconcile_failures_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

// =============================================================================
// LIST
// =============================================================================

func TestListStaff_OrderedByFullName(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "u1", "Zoe Adams", identity.RoleReceptionist)
	f.seed(t, "u2", "Adam Baker", identity.RoleDoctor)
	f.seed(t, "u3", "Maria Lopez", identity.RoleHR)

	list, err := f.dir.ListStaff(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Adam Baker", list[0].FullName)
	assert.Equal(t, "Maria Lopez", list[1].FullName)
	assert.Equal(t, "Zoe Adams", list[2].FullName)

	doctors, err := f.dir.Doctors(context.Background())
	require.NoError(t, err)
	require.Len(t, doctors, 1)
	assert.Equal(t, "u2", doctors[0].ID)
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_ProvisionsWithoutTouchingCallerSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: an HR user signed in on their own client
	_, err := f.provider.Register(ctx, "hr@clinic.test", "secret1", map[string]string{"full_name": "Helen", "role": "hr", "department": "Admin"})
	require.NoError(t, err)
	hr := f.provider.NewClient(auth.ClientOptions{StorageKey: "hr", PersistSession: true})
	hrSession, err := hr.SignIn(ctx, "hr@clinic.test", "secret1")
	require.NoError(t, err)

	events := 0
	unsubscribe := hr.OnAuthStateChange(func(identity.AuthChange) { events++ })
	defer unsubscribe()

	// WHEN: HR creates two staff members concurrently
	var wg sync.WaitGroup
	created := make([]*identity.Identity, 2)
	errs := make([]error, 2)
	for i, email := range []string{"doc@clinic.test", "desk@clinic.test"} {
		wg.Add(1)
		go func(i int, email string) {
			defer wg.Done()
			created[i], errs[i] = f.dir.Create(ctx, staff.CreateRequest{
				Email: email, Password: "secret1", FullName: "New Hire", Role: "Doctor", Department: "General",
			})
		}(i, email)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// THEN: profiles exist with role, department and Active status
	prof, err := identity.NewProfileRepository(f.mem).Profile(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleDoctor, prof.Role)
	assert.Equal(t, "General", prof.Department)
	assert.Equal(t, identity.StatusActive, prof.Status)

	// AND: the HR session is still HR's
	session, err := hr.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, hrSession.UserID, session.UserID)
	assert.Equal(t, 0, events)

	assert.Len(t, f.dir.Cached(), 2)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	valid := staff.CreateRequest{Email: "a@clinic.test", Password: "secret1", FullName: "Ann", Role: "doctor", Department: "General"}

	tests := []struct {
		name  string
		edit  func(r *staff.CreateRequest)
		field string
	}{
		{"bad email", func(r *staff.CreateRequest) { r.Email = "not-an-email" }, "email"},
		{"short password", func(r *staff.CreateRequest) { r.Password = "12345" }, "password"},
		{"no name", func(r *staff.CreateRequest) { r.FullName = "  " }, "full_name"},
		{"staff role", func(r *staff.CreateRequest) { r.Role = identity.RoleStaff }, "role"},
		{"unknown role", func(r *staff.CreateRequest) { r.Role = "janitor" }, "role"},
		{"no department", func(r *staff.CreateRequest) { r.Department = "" }, "department"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.edit(&req)
			_, err := f.dir.Create(context.Background(), req)

			var ve *generic.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	list, err := f.dir.ListStaff(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	req := staff.CreateRequest{Email: "a@clinic.test", Password: "secret1", FullName: "Ann", Role: "doctor", Department: "General"}

	_, err := f.dir.Create(context.Background(), req)
	require.NoError(t, err)
	_, err = f.dir.Create(context.Background(), req)
	assert.ErrorIs(t, err, generic.ErrDuplicateRecord)
}

// =============================================================================
// OPTIMISTIC UPDATE
// =============================================================================

func TestUpdate_VisibleBeforeWriteThenPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1", "Dan Doe", identity.RoleDoctor)
	_, err := f.dir.ListStaff(ctx)
	require.NoError(t, err)

	// GIVEN: the reconciler is not running yet
	// WHEN: HR changes the department
	require.NoError(t, f.dir.Update(ctx, "u1", staff.Fields{Department: strp("Cardiology"), Role: strp("HR")}))

	// THEN: the cache shows it immediately, the store does not yet
	cached := f.dir.Cached()
	require.Len(t, cached, 1)
	assert.Equal(t, "Cardiology", cached[0].Department)
	assert.Equal(t, identity.RoleHR, cached[0].Role)

	prof, err := identity.NewProfileRepository(f.mem).Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "General", prof.Department)

	// AND: a reload still layers the in-flight edit
	list, err := f.dir.ListStaff(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Cardiology", list[0].Department)

	// WHEN: the reconciler runs
	f.dir.Start()
	flush(t, f.dir)

	prof, err = identity.NewProfileRepository(f.mem).Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Cardiology", prof.Department)
	assert.Equal(t, identity.RoleHR, prof.Role)
}

func TestUpdate_FailureIsSurfacedNotRolledBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1", "Dan Doe", identity.RoleDoctor)
	_, err := f.dir.ListStaff(ctx)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []staff.UpdateFailure
	unsubscribe := f.dir.OnFailure(func(fail staff.UpdateFailure) {
		mu.Lock()
		seen = append(seen, fail)
		mu.Unlock()
	})
	defer unsubscribe()

	f.flaky.fail.Store(true)
	f.dir.Start()

	require.NoError(t, f.dir.Update(ctx, "u1", staff.Fields{Status: strp("On Leave")}))
	flush(t, f.dir)

	// THEN: the failure arrives on the channel and the callback
	select {
	case fail := <-f.dir.Failures():
		assert.Equal(t, "u1", fail.ID)
		assert.ErrorIs(t, fail.Err, errWriteRejected)
		require.NotNil(t, fail.Fields.Status)
		assert.Equal(t, "On Leave", *fail.Fields.Status)
	default:
		t.Fatal("expected a failure event")
	}
	mu.Lock()
	assert.Len(t, seen, 1)
	mu.Unlock()
	assert.Equal(t, float64(1), reconcileFailures(t, f.reg))

	// AND: the optimistic value stays in the cache
	assert.Equal(t, identity.StatusOnLeave, f.dir.Cached()[0].Status)

	prof, err := identity.NewProfileRepository(f.mem).Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, identity.StatusActive, prof.Status)
}

func TestUpdate_UnknownProfileFails(t *testing.T) {
	f := newFixture(t)
	f.dir.Start()

	require.NoError(t, f.dir.Update(context.Background(), "ghost", staff.Fields{FullName: strp("Nobody")}))
	flush(t, f.dir)

	select {
	case fail := <-f.dir.Failures():
		assert.ErrorIs(t, fail.Err, generic.ErrNotFound)
	default:
		t.Fatal("expected a failure event")
	}
}

func TestUpdate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.dir.Update(ctx, "u1", staff.Fields{}), generic.ErrValidation)
	assert.ErrorIs(t, f.dir.Update(ctx, "u1", staff.Fields{Role: strp("janitor")}), generic.ErrValidation)
	assert.ErrorIs(t, f.dir.Update(ctx, "u1", staff.Fields{Status: strp("Retired")}), generic.ErrValidation)
	assert.ErrorIs(t, f.dir.Update(ctx, "u1", staff.Fields{FullName: strp(" ")}), generic.ErrValidation)
	assert.ErrorIs(t, f.dir.Update(ctx, "", staff.Fields{FullName: strp("x")}), generic.ErrValidation)
}

func TestClose_AppliesQueuedThenRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1", "Dan Doe", identity.RoleDoctor)

	require.NoError(t, f.dir.Update(ctx, "u1", staff.Fields{Department: strp("ER")}))
	f.dir.Close()

	prof, err := identity.NewProfileRepository(f.mem).Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ER", prof.Department)

	assert.ErrorIs(t, f.dir.Update(ctx, "u1", staff.Fields{Department: strp("ICU")}), staff.ErrClosed)

	_, open := <-f.dir.Failures()
	assert.False(t, open)
}

func TestLookup_ColdCacheReadsStoreAndLayersPendingEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1", "Dan Doe", identity.RoleDoctor)

	// GIVEN: an edit queued before the directory was ever listed
	require.NoError(t, f.dir.Update(ctx, "u1", staff.Fields{FullName: strp("Dr Dan Doe")}))

	// WHEN: the member is looked up
	got, err := f.dir.Lookup(ctx, "u1")

	// THEN: the stored profile comes back with the pending edit applied
	require.NoError(t, err)
	assert.Equal(t, "Dr Dan Doe", got.FullName)
	assert.Equal(t, "General", got.Department)

	_, err = f.dir.Lookup(ctx, "missing")
	assert.True(t, generic.IsNotFound(err))
}
