/*
Package staff is the staff directory used by HR.

PURPOSE:
  Lists staff profiles, provisions new accounts and edits existing ones.

KEY CONCEPTS:
  - Isolated provisioning: Create signs accounts up through its own auth
    context, which never stores a session. The HR user's session is not
    touched.
  - Optimistic update: Update writes the new fields into the local cache
    at once and queues the store write for the reconciler. A failed write
    is published as an UpdateFailure; the cache is not rolled back.

SEE ALSO:
  - reconciler.go: Background worker applying queued updates
  - auth/client.go: ClientOptions.PersistSession
*/
package staff

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/identity"
	"github.com/hospiverse/clinic-engine/metrics"
	"github.com/hospiverse/clinic-engine/pkg/logging"
)

var ErrClosed = errors.New("staff directory closed")

var validate = validator.New()

// CreateRequest carries the HR "add staff" form.
type CreateRequest struct {
	Email      string        `json:"email" validate:"required,email"`
	Password   string        `json:"password" validate:"required,min=6"`
	FullName   string        `json:"full_name" validate:"required"`
	Role       identity.Role `json:"role" validate:"required,oneof=hr doctor receptionist"`
	Department string        `json:"department" validate:"required"`
}

// Fields is a partial profile edit. Nil fields are left unchanged.
type Fields struct {
	FullName   *string `json:"full_name,omitempty"`
	Role       *string `json:"role,omitempty"`
	Department *string `json:"department,omitempty"`
	Status     *string `json:"status,omitempty"`
}

// normalize trims values, lower-cases the role and checks the enumerations.
func (f Fields) normalize() (Fields, error) {
	var out Fields
	if f.FullName != nil {
		v := strings.TrimSpace(*f.FullName)
		if v == "" {
			return Fields{}, generic.Invalid("full_name", "must not be empty")
		}
		out.FullName = &v
	}
	if f.Role != nil {
		v := strings.ToLower(strings.TrimSpace(*f.Role))
		if !identity.Role(v).Assignable() {
			return Fields{}, generic.Invalid("role", "must be hr, doctor or receptionist")
		}
		out.Role = &v
	}
	if f.Department != nil {
		v := strings.TrimSpace(*f.Department)
		out.Department = &v
	}
	if f.Status != nil {
		st, ok := identity.ParseStatus(*f.Status)
		if !ok || strings.TrimSpace(*f.Status) == "" {
			return Fields{}, generic.Invalid("status", "must be Active, On Leave or Terminated")
		}
		v := string(st)
		out.Status = &v
	}
	if out.FullName == nil && out.Role == nil && out.Department == nil && out.Status == nil {
		return Fields{}, generic.Invalid("fields", "nothing to update")
	}
	return out, nil
}

func (f Fields) record() generic.Record {
	rec := generic.Record{}
	if f.FullName != nil {
		rec["full_name"] = *f.FullName
	}
	if f.Role != nil {
		rec["role"] = *f.Role
	}
	if f.Department != nil {
		rec["department"] = *f.Department
	}
	if f.Status != nil {
		rec["status"] = *f.Status
	}
	return rec
}

func (f Fields) apply(ident *identity.Identity) {
	if f.FullName != nil {
		ident.FullName = *f.FullName
	}
	if f.Role != nil {
		ident.Role = identity.Role(*f.Role)
	}
	if f.Department != nil {
		ident.Department = *f.Department
	}
	if f.Status != nil {
		ident.Status = identity.Status(*f.Status)
	}
}

// merge layers later over f.
func (f Fields) merge(later Fields) Fields {
	if later.FullName != nil {
		f.FullName = later.FullName
	}
	if later.Role != nil {
		f.Role = later.Role
	}
	if later.Department != nil {
		f.Department = later.Department
	}
	if later.Status != nil {
		f.Status = later.Status
	}
	return f
}

// =============================================================================
// DIRECTORY
// =============================================================================

type Options struct {
	// QueueSize bounds queued updates. Update blocks while the queue is full.
	QueueSize int
	// FailureBuffer bounds the Failures channel. Events beyond it are only logged.
	FailureBuffer int
	Logger        *logging.Logger
	Metrics       *metrics.Metrics
}

type Directory struct {
	profiles    *identity.ProfileRepository
	provisioner identity.Auth
	log         *logging.Logger
	metrics     *metrics.Metrics

	mu       sync.RWMutex
	cache    map[string]identity.Identity
	inflight map[string]int
	overlay  map[string]Fields

	rec *reconciler
}

// NewDirectory builds a directory over the profiles in store. provisioner
// must be an isolated auth context that does not persist sessions.
func NewDirectory(store generic.Store, provisioner identity.Auth, opts Options) *Directory {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.FailureBuffer <= 0 {
		opts.FailureBuffer = 16
	}
	d := &Directory{
		profiles:    identity.NewProfileRepository(store),
		provisioner: provisioner,
		log:         logging.OrDefault(opts.Logger),
		metrics:     opts.Metrics,
		cache:       make(map[string]identity.Identity),
		inflight:    make(map[string]int),
		overlay:     make(map[string]Fields),
	}
	d.rec = newReconciler(d, opts.QueueSize, opts.FailureBuffer)
	return d
}

// Start launches the reconciler.
func (d *Directory) Start() { d.rec.start() }

// Close stops accepting updates, applies the ones already queued and
// waits for the reconciler to exit.
func (d *Directory) Close() { d.rec.stop() }

// ListStaff reads every profile ordered by full name. Updates still in
// flight are layered over the stored values.
func (d *Directory) ListStaff(ctx context.Context) ([]identity.Identity, error) {
	list, err := d.profiles.List(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]identity.Identity, len(list))
	for i := range list {
		if f, ok := d.overlay[list[i].ID]; ok {
			f.apply(&list[i])
		}
		d.cache[list[i].ID] = list[i]
	}
	sortByName(list)
	return list, nil
}

// Doctors lists profiles with the doctor role for the booking form.
func (d *Directory) Doctors(ctx context.Context) ([]identity.Identity, error) {
	return d.profiles.List(ctx, generic.Eq("role", string(identity.RoleDoctor)))
}

// Cached returns the directory as last seen, including optimistic edits.
func (d *Directory) Cached() []identity.Identity {
	d.mu.RLock()
	out := make([]identity.Identity, 0, len(d.cache))
	for _, ident := range d.cache {
		out = append(out, ident)
	}
	d.mu.RUnlock()
	sortByName(out)
	return out
}

// Lookup returns one staff member including optimistic edits. A member the
// cache has not seen yet is read from the store.
func (d *Directory) Lookup(ctx context.Context, id string) (*identity.Identity, error) {
	d.mu.RLock()
	ident, ok := d.cache[id]
	d.mu.RUnlock()
	if ok {
		return &ident, nil
	}

	stored, err := d.profiles.Profile(ctx, id)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if cached, ok := d.cache[id]; ok {
		return &cached, nil
	}
	if f, ok := d.overlay[id]; ok {
		f.apply(stored)
	}
	d.cache[id] = *stored
	return stored, nil
}

// Create provisions an account with an Active profile carrying the role
// and department as sign-up metadata.
func (d *Directory) Create(ctx context.Context, req CreateRequest) (*identity.Identity, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	req.Department = strings.TrimSpace(req.Department)
	req.Role = identity.Role(strings.ToLower(strings.TrimSpace(string(req.Role))))
	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	session, err := d.provisioner.SignUp(ctx, req.Email, req.Password, map[string]string{
		"full_name":  req.FullName,
		"role":       string(req.Role),
		"department": req.Department,
		"status":     string(identity.StatusActive),
	})
	if err != nil {
		return nil, err
	}

	ident := identity.Identity{
		ID:         session.UserID,
		Email:      session.Email,
		FullName:   req.FullName,
		Role:       req.Role,
		Department: req.Department,
		Status:     identity.StatusActive,
	}
	d.mu.Lock()
	d.cache[ident.ID] = ident
	d.mu.Unlock()

	d.log.WithFields(map[string]interface{}{"user_id": ident.ID, "role": ident.Role}).Info("Staff member created")
	return &ident, nil
}

// Update applies fields to the cached profile immediately and queues the
// store write. A nil return means the edit was accepted, not persisted;
// persistence failures arrive as UpdateFailure events.
func (d *Directory) Update(ctx context.Context, id string, fields Fields) error {
	if strings.TrimSpace(id) == "" {
		return generic.Invalid("id", "staff id is required")
	}
	norm, err := fields.normalize()
	if err != nil {
		return err
	}

	d.mu.Lock()
	if ident, ok := d.cache[id]; ok {
		norm.apply(&ident)
		d.cache[id] = ident
	}
	d.inflight[id]++
	d.overlay[id] = d.overlay[id].merge(norm)
	d.mu.Unlock()

	if err := d.rec.enqueue(ctx, job{id: id, fields: norm}); err != nil {
		d.settle(id)
		return err
	}
	return nil
}

// Failures delivers reconciliation failures. The channel is closed by Close.
func (d *Directory) Failures() <-chan UpdateFailure { return d.rec.failures }

// OnFailure registers fn for reconciliation failures and returns its
// unsubscribe function. fn runs on the reconciler goroutine.
func (d *Directory) OnFailure(fn func(UpdateFailure)) func() {
	return d.rec.subscribe(fn)
}

// Flush waits until every queued update has been attempted.
func (d *Directory) Flush(ctx context.Context) error { return d.rec.flush(ctx) }

// settle drops the in-flight marker for id once its write was attempted.
func (d *Directory) settle(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight[id]--
	if d.inflight[id] <= 0 {
		delete(d.inflight, id)
		delete(d.overlay, id)
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Field() {
		case "FullName":
			field = "full_name"
		}
		switch fe.Tag() {
		case "email":
			return generic.Invalid(field, "must be a valid address")
		case "min":
			return generic.Invalid(field, "must be at least "+fe.Param()+" characters")
		case "oneof":
			return generic.Invalid(field, "must be one of "+fe.Param())
		default:
			return generic.Invalid(field, "is required")
		}
	}
	return generic.Invalid("request", err.Error())
}
