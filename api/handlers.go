/*
handlers.go - HTTP API handlers for the clinic engine

PURPOSE:
  Exposes the appointment lifecycle over REST. Handles HTTP
  request/response and JSON, and delegates to the domain packages.

ENDPOINTS:
  Auth:
    POST   /api/auth/login                     Sign in, returns token and landing route
    POST   /api/auth/logout                    Revoke the bearer token
    GET    /api/session                        Resolved identity and landing route

  Reception (bookAppointment, cancelAppointment, settleBill):
    GET    /api/doctors                        Doctors for the booking form
    GET    /api/appointments                   Every appointment with doctor name
    POST   /api/appointments                   Book
    POST   /api/appointments/{id}/cancel       Cancel
    GET    /api/appointments/{id}/bill         Persisted orders and total
    POST   /api/appointments/{id}/settle       Mark paid

  Doctor (runConsultation):
    GET    /api/doctor/appointments?filter=    Own worklist (today|upcoming|cancelled)
    GET    /api/items                          Orderable catalog items
    POST   /api/appointments/{id}/consultation Complete with diagnosis and orders

  HR (manageStaff):
    GET    /api/staff                          Directory, with sync_error per member
    GET    /api/staff/failures                 Unresolved reconciliation failures
    POST   /api/staff                          Provision account
    PATCH  /api/staff/{id}                     Optimistic edit (202)

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status from the error taxonomy:
  - 400: Validation errors
  - 401: No resolvable identity
  - 403: Doctor acting on another doctor's appointment
  - 404: Record not found
  - 409: Invalid state transition, duplicate record
  - 500: Store failures
  Denied role actions are not errors: they answer 303 with the caller's
  landing route (see middleware.go).

SEE ALSO:
  - dto.go: Request/response types
  - middleware.go: Authentication and role gate
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hospiverse/clinic-engine/access"
	"github.com/hospiverse/clinic-engine/appointment"
	"github.com/hospiverse/clinic-engine/auth"
	"github.com/hospiverse/clinic-engine/billing"
	"github.com/hospiverse/clinic-engine/factory"
	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/identity"
	"github.com/hospiverse/clinic-engine/metrics"
	"github.com/hospiverse/clinic-engine/pkg/logging"
	"github.com/hospiverse/clinic-engine/staff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resettable stores can be wiped by demo scenarios.
type Resettable interface {
	generic.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store          Resettable
	Provider       *auth.Provider
	Profiles       *identity.ProfileRepository
	Ledger         *appointment.Ledger
	Biller         *billing.Biller
	Catalog        *billing.Catalog
	Staff          *staff.Directory
	Access         *access.Controller
	CatalogFactory *factory.CatalogFactory
	Log            *logging.Logger
	Metrics        *metrics.Metrics
	ResolveTimeout time.Duration

	clock           generic.Clock
	mu              sync.Mutex
	currentScenario string

	// last reconciliation failure per staff id, cleared by the next edit
	syncMu      sync.Mutex
	syncErrors  map[string]staff.UpdateFailure
	unsubscribe func()
}

// Deps are the collaborators NewHandler wires together.
type Deps struct {
	Store          Resettable
	Provider       *auth.Provider
	Staff          *staff.Directory
	Fee            generic.Money
	Clock          generic.Clock
	ResolveTimeout time.Duration
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
}

// NewHandler builds the domain services over deps.Store.
func NewHandler(deps Deps) *Handler {
	log := logging.OrDefault(deps.Logger)
	profiles := identity.NewProfileRepository(deps.Store)
	h := &Handler{
		Store:    deps.Store,
		Provider: deps.Provider,
		Profiles: profiles,
		Ledger: appointment.NewLedger(deps.Store, appointment.Options{
			Fee:     deps.Fee,
			Doctors: profiles,
			Clock:   deps.Clock,
			Logger:  log,
			Metrics: deps.Metrics,
		}),
		Biller:         billing.NewBiller(deps.Store),
		Catalog:        billing.NewCatalog(deps.Store),
		Staff:          deps.Staff,
		Access:         access.NewController(log, deps.Metrics),
		CatalogFactory: factory.NewCatalogFactory(),
		Log:            log,
		Metrics:        deps.Metrics,
		ResolveTimeout: deps.ResolveTimeout,
		clock:          deps.Clock,
		syncErrors:     make(map[string]staff.UpdateFailure),
	}
	if h.Staff != nil {
		h.unsubscribe = h.Staff.OnFailure(h.recordSyncError)
	}
	return h
}

// Close detaches the handler from the staff directory's failure events.
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Login signs in and returns the token with the caller's landing route.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	client := h.Provider.NewClient(auth.ClientOptions{StorageKey: "login", PersistSession: true})
	session, err := client.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.Log.Security("login_failed", "", map[string]interface{}{"email": strings.ToLower(req.Email)})
			writeError(w, http.StatusUnauthorized, "Invalid email or password", nil)
			return
		}
		h.writeDomainError(w, "Failed to sign in", err)
		return
	}

	res := identity.Resolve(r.Context(), client, client, h.Profiles, identity.Options{
		Timeout: h.ResolveTimeout,
		Logger:  h.Log,
		Metrics: h.Metrics,
	})
	if !res.Authenticated() {
		writeJSON(w, http.StatusUnauthorized, LandingResponse{Landing: access.RouteEntry})
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		AccessToken: session.AccessToken,
		ExpiresAt:   session.ExpiresAt,
		Identity:    res.Identity,
		Landing:     access.LandingRoute(res.Identity),
	})
}

// Logout revokes the bearer token. It always lands on the entry route.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Provider.Revoke(r.Context(), bearerToken(r)); err != nil {
		h.Log.WithError(err).Warn("Failed to revoke session on logout")
	}
	writeJSON(w, http.StatusOK, LandingResponse{Landing: access.RouteEntry})
}

// Session reports the caller's identity, landing route and allowed actions.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	res := h.resolve(r)
	if !res.Authenticated() {
		writeJSON(w, http.StatusUnauthorized, LandingResponse{Landing: access.RouteEntry})
		return
	}
	actions := access.Actions(res.Identity.Role)
	if actions == nil {
		actions = []access.Action{}
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Identity: res.Identity,
		Landing:  access.LandingRoute(res.Identity),
		Actions:  actions,
	})
}

// =============================================================================
// RECEPTION HANDLERS
// =============================================================================

func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.Staff.Doctors(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list doctors", err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	apts, err := h.Ledger.ListAll(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, apts)
}

func (h *Handler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if !decode(w, r, &req) {
		return
	}
	apt, err := h.Ledger.Book(detached(r), req.toDomain())
	if err != nil {
		h.writeDomainError(w, "Failed to book appointment", err)
		return
	}
	h.audit(r, "book", apt.ID)
	writeJSON(w, http.StatusCreated, apt)
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Ledger.Cancel(detached(r), id); err != nil {
		h.writeDomainError(w, "Failed to cancel appointment", err)
		return
	}
	h.audit(r, "cancel", id)
	h.writeAppointment(w, r, id)
}

func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	apt, err := h.Ledger.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to load appointment", err)
		return
	}
	bill, err := h.Biller.BillFor(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to load bill", err)
		return
	}
	writeJSON(w, http.StatusOK, BillResponse{Appointment: apt, Bill: bill})
}

func (h *Handler) SettleBill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Ledger.Settle(detached(r), id); err != nil {
		h.writeDomainError(w, "Failed to settle bill", err)
		return
	}
	h.audit(r, "settle", id)
	h.writeAppointment(w, r, id)
}

// =============================================================================
// DOCTOR HANDLERS
// =============================================================================

func (h *Handler) DoctorAppointments(w http.ResponseWriter, r *http.Request) {
	filter, err := appointment.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		h.writeDomainError(w, "Invalid filter", err)
		return
	}
	apts, err := h.Ledger.ListFor(r.Context(), IdentityFrom(r.Context()).ID, filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, apts)
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.ListItems(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list items", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// CompleteConsultation records the consultation for one of the caller's
// own appointments. Lines naming a catalog item take its name and price.
func (h *Handler) CompleteConsultation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var req ConsultationRequest
	if !decode(w, r, &req) {
		return
	}

	apt, err := h.Ledger.Get(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Failed to load appointment", err)
		return
	}
	caller := IdentityFrom(ctx)
	if apt.DoctorID != caller.ID {
		h.Log.Security("foreign_consultation", caller.ID, map[string]interface{}{"appointment_id": id})
		writeError(w, http.StatusForbidden, "Appointment belongs to another doctor", nil)
		return
	}

	items := make([]appointment.OrderedItem, 0, len(req.Items))
	for _, line := range req.Items {
		item, err := h.orderedItem(ctx, line)
		if err != nil {
			h.writeDomainError(w, "Invalid order line", err)
			return
		}
		items = append(items, item)
	}

	done, err := h.Ledger.Complete(detached(r), id, req.Diagnosis, req.Prescription, items)
	if err != nil {
		h.writeDomainError(w, "Failed to complete consultation", err)
		return
	}
	bill, err := h.Biller.BillFor(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Failed to load bill", err)
		return
	}
	h.audit(r, "complete", id)
	writeJSON(w, http.StatusOK, ConsultationResponse{Appointment: done, Bill: bill})
}

func (h *Handler) orderedItem(ctx context.Context, line ConsultationLineRequest) (appointment.OrderedItem, error) {
	item := appointment.OrderedItem{
		ItemID:   line.ItemID,
		Name:     line.Name,
		Type:     billing.ItemType(line.Type),
		Quantity: line.Quantity,
		Dosage:   line.Dosage,
	}
	if line.Price != nil {
		item.Price = *line.Price
	}
	if line.ItemID == "" {
		return item, nil
	}
	cat, err := h.Catalog.Item(ctx, line.ItemID)
	if err != nil {
		if generic.IsNotFound(err) {
			return item, generic.Invalid("item_id", "unknown catalog item "+line.ItemID)
		}
		return item, err
	}
	item.Name, item.Price, item.Type = cat.Name, cat.Price, cat.Type
	return item, nil
}

// =============================================================================
// HR HANDLERS
// =============================================================================

// ListStaff returns the directory. A member whose last edit failed to
// persist carries sync_error.
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	list, err := h.Staff.ListStaff(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list staff", err)
		return
	}

	h.syncMu.Lock()
	defer h.syncMu.Unlock()
	out := make([]StaffMember, 0, len(list))
	for _, ident := range list {
		m := StaffMember{Identity: ident}
		if f, ok := h.syncErrors[ident.ID]; ok {
			m.SyncError = syncErrorDTO(f)
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, out)
}

// ListStaffFailures returns every unresolved reconciliation failure, oldest first.
func (h *Handler) ListStaffFailures(w http.ResponseWriter, r *http.Request) {
	h.syncMu.Lock()
	out := make([]*SyncError, 0, len(h.syncErrors))
	for _, f := range h.syncErrors {
		out = append(out, syncErrorDTO(f))
	}
	h.syncMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	writeJSON(w, http.StatusOK, out)
}

// clearSyncError drops a failure recorded before the edit accepted at since.
func (h *Handler) clearSyncError(id string, since time.Time) {
	h.syncMu.Lock()
	defer h.syncMu.Unlock()
	if f, ok := h.syncErrors[id]; ok && f.At.Before(since) {
		delete(h.syncErrors, id)
	}
}

// recordSyncError runs on the directory's reconciler goroutine.
func (h *Handler) recordSyncError(f staff.UpdateFailure) {
	h.syncMu.Lock()
	h.syncErrors[f.ID] = f
	h.syncMu.Unlock()
}

func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req staff.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ident, err := h.Staff.Create(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to create staff member", err)
		return
	}
	h.audit(r, "create_staff", ident.ID)
	writeJSON(w, http.StatusCreated, ident)
}

// UpdateStaff accepts the edit optimistically. 202 means queued; the
// persisted outcome is reported through the directory's failure events.
func (h *Handler) UpdateStaff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	accepted := time.Now()
	err := h.Staff.Update(r.Context(), id, staff.Fields{
		FullName:   req.FullName,
		Role:       req.Role,
		Department: req.Department,
		Status:     req.Status,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to update staff member", err)
		return
	}
	h.audit(r, "update_staff", id)
	h.clearSyncError(id, accepted)

	resp := StaffUpdateResponse{Status: "accepted"}
	ident, err := h.Staff.Lookup(r.Context(), id)
	switch {
	case err == nil:
		resp.Identity = ident
	case !generic.IsNotFound(err):
		h.Log.WithError(err).WithField("user_id", id).Warn("Failed to read staff member after update")
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// detached returns the request context without its cancellation. A client
// that disconnects mid-write does not abort the write.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *Handler) writeAppointment(w http.ResponseWriter, r *http.Request, id string) {
	apt, err := h.Ledger.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to load appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

func (h *Handler) audit(r *http.Request, action, resource string) {
	userID := ""
	if ident := IdentityFrom(r.Context()); ident != nil {
		userID = ident.ID
	}
	h.Log.Audit(userID, action, resource, true, nil)
}

// decode reads a JSON body into req and validates it. It writes the error
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := checkRequest(req); err != nil {
		writeValidation(w, err)
		return false
	}
	return true
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var ve *generic.ValidationError
	switch {
	case errors.As(err, &ve):
		writeValidation(w, err)
	case errors.Is(err, generic.ErrInvalidStateTransition), errors.Is(err, generic.ErrDuplicateRecord):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, generic.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, generic.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, LandingResponse{Landing: access.RouteEntry})
	default:
		h.Log.WithError(err).Error(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeValidation(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: "Validation failed", Details: err.Error()}
	var ve *generic.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
		resp.Details = ve.Message
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
