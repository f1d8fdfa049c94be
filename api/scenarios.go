/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a working
	clinic: the default catalog, one account per role and, for busy-day,
	appointments in every lifecycle state.

AVAILABLE SCENARIOS:

	empty-clinic: Catalog and staff, no appointments
	busy-day:     Today's worklist with scheduled, cancelled, completed and paid visits

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the catalog from factory.DefaultCatalogJSON
 3. Provision staff through the directory
 4. Drive appointments through the ledger, so every record is produced by
    the same operations the API uses

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-day"}

	Every demo account signs in with DemoPassword.

NOTE:

	Scenarios reset the database. Routes are only mounted with EnableDemo.

SEE ALSO:
  - handlers.go: Handler dependencies
  - factory/catalog.go: Catalog presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hospiverse/clinic-engine/appointment"
	"github.com/hospiverse/clinic-engine/factory"
	"github.com/hospiverse/clinic-engine/identity"
	"github.com/hospiverse/clinic-engine/staff"
)

// DemoPassword is shared by every account a scenario provisions.
const DemoPassword = "clinic123"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "empty-clinic",
		Name:        "Empty Clinic",
		Description: "Default catalog with one HR, receptionist and two doctors; no appointments",
	},
	{
		ID:          "busy-day",
		Name:        "Busy Day",
		Description: "Appointments in every state: scheduled today and upcoming, cancelled, awaiting payment, paid",
	},
}

var demoStaff = []staff.CreateRequest{
	{Email: "hr@clinic.test", FullName: "Helen Ruiz", Role: identity.RoleHR, Department: "Administration"},
	{Email: "reception@clinic.test", FullName: "Rita Cole", Role: identity.RoleReceptionist, Department: "Front Desk"},
	{Email: "house@clinic.test", FullName: "Gregory House", Role: identity.RoleDoctor, Department: "Diagnostics"},
	{Email: "grey@clinic.test", FullName: "Meredith Grey", Role: identity.RoleDoctor, Department: "General Surgery"},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "empty-clinic":
		load = h.loadEmptyClinic
	case "busy-day":
		load = h.loadBusyDay
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Staff.Flush(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to drain staff updates", err)
		return
	}
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.Log.WithError(err).WithField("scenario", req.ScenarioID).Error("Failed to load scenario")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Log.WithField("scenario", req.ScenarioID).Info("Scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadEmptyClinic(ctx context.Context) error {
	_, err := h.seedClinic(ctx)
	return err
}

func (h *Handler) loadBusyDay(ctx context.Context) error {
	people, err := h.seedClinic(ctx)
	if err != nil {
		return err
	}
	house, grey := people["house@clinic.test"], people["grey@clinic.test"]

	today := h.clock.Today()
	book := func(doctor *identity.Identity, patient string, age int, condition string, days int, at string) (*appointment.Appointment, error) {
		return h.Ledger.Book(ctx, appointment.BookRequest{
			DoctorID:    doctor.ID,
			PatientName: patient,
			Age:         age,
			Condition:   condition,
			Date:        today.AddDays(days).String(),
			Time:        at,
		})
	}

	// Scheduled
	if _, err := book(house, "Jane Doe", 34, "Persistent cough", 0, "09:00"); err != nil {
		return err
	}
	if _, err := book(house, "Tom Baker", 61, "Chest pain", 0, "11:30"); err != nil {
		return err
	}
	if _, err := book(grey, "Ana Lima", 27, "Follow-up", 3, "10:00"); err != nil {
		return err
	}

	// Cancelled
	cancelled, err := book(house, "Sam Reed", 45, "Back pain", 1, "14:00")
	if err != nil {
		return err
	}
	if err := h.Ledger.Cancel(ctx, cancelled.ID); err != nil {
		return err
	}

	// Completed, awaiting payment
	pending, err := book(house, "Lena Fox", 52, "Fever", 0, "08:00")
	if err != nil {
		return err
	}
	if err := h.completeFromCatalog(ctx, pending.ID, "Viral infection", "Rest and fluids",
		ConsultationLineRequest{ItemID: "med-paracetamol", Quantity: 2, Dosage: "500mg twice daily"},
		ConsultationLineRequest{ItemID: "test-blood", Quantity: 1},
	); err != nil {
		return err
	}

	// Completed and paid
	paid, err := book(grey, "Omar Haddad", 39, "Sprained ankle", 0, "08:30")
	if err != nil {
		return err
	}
	if err := h.completeFromCatalog(ctx, paid.ID, "Grade I sprain", "Ibuprofen and compression",
		ConsultationLineRequest{ItemID: "med-ibuprofen", Quantity: 1, Dosage: "400mg as needed"},
	); err != nil {
		return err
	}
	return h.Ledger.Settle(ctx, paid.ID)
}

// seedClinic loads the default catalog and provisions the demo staff,
// returning them keyed by email.
func (h *Handler) seedClinic(ctx context.Context) (map[string]*identity.Identity, error) {
	items, err := h.CatalogFactory.ParseCatalog([]byte(factory.DefaultCatalogJSON))
	if err != nil {
		return nil, err
	}
	if err := h.Catalog.Seed(ctx, items); err != nil {
		return nil, fmt.Errorf("seed catalog: %w", err)
	}

	people := make(map[string]*identity.Identity, len(demoStaff))
	for _, req := range demoStaff {
		req.Password = DemoPassword
		ident, err := h.Staff.Create(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", req.Email, err)
		}
		people[req.Email] = ident
	}
	return people, nil
}

func (h *Handler) completeFromCatalog(ctx context.Context, id, diagnosis, prescription string, lines ...ConsultationLineRequest) error {
	items := make([]appointment.OrderedItem, 0, len(lines))
	for _, line := range lines {
		item, err := h.orderedItem(ctx, line)
		if err != nil {
			return err
		}
		items = append(items, item)
	}
	_, err := h.Ledger.Complete(ctx, id, diagnosis, prescription, items)
	return err
}
