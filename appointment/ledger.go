/*
Package appointment owns the appointment entity and its state machine.

STATE MACHINE:

	Scheduled --(Complete)--> Completed/Pending --(Settle)--> Completed/Paid
	Scheduled --(Cancel)----> Cancelled

  Completed and Cancelled are terminal. Paid is set exactly once.

WRITES:
  Every status change is a conditional update (where id = X and status =
  expected). A write that matches zero rows lost a race or targeted the
  wrong state: the caller gets a TransitionError and the stored row keeps
  its previous, valid values. Writes to one appointment from this process
  are serialized by a keyed mutex.

  Complete persists the order lines and the status change in a single
  store transaction: if any order insert fails the appointment stays
  Scheduled and no orders remain.

SEE ALSO:
  - billing/cart.go: Cart built during the consultation
  - billing/orders.go: Bill read path used by the settle workflow
*/
package appointment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hospiverse/clinic-engine/billing"
	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/identity"
	"github.com/hospiverse/clinic-engine/metrics"
	"github.com/hospiverse/clinic-engine/pkg/logging"
)

const timestampLayout = time.RFC3339

type Options struct {
	// Fee is the consultation base rate. Zero uses billing.DefaultConsultationFee.
	Fee generic.Money
	// Doctors, when set, is used to check the doctor reference on booking.
	Doctors identity.ProfileSource
	Clock   generic.Clock
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

type Ledger struct {
	store   generic.TxStore
	fee     generic.Money
	doctors identity.ProfileSource
	clock   generic.Clock
	log     *logging.Logger
	metrics *metrics.Metrics
	locks   keyedMutex
}

func NewLedger(store generic.TxStore, opts Options) *Ledger {
	fee := opts.Fee
	if fee.Value.IsZero() {
		fee = billing.DefaultConsultationFee
	}
	return &Ledger{
		store:   store,
		fee:     fee.Round(),
		doctors: opts.Doctors,
		clock:   opts.Clock,
		log:     logging.OrDefault(opts.Logger),
		metrics: opts.Metrics,
	}
}

// Fee returns the consultation base rate new carts start with.
func (l *Ledger) Fee() generic.Money { return l.fee }

// NewCart returns a cart seeded with this ledger's consultation fee.
func (l *Ledger) NewCart() *billing.Cart { return billing.NewCart(l.fee) }

// =============================================================================
// BOOK
// =============================================================================

// Book creates a Scheduled appointment with payment Pending.
func (l *Ledger) Book(ctx context.Context, req BookRequest) (apt *Appointment, err error) {
	defer func() { l.observe("book", err) }()

	rec, err := l.validateBooking(ctx, req)
	if err != nil {
		return nil, err
	}
	now := l.now()
	rec["id"] = generic.NewID()
	rec["status"] = string(StatusScheduled)
	rec["payment_status"] = string(PaymentPending)
	rec["created_at"] = now
	rec["updated_at"] = now

	if err := l.store.Insert(ctx, generic.CollectionAppointments, rec); err != nil {
		return nil, err
	}
	l.log.WithFields(map[string]interface{}{
		"appointment_id": rec.ID(),
		"doctor_id":      req.DoctorID,
		"date":           rec.String("appointment_date"),
	}).Info("Appointment booked")
	return FromRecord(rec), nil
}

func (l *Ledger) validateBooking(ctx context.Context, req BookRequest) (generic.Record, error) {
	doctorID := strings.TrimSpace(req.DoctorID)
	if doctorID == "" {
		return nil, generic.Invalid("doctor_id", "a doctor must be selected")
	}
	patient := strings.TrimSpace(req.PatientName)
	if patient == "" {
		return nil, generic.Invalid("patient_name", "patient name is required")
	}
	if req.Age < 0 {
		return nil, generic.Invalid("age", "must not be negative")
	}
	date, err := generic.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		return nil, generic.Invalid("appointment_date", "must be YYYY-MM-DD")
	}
	clock, err := generic.ParseClock(req.Time)
	if err != nil {
		return nil, generic.Invalid("time", "must be HH:MM")
	}

	if l.doctors != nil {
		doc, err := l.doctors.Profile(ctx, doctorID)
		switch {
		case generic.IsNotFound(err) || (err == nil && doc == nil):
			return nil, generic.Invalid("doctor_id", "unknown doctor")
		case err != nil:
			return nil, err
		case doc.Role != identity.RoleDoctor:
			return nil, generic.Invalid("doctor_id", "selected profile is not a doctor")
		}
	}

	return generic.Record{
		"doctor_id":        doctorID,
		"patient_name":     patient,
		"age":              req.Age,
		"condition":        strings.TrimSpace(req.Condition),
		"appointment_date": date.String(),
		"time":             clock,
	}, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel moves a Scheduled appointment to Cancelled. Any other state is
// rejected with a TransitionError and left untouched.
func (l *Ledger) Cancel(ctx context.Context, id string) (err error) {
	defer func() { l.observe("cancel", err) }()
	unlock := l.locks.Lock(id)
	defer unlock()

	n, err := l.store.Update(ctx, generic.CollectionAppointments,
		[]generic.Predicate{generic.Eq("id", id), generic.Eq("status", string(StatusScheduled))},
		generic.Record{"status": string(StatusCancelled), "updated_at": l.now()},
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return l.rejectTransition(ctx, l.store, id, "cancel")
	}
	l.log.WithField("appointment_id", id).Info("Appointment cancelled")
	return nil
}

// =============================================================================
// COMPLETE
// =============================================================================

// Complete records the consultation: one order per cart line (the fixed
// consultation fee first) and the move to Completed with payment Pending.
// Both effects commit together or not at all.
func (l *Ledger) Complete(ctx context.Context, id, diagnosis, prescription string, items []OrderedItem) (apt *Appointment, err error) {
	defer func() { l.observe("complete", err) }()

	diagnosis = strings.TrimSpace(diagnosis)
	prescription = strings.TrimSpace(prescription)
	if diagnosis == "" {
		return nil, generic.Invalid("diagnosis", "diagnosis is required")
	}
	if prescription == "" {
		return nil, generic.Invalid("prescription", "prescription is required")
	}
	cart, err := l.cartFor(items)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(id)
	defer unlock()

	now := l.clock.Now()
	stamp := now.UTC().Format(timestampLayout)
	err = l.store.WithTx(ctx, func(tx generic.Store) error {
		rec, err := tx.Get(ctx, generic.CollectionAppointments, id)
		if err != nil {
			return err
		}
		if current := Status(rec.String("status")); current != StatusScheduled {
			return &generic.TransitionError{Entity: "appointment", ID: id, From: string(current), Operation: "complete"}
		}

		if err := tx.InsertBatch(ctx, generic.CollectionOrders, cart.OrderRecords(id, now)); err != nil {
			return err
		}

		n, err := tx.Update(ctx, generic.CollectionAppointments,
			[]generic.Predicate{generic.Eq("id", id), generic.Eq("status", string(StatusScheduled))},
			generic.Record{
				"status":         string(StatusCompleted),
				"payment_status": string(PaymentPending),
				"diagnosis":      diagnosis,
				"prescription":   prescription,
				"updated_at":     stamp,
			},
		)
		if err != nil {
			return err
		}
		if n == 0 {
			return l.rejectTransition(ctx, tx, id, "complete")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.WithFields(map[string]interface{}{
		"appointment_id": id,
		"lines":          cart.Len(),
		"total":          cart.Total().String(),
	}).Info("Consultation completed")
	return l.Get(ctx, id)
}

// cartFor rebuilds the consultation cart from submitted items so the fee
// line is always present exactly once.
func (l *Ledger) cartFor(items []OrderedItem) (*billing.Cart, error) {
	cart := l.NewCart()
	for _, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return nil, generic.Invalid("items", "every item needs a name")
		}
		if it.Price.IsNegative() {
			return nil, generic.Invalid("items", it.Name+" has a negative price")
		}
		if !cart.AddLine(billing.Item{ID: it.ItemID, Name: strings.TrimSpace(it.Name), Price: it.Price, Type: it.Type}) {
			continue
		}
		idx := cart.Len() - 1
		cart.SetQuantity(idx, it.Quantity)
		cart.SetDosage(idx, it.Dosage)
	}
	return cart, nil
}

// =============================================================================
// SETTLE
// =============================================================================

// Settle marks a Completed appointment as Paid. Settling an already Paid
// appointment is a no-op.
func (l *Ledger) Settle(ctx context.Context, id string) (err error) {
	noop := false
	defer func() {
		if noop {
			l.metrics.ObserveTransition("settle", metrics.OutcomeNoop)
			return
		}
		l.observe("settle", err)
	}()
	unlock := l.locks.Lock(id)
	defer unlock()

	n, err := l.store.Update(ctx, generic.CollectionAppointments,
		[]generic.Predicate{
			generic.Eq("id", id),
			generic.Eq("status", string(StatusCompleted)),
			generic.Eq("payment_status", string(PaymentPending)),
		},
		generic.Record{"payment_status": string(PaymentPaid), "updated_at": l.now()},
	)
	if err != nil {
		return err
	}
	if n > 0 {
		l.log.WithField("appointment_id", id).Info("Bill settled")
		return nil
	}

	apt, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if apt.Status == StatusCompleted && apt.PaymentStatus == PaymentPaid {
		noop = true
		return nil
	}
	return &generic.TransitionError{Entity: "appointment", ID: id, From: string(apt.Status), Operation: "settle"}
}

// =============================================================================
// READS
// =============================================================================

func (l *Ledger) Get(ctx context.Context, id string) (*Appointment, error) {
	rec, err := l.store.Get(ctx, generic.CollectionAppointments, id)
	if err != nil {
		return nil, err
	}
	return FromRecord(rec), nil
}

// ListFor returns a doctor's worklist ordered by date then time.
//
//	today:     date is today, not cancelled
//	upcoming:  date after today, not cancelled
//	cancelled: cancelled, any date
func (l *Ledger) ListFor(ctx context.Context, doctorID string, filter Filter) ([]*Appointment, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, generic.Invalid("doctor_id", "doctor is required")
	}
	today := l.clock.Today().String()
	where := []generic.Predicate{generic.Eq("doctor_id", doctorID)}
	switch filter {
	case FilterToday:
		where = append(where, generic.Eq("appointment_date", today), generic.Neq("status", string(StatusCancelled)))
	case FilterUpcoming:
		where = append(where, generic.Gt("appointment_date", today), generic.Neq("status", string(StatusCancelled)))
	case FilterCancelled:
		where = append(where, generic.Eq("status", string(StatusCancelled)))
	default:
		return nil, generic.Invalid("filter", "must be today, upcoming or cancelled")
	}
	return l.find(ctx, where)
}

// ListAll returns every appointment ordered by date then time, with the
// doctor's name filled in where the profile is known.
func (l *Ledger) ListAll(ctx context.Context) ([]*Appointment, error) {
	apts, err := l.find(ctx, nil)
	if err != nil {
		return nil, err
	}
	profiles, err := l.store.Find(ctx, generic.Query{
		Collection: generic.CollectionProfiles,
		Where:      []generic.Predicate{generic.Eq("role", string(identity.RoleDoctor))},
	})
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(profiles))
	for _, p := range profiles {
		names[p.ID()] = p.String("full_name")
	}
	for _, a := range apts {
		a.DoctorName = names[a.DoctorID]
	}
	return apts, nil
}

func (l *Ledger) find(ctx context.Context, where []generic.Predicate) ([]*Appointment, error) {
	rows, err := l.store.Find(ctx, generic.Query{
		Collection: generic.CollectionAppointments,
		Where:      where,
		OrderBy:    []generic.Order{generic.Asc("appointment_date"), generic.Asc("time"), generic.Asc("id")},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Appointment, 0, len(rows))
	for _, rec := range rows {
		out = append(out, FromRecord(rec))
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// rejectTransition explains a conditional write that matched nothing.
func (l *Ledger) rejectTransition(ctx context.Context, s generic.Store, id, op string) error {
	rec, err := s.Get(ctx, generic.CollectionAppointments, id)
	if err != nil {
		return err
	}
	return &generic.TransitionError{Entity: "appointment", ID: id, From: rec.String("status"), Operation: op}
}

func (l *Ledger) now() string {
	return l.clock.Now().UTC().Format(timestampLayout)
}

func (l *Ledger) observe(op string, err error) {
	switch {
	case err == nil:
		l.metrics.ObserveTransition(op, metrics.OutcomeOK)
	case generic.IsClientError(err) || errors.Is(err, generic.ErrNotFound):
		l.metrics.ObserveTransition(op, metrics.OutcomeRejected)
		l.log.WithError(err).WithField("operation", op).Info("Appointment transition rejected")
	default:
		l.metrics.ObserveTransition(op, metrics.OutcomeError)
		l.log.WithError(err).WithField("operation", op).Error("Appointment transition failed")
	}
}
