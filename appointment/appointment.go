package appointment

import (
	"strings"

	"github.com/hospiverse/clinic-engine/billing"
	"github.com/hospiverse/clinic-engine/generic"
)

// =============================================================================
// STATES
// =============================================================================

type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
)

// Filter selects a doctor's worklist.
type Filter string

const (
	FilterToday     Filter = "today"
	FilterUpcoming  Filter = "upcoming"
	FilterCancelled Filter = "cancelled"
)

func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterToday, FilterUpcoming, FilterCancelled:
		return f, nil
	case "":
		return FilterToday, nil
	default:
		return "", generic.Invalid("filter", "must be today, upcoming or cancelled")
	}
}

// =============================================================================
// ENTITY
// =============================================================================

type Appointment struct {
	ID            string        `json:"id"`
	DoctorID      string        `json:"doctor_id"`
	DoctorName    string        `json:"doctor_name,omitempty"`
	PatientName   string        `json:"patient_name"`
	Age           int           `json:"age"`
	Condition     string        `json:"condition"`
	Date          string        `json:"appointment_date"`
	Time          string        `json:"time"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Diagnosis     string        `json:"diagnosis,omitempty"`
	Prescription  string        `json:"prescription,omitempty"`
	CreatedAt     string        `json:"created_at,omitempty"`
	UpdatedAt     string        `json:"updated_at,omitempty"`
}

func FromRecord(rec generic.Record) *Appointment {
	return &Appointment{
		ID:            rec.ID(),
		DoctorID:      rec.String("doctor_id"),
		PatientName:   rec.String("patient_name"),
		Age:           rec.Int("age"),
		Condition:     rec.String("condition"),
		Date:          rec.String("appointment_date"),
		Time:          rec.String("time"),
		Status:        Status(rec.String("status")),
		PaymentStatus: PaymentStatus(rec.String("payment_status")),
		Diagnosis:     rec.String("diagnosis"),
		Prescription:  rec.String("prescription"),
		CreatedAt:     rec.String("created_at"),
		UpdatedAt:     rec.String("updated_at"),
	}
}

// BookRequest carries the reception booking form.
type BookRequest struct {
	DoctorID    string
	PatientName string
	Age         int
	Condition   string
	Date        string
	Time        string
}

// OrderedItem is one cart entry submitted with a consultation. Quantities
// below 1 are stored as 1.
type OrderedItem struct {
	ItemID   string           `json:"item_id,omitempty"`
	Name     string           `json:"name"`
	Price    generic.Money    `json:"price"`
	Type     billing.ItemType `json:"type,omitempty"`
	Quantity int              `json:"quantity"`
	Dosage   string           `json:"dosage,omitempty"`
}
