/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  domain packages from the wire contract.

NAMING CONVENTION:
  - *Request:  Request body types from clients, with validate tags
  - *Response: Response wrappers
  - Domain types (appointment.Appointment, identity.Identity, billing.Bill)
    are returned as-is where their JSON tags already fit.

VALIDATION:
  Request shapes are checked with go-playground/validator before the domain
  call; the domain packages then enforce their own invariants.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hospiverse/clinic-engine/access"
	"github.com/hospiverse/clinic-engine/appointment"
	"github.com/hospiverse/clinic-engine/billing"
	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/identity"
	"github.com/hospiverse/clinic-engine/staff"
)

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string             `json:"access_token"`
	ExpiresAt   time.Time          `json:"expires_at"`
	Identity    *identity.Identity `json:"identity"`
	Landing     string             `json:"landing"`
}

type SessionResponse struct {
	Identity *identity.Identity `json:"identity"`
	Landing  string             `json:"landing"`
	Actions  []access.Action    `json:"actions"`
}

// LandingResponse is returned to unauthenticated callers.
type LandingResponse struct {
	Landing string `json:"landing"`
}

// RedirectResponse accompanies a 303 for a denied action.
type RedirectResponse struct {
	Redirect string `json:"redirect"`
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

type BookAppointmentRequest struct {
	DoctorID    string `json:"doctor_id" validate:"required"`
	PatientName string `json:"patient_name" validate:"required"`
	Age         int    `json:"age" validate:"gte=0,lte=150"`
	Condition   string `json:"condition"`
	Date        string `json:"appointment_date" validate:"required"`
	Time        string `json:"time" validate:"required"`
}

func (r BookAppointmentRequest) toDomain() appointment.BookRequest {
	return appointment.BookRequest{
		DoctorID:    r.DoctorID,
		PatientName: r.PatientName,
		Age:         r.Age,
		Condition:   r.Condition,
		Date:        r.Date,
		Time:        r.Time,
	}
}

type ConsultationLineRequest struct {
	ItemID   string         `json:"item_id"`
	Name     string         `json:"name" validate:"required_without=ItemID"`
	Price    *generic.Money `json:"price" validate:"required_without=ItemID"`
	Type     string         `json:"type"`
	Quantity int            `json:"quantity"`
	Dosage   string         `json:"dosage"`
}

type ConsultationRequest struct {
	Diagnosis    string                    `json:"diagnosis" validate:"required"`
	Prescription string                    `json:"prescription" validate:"required"`
	Items        []ConsultationLineRequest `json:"items" validate:"dive"`
}

type ConsultationResponse struct {
	Appointment *appointment.Appointment `json:"appointment"`
	Bill        *billing.Bill            `json:"bill"`
}

type BillResponse struct {
	Appointment *appointment.Appointment `json:"appointment"`
	Bill        *billing.Bill            `json:"bill"`
}

// =============================================================================
// STAFF
// =============================================================================

type UpdateStaffRequest struct {
	FullName   *string `json:"full_name"`
	Role       *string `json:"role"`
	Department *string `json:"department"`
	Status     *string `json:"status"`
}

// StaffMember is a directory entry as HR sees it.
type StaffMember struct {
	identity.Identity
	SyncError *SyncError `json:"sync_error,omitempty"`
}

// SyncError describes an accepted edit the store did not persist.
type SyncError struct {
	ID     string       `json:"id"`
	Fields staff.Fields `json:"fields"`
	Error  string       `json:"error"`
	At     time.Time    `json:"at"`
}

func syncErrorDTO(f staff.UpdateFailure) *SyncError {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return &SyncError{ID: f.ID, Fields: f.Fields, Error: msg, At: f.At}
}

type StaffUpdateResponse struct {
	Status   string             `json:"status"`
	Identity *identity.Identity `json:"identity,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// checkRequest validates req and converts the first failure into a
// generic.ValidationError named after the JSON field.
func checkRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return generic.Invalid("body", err.Error())
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "required_without":
		return generic.Invalid(fe.Field(), "is required")
	case "email":
		return generic.Invalid(fe.Field(), "must be a valid address")
	case "gte", "lte":
		return generic.Invalid(fe.Field(), "is out of range")
	default:
		return generic.Invalid(fe.Field(), "is invalid")
	}
}
