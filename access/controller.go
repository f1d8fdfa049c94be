/*
Package access is the role-gated access controller.

CAPABILITY TABLE:
  receptionist -> bookAppointment, cancelAppointment, settleBill
  doctor       -> runConsultation
  hr           -> manageStaff
  staff        -> (nothing)

A denied caller is not shown an error: the decision carries the landing
route of the caller's own role (or the entry route when unauthenticated).
*/
package access

import (
	"github.com/hospiverse/clinic-engine/identity"
	"github.com/hospiverse/clinic-engine/metrics"
	"github.com/hospiverse/clinic-engine/pkg/logging"
)

type Action string

const (
	BookAppointment   Action = "bookAppointment"
	CancelAppointment Action = "cancelAppointment"
	RunConsultation   Action = "runConsultation"
	SettleBill        Action = "settleBill"
	ManageStaff       Action = "manageStaff"
)

// Landing routes.
const (
	RouteEntry        = "/"
	RouteHR           = "/hr-dashboard"
	RouteDoctor       = "/doctor-dashboard"
	RouteReceptionist = "/reception-dashboard"
	RouteStaff        = "/staff-dashboard"
)

var capabilities = map[identity.Role]map[Action]bool{
	identity.RoleReceptionist: {BookAppointment: true, CancelAppointment: true, SettleBill: true},
	identity.RoleDoctor:       {RunConsultation: true},
	identity.RoleHR:           {ManageStaff: true},
	identity.RoleStaff:        {},
}

// Decision is the result of an authorization check. Redirect is set only
// when the action is denied.
type Decision struct {
	Allowed  bool
	Redirect string
}

type Controller struct {
	log     *logging.Logger
	metrics *metrics.Metrics
}

func NewController(log *logging.Logger, m *metrics.Metrics) *Controller {
	return &Controller{log: logging.OrDefault(log), metrics: m}
}

// Authorize decides whether ident may perform action.
func (c *Controller) Authorize(ident *identity.Identity, action Action) Decision {
	allowed := ident != nil && Can(ident.Role, action)
	c.metrics.ObserveAccess(string(action), allowed)
	if allowed {
		return Decision{Allowed: true}
	}

	d := Decision{Redirect: LandingRoute(ident)}
	userID := ""
	if ident != nil {
		userID = ident.ID
	}
	c.log.WithFields(map[string]interface{}{
		"user_id":  userID,
		"action":   string(action),
		"redirect": d.Redirect,
	}).Info("Access denied")
	return d
}

// Can reports whether role carries action. Unknown roles carry nothing.
func Can(role identity.Role, action Action) bool {
	return capabilities[role][action]
}

// Actions lists the actions role carries.
func Actions(role identity.Role) []Action {
	var out []Action
	for _, a := range []Action{BookAppointment, CancelAppointment, RunConsultation, SettleBill, ManageStaff} {
		if Can(role, a) {
			out = append(out, a)
		}
	}
	return out
}

// LandingRoute is the default view for ident's role.
func LandingRoute(ident *identity.Identity) string {
	if ident == nil {
		return RouteEntry
	}
	switch ident.Role {
	case identity.RoleHR:
		return RouteHR
	case identity.RoleDoctor:
		return RouteDoctor
	case identity.RoleReceptionist:
		return RouteReceptionist
	default:
		return RouteStaff
	}
}
