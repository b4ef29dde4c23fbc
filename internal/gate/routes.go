package gate

import "hospitalcrm.org/internal/session"

// View names the navigable screens of the client.
type View string

const (
	ViewLogin        View = "login"
	ViewDashboard    View = "dashboard"
	ViewDoctors      View = "doctors"
	ViewPatients     View = "patients"
	ViewAppointments View = "appointments"
	ViewReports      View = "reports"
)

// Route declares who may enter a view and where a denied navigation lands.
type Route struct {
	View     View
	Required []session.Role // empty means any authenticated user
	Public   bool
}

var routes = map[View]Route{
	ViewLogin:     {View: ViewLogin, Public: true},
	ViewDashboard: {View: ViewDashboard},
	ViewDoctors: {
		View:     ViewDoctors,
		Required: []session.Role{session.RoleAdmin},
	},
	ViewPatients: {
		View:     ViewPatients,
		Required: []session.Role{session.RoleReception},
	},
	ViewAppointments: {
		View:     ViewAppointments,
		Required: []session.Role{session.RoleReception},
	},
	ViewReports: {
		View:     ViewReports,
		Required: []session.Role{session.RoleCEO},
	},
}

// Resolve runs the gate for a named view and returns the decision plus the
// view the navigation should land on. Unknown views are treated as the
// dashboard's rules.
func Resolve(view View, s session.Session) (Decision, View) {
	route, ok := routes[view]
	if !ok {
		route = routes[ViewDashboard]
	}
	if route.Public {
		return Allow, view
	}
	switch d := CanEnter(route.Required, s); d {
	case DenyUnauthenticated:
		return d, ViewLogin
	case DenyWrongRole:
		return d, ViewDashboard
	default:
		return Allow, view
	}
}
