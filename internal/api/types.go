package api

import "time"

// AppointmentStatus is the closed status set the backend accepts.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "Scheduled"
	StatusCompleted AppointmentStatus = "Completed"
	StatusCancelled AppointmentStatus = "Cancelled"
)

// PatientRef is the patient summary embedded in an appointment. The backend
// may return an unresolved reference, in which case the whole object is null.
type PatientRef struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// DoctorRef is the doctor summary embedded in an appointment.
type DoctorRef struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Specialty string `json:"specialty"`
}

// Appointment is the view-side projection of an appointment record.
type Appointment struct {
	ID            string            `json:"_id"`
	Patient       *PatientRef       `json:"patient"`
	Doctor        *DoctorRef        `json:"doctor"`
	Date          *time.Time        `json:"date"`
	Reason        string            `json:"reason"`
	Status        AppointmentStatus `json:"status"`
	QueuePosition int               `json:"queuePosition"`
	CreatedAt     *time.Time        `json:"createdAt"`
	UpdatedAt     *time.Time        `json:"updatedAt"`
}

// PaginatedAppointments mirrors the backend's pagination envelope.
type PaginatedAppointments struct {
	Docs        []Appointment `json:"docs"`
	TotalDocs   int           `json:"totalDocs"`
	Limit       int           `json:"limit"`
	Page        int           `json:"page"`
	TotalPages  int           `json:"totalPages"`
	HasNextPage bool          `json:"hasNextPage"`
	HasPrevPage bool          `json:"hasPrevPage"`
	NextPage    *int          `json:"nextPage"`
	PrevPage    *int          `json:"prevPage"`
}

// Filter restricts an appointment listing. All fields are optional; the zero
// Filter is unrestricted.
type Filter struct {
	Status    AppointmentStatus
	PatientID string
	DoctorID  string
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD
}

// IsZero reports whether the filter restricts anything.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// AppointmentPayload is the mutable part of an appointment sent on create and
// update. Patient and Doctor carry entity ids. Date is RFC 3339 or the short
// "2006-01-02T15:04" form a date-time picker produces.
type AppointmentPayload struct {
	Patient string            `json:"patient,omitempty"`
	Doctor  string            `json:"doctor,omitempty"`
	Date    string            `json:"date,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Status  AppointmentStatus `json:"status,omitempty"`
}

// Doctor is a full doctor record.
type Doctor struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Specialty string `json:"specialty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Patient is a full patient record.
type Patient struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Report is the count envelope returned by the reports endpoints.
type Report struct {
	Count int `json:"count"`
}
