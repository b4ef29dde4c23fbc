package mockapi

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"hospitalcrm.org/internal/api"
	"hospitalcrm.org/internal/session"
)

var (
	ErrNotFound     = errors.New("mockapi: not found")
	ErrInvalidInput = errors.New("mockapi: invalid input")
)

// User is a backend account the mock can authenticate.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	Role         session.Role
}

// Store is the mock backend's in-memory state. It is not a database and does
// not try to be one; it exists so the client has something real to talk to
// during development and demos.
type Store struct {
	mu           sync.Mutex
	users        map[string]User // keyed by email
	doctors      []api.Doctor
	patients     []api.Patient
	appointments []api.Appointment
}

// NewStore returns a store seeded with demo users, doctors and patients.
// Every demo account uses the password "password".
func NewStore() *Store {
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	s := &Store{users: make(map[string]User)}
	for email, role := range map[string]session.Role{
		"ceo@clinic.test":       session.RoleCEO,
		"admin@clinic.test":     session.RoleAdmin,
		"reception@clinic.test": session.RoleReception,
	} {
		s.users[email] = User{
			ID:           uuid.NewString(),
			Email:        email,
			PasswordHash: hash,
			Role:         role,
		}
	}
	s.doctors = []api.Doctor{
		{ID: uuid.NewString(), FirstName: "Marat", LastName: "Omarov", Specialty: "Cardiology"},
		{ID: uuid.NewString(), FirstName: "Dana", LastName: "Bekova", Specialty: "Pediatrics"},
	}
	s.patients = []api.Patient{
		{ID: uuid.NewString(), FirstName: "Aigerim", LastName: "Seitova"},
		{ID: uuid.NewString(), FirstName: "Nurlan", LastName: "Akhmetov"},
	}
	return s
}

// Authenticate checks credentials and returns the matching user.
func (s *Store) Authenticate(email, password string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, false
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return User{}, false
	}
	return u, true
}

// Doctors returns all doctors.
func (s *Store) Doctors() []api.Doctor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Doctor(nil), s.doctors...)
}

// Patients returns all patients.
func (s *Store) Patients() []api.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Patient(nil), s.patients...)
}

// CreateAppointment books an appointment and assigns its queue position.
func (s *Store) CreateAppointment(p api.AppointmentPayload) (api.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	patient := s.patientRefLocked(p.Patient)
	doctor := s.doctorRefLocked(p.Doctor)
	if patient == nil || doctor == nil {
		return api.Appointment{}, ErrInvalidInput
	}
	status := p.Status
	if status == "" {
		status = api.StatusScheduled
	}
	date, err := parseAppointmentDate(p.Date)
	if err != nil {
		return api.Appointment{}, ErrInvalidInput
	}
	now := time.Now().UTC()
	appt := api.Appointment{
		ID:        uuid.NewString(),
		Patient:   patient,
		Doctor:    doctor,
		Date:      date,
		Reason:    p.Reason,
		Status:    status,
		CreatedAt: &now,
		UpdatedAt: &now,
	}
	s.appointments = append(s.appointments, appt)
	s.renumberLocked()
	return s.getLocked(appt.ID), nil
}

// UpdateAppointment applies a partial update.
func (s *Store) UpdateAppointment(id string, p api.AppointmentPayload) (api.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.appointments {
		if s.appointments[i].ID != id {
			continue
		}
		a := &s.appointments[i]
		if p.Patient != "" {
			ref := s.patientRefLocked(p.Patient)
			if ref == nil {
				return api.Appointment{}, ErrInvalidInput
			}
			a.Patient = ref
		}
		if p.Doctor != "" {
			ref := s.doctorRefLocked(p.Doctor)
			if ref == nil {
				return api.Appointment{}, ErrInvalidInput
			}
			a.Doctor = ref
		}
		if p.Date != "" {
			date, err := parseAppointmentDate(p.Date)
			if err != nil {
				return api.Appointment{}, ErrInvalidInput
			}
			a.Date = date
		}
		if p.Reason != "" {
			a.Reason = p.Reason
		}
		if p.Status != "" {
			a.Status = p.Status
		}
		now := time.Now().UTC()
		a.UpdatedAt = &now
		s.renumberLocked()
		return s.getLocked(id), nil
	}
	return api.Appointment{}, ErrNotFound
}

// DeleteAppointment removes an appointment.
func (s *Store) DeleteAppointment(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.appointments {
		if s.appointments[i].ID == id {
			s.appointments = append(s.appointments[:i], s.appointments[i+1:]...)
			s.renumberLocked()
			return nil
		}
	}
	return ErrNotFound
}

// AllAppointments returns the full list, newest first, for the push stream.
func (s *Store) AllAppointments() []api.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// ListAppointments applies the filter, then paginates.
func (s *Store) ListAppointments(page, limit int, f api.Filter) api.PaginatedAppointments {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var filtered []api.Appointment
	for _, a := range s.sortedLocked() {
		if matches(a, f) {
			filtered = append(filtered, a)
		}
	}

	total := len(filtered)
	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * limit
	end := start + limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	out := api.PaginatedAppointments{
		Docs:        append([]api.Appointment(nil), filtered[start:end]...),
		TotalDocs:   total,
		Limit:       limit,
		Page:        page,
		TotalPages:  totalPages,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
	if out.HasNextPage {
		next := page + 1
		out.NextPage = &next
	}
	if out.HasPrevPage {
		prev := page - 1
		out.PrevPage = &prev
	}
	return out
}

// CountSince counts appointments created at or after the cut-off.
func (s *Store) CountSince(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.appointments {
		if a.CreatedAt != nil && !a.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n
}

// parseAppointmentDate accepts RFC 3339 or the minute-resolution form a
// date-time picker submits. An empty string means no date was supplied.
func parseAppointmentDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, ErrInvalidInput
}

func matches(a api.Appointment, f api.Filter) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.PatientID != "" && (a.Patient == nil || a.Patient.ID != f.PatientID) {
		return false
	}
	if f.DoctorID != "" && (a.Doctor == nil || a.Doctor.ID != f.DoctorID) {
		return false
	}
	if f.StartDate != "" {
		t, err := time.Parse("2006-01-02", f.StartDate)
		if err == nil && (a.CreatedAt == nil || a.CreatedAt.Before(t)) {
			return false
		}
	}
	if f.EndDate != "" {
		t, err := time.Parse("2006-01-02", f.EndDate)
		if err == nil && (a.CreatedAt == nil || !a.CreatedAt.Before(t.AddDate(0, 0, 1))) {
			return false
		}
	}
	return true
}

func (s *Store) sortedLocked() []api.Appointment {
	out := append([]api.Appointment(nil), s.appointments...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].CreatedAt, out[j].CreatedAt
		if ti == nil || tj == nil {
			return tj == nil && ti != nil
		}
		return ti.After(*tj)
	})
	return out
}

// renumberLocked reassigns queue positions among scheduled appointments in
// creation order.
func (s *Store) renumberLocked() {
	queue := 0
	ordered := make([]*api.Appointment, 0, len(s.appointments))
	for i := range s.appointments {
		ordered = append(ordered, &s.appointments[i])
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		ti, tj := ordered[i].CreatedAt, ordered[j].CreatedAt
		if ti == nil || tj == nil {
			return ti != nil
		}
		return ti.Before(*tj)
	})
	for _, a := range ordered {
		if a.Status == api.StatusScheduled {
			queue++
			a.QueuePosition = queue
		} else {
			a.QueuePosition = 0
		}
	}
}

func (s *Store) getLocked(id string) api.Appointment {
	for _, a := range s.appointments {
		if a.ID == id {
			return a
		}
	}
	return api.Appointment{}
}

func (s *Store) patientRefLocked(id string) *api.PatientRef {
	for _, p := range s.patients {
		if p.ID == id {
			return &api.PatientRef{ID: p.ID, FirstName: p.FirstName, LastName: p.LastName}
		}
	}
	return nil
}

func (s *Store) doctorRefLocked(id string) *api.DoctorRef {
	for _, d := range s.doctors {
		if d.ID == id {
			return &api.DoctorRef{ID: d.ID, FirstName: d.FirstName, LastName: d.LastName, Specialty: d.Specialty}
		}
	}
	return nil
}
