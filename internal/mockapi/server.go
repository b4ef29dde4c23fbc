// Package mockapi is an in-repo stand-in for the hospital backend: the full
// REST surface the client consumes plus the SSE push channel, backed by an
// in-memory store. It exists for development, demos and end-to-end tests.
package mockapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"hospitalcrm.org/internal/api"
	"hospitalcrm.org/internal/obs"
	"hospitalcrm.org/internal/stream"
)

// Server wires the store, the push hub and the HTTP routes together.
type Server struct {
	router   *mux.Router
	store    *Store
	hub      *stream.Stream
	secret   []byte
	tokenTTL time.Duration
}

// New builds the mock backend around the given store and push hub.
func New(store *Store, hub *stream.Stream, secret []byte) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		store:    store,
		hub:      hub,
		secret:   secret,
		tokenTTL: 8 * time.Hour,
	}

	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)

	authed := s.router.PathPrefix("/").Subrouter()
	authed.Use(s.requireAuth)
	authed.HandleFunc("/appointments", s.listAppointments).Methods(http.MethodGet)
	authed.HandleFunc("/appointments", s.createAppointment).Methods(http.MethodPost)
	authed.HandleFunc("/appointments/{id}", s.updateAppointment).Methods(http.MethodPut)
	authed.HandleFunc("/appointments/{id}", s.deleteAppointment).Methods(http.MethodDelete)
	authed.HandleFunc("/doctors", s.listDoctors).Methods(http.MethodGet)
	authed.HandleFunc("/patients", s.listPatients).Methods(http.MethodGet)
	authed.HandleFunc("/reports/daily", s.dailyReport).Methods(http.MethodGet)
	authed.HandleFunc("/reports/monthly", s.monthlyReport).Methods(http.MethodGet)
	authed.HandleFunc("/events", s.events).Methods(http.MethodGet)

	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return obs.Instrument(Logging(RateLimit(s.router, 20, 50)))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "hospitalcrm-mockapi"})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, ok := s.store.Authenticate(creds.Email, creds.Password)
	if !ok {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    user.ID,
		"role":  string(user.Role),
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token signing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": signed})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || !parsed.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := intParam(q.Get("page"), 1)
	limit := intParam(q.Get("limit"), 10)
	f := api.Filter{
		Status:    api.AppointmentStatus(q.Get("status")),
		PatientID: q.Get("patientId"),
		DoctorID:  q.Get("doctorId"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
	}
	writeJSON(w, http.StatusOK, s.store.ListAppointments(page, limit, f))
}

func (s *Server) createAppointment(w http.ResponseWriter, r *http.Request) {
	var payload api.AppointmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	appt, err := s.store.CreateAppointment(payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, "patient and doctor are required")
		return
	}
	s.publish()
	writeJSON(w, http.StatusCreated, appt)
}

func (s *Server) updateAppointment(w http.ResponseWriter, r *http.Request) {
	var payload api.AppointmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	appt, err := s.store.UpdateAppointment(mux.Vars(r)["id"], payload)
	switch {
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, "appointment not found")
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, "invalid reference")
		return
	}
	s.publish()
	writeJSON(w, http.StatusOK, appt)
}

func (s *Server) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAppointment(mux.Vars(r)["id"]); err != nil {
		respondError(w, http.StatusNotFound, "appointment not found")
		return
	}
	s.publish()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDoctors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Doctors())
}

func (s *Server) listPatients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Patients())
}

func (s *Server) dailyReport(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	writeJSON(w, http.StatusOK, api.Report{Count: s.store.CountSince(midnight)})
}

func (s *Server) monthlyReport(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	writeJSON(w, http.StatusOK, api.Report{Count: s.store.CountSince(firstOfMonth)})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	s.hub.Handler()(w, r)
}

// publish pushes the full replacement list to every connected stream client.
func (s *Server) publish() {
	s.hub.Publish(stream.Event{Appointments: s.store.AllAppointments()})
}
