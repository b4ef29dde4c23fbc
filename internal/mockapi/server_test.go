package mockapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hospitalcrm.org/internal/api"
	"hospitalcrm.org/internal/session"
	"hospitalcrm.org/internal/stream"
)

func newTestServer(t *testing.T) (*httptest.Server, *Store, *stream.Stream) {
	t.Helper()
	store := NewStore()
	hub := stream.New()
	srv := httptest.NewServer(New(store, hub, []byte("test-secret")).Handler())
	t.Cleanup(srv.Close)
	return srv, store, hub
}

func loginAs(t *testing.T, srv *httptest.Server, email string) (*api.Client, *session.Manager) {
	t.Helper()
	manager := session.NewManager(session.NewMemoryStore())
	client := api.New(srv.URL,
		api.WithTokenSource(manager),
		api.WithUnauthorizedHook(manager.Invalidate),
	)
	token, err := client.Login(context.Background(), email, "password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := manager.Login(token); err != nil {
		t.Fatalf("session.Login: %v", err)
	}
	return client, manager
}

func TestLoginIssuesDecodableToken(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	_, manager := loginAs(t, srv, "reception@clinic.test")

	s := manager.Current()
	if !s.IsAuthenticated || s.Role != session.RoleReception {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.Email != "reception@clinic.test" {
		t.Fatalf("email claim not carried: %+v", s)
	}
}

func TestBadCredentialsRejected(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	client := api.New(srv.URL)
	if _, err := client.Login(context.Background(), "reception@clinic.test", "nope"); !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestUnauthenticatedRequestInvalidatesSession(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	manager := session.NewManager(session.NewMemoryStore())
	client := api.New(srv.URL,
		api.WithTokenSource(manager),
		api.WithUnauthorizedHook(manager.Invalidate),
	)

	_, err := client.ListAppointments(context.Background(), 1, 10, api.Filter{})
	if !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if s := manager.Current(); s.IsAuthenticated {
		t.Fatalf("session must be demoted after 401: %+v", s)
	}
}

func TestAppointmentLifecycle(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	client, _ := loginAs(t, srv, "admin@clinic.test")
	ctx := context.Background()

	doctors, err := client.ListDoctors(ctx)
	if err != nil || len(doctors) == 0 {
		t.Fatalf("ListDoctors: %v (%d)", err, len(doctors))
	}
	patients, err := client.ListPatients(ctx)
	if err != nil || len(patients) == 0 {
		t.Fatalf("ListPatients: %v (%d)", err, len(patients))
	}

	created, err := client.CreateAppointment(ctx, api.AppointmentPayload{
		Patient: patients[0].ID,
		Doctor:  doctors[0].ID,
		Date:    "2026-09-01T09:30",
		Reason:  "checkup",
	})
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	if created.Status != api.StatusScheduled || created.QueuePosition != 1 {
		t.Fatalf("unexpected created appointment: %+v", created)
	}
	if created.Patient == nil || created.Patient.FirstName != patients[0].FirstName {
		t.Fatalf("patient reference not resolved: %+v", created.Patient)
	}
	if created.Date == nil || !created.Date.Equal(time.Date(2026, time.September, 1, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("booked time not carried through: %v", created.Date)
	}

	page, err := client.ListAppointments(ctx, 1, 10, api.Filter{})
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if page.TotalDocs != 1 || len(page.Docs) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if len(page.Docs) > page.Limit || page.Page < 1 || page.Page > page.TotalPages {
		t.Fatalf("pagination invariant violated: %+v", page)
	}

	updated, err := client.UpdateAppointment(ctx, created.ID, api.AppointmentPayload{Status: api.StatusCompleted})
	if err != nil {
		t.Fatalf("UpdateAppointment: %v", err)
	}
	if updated.Status != api.StatusCompleted || updated.QueuePosition != 0 {
		t.Fatalf("completed appointment should leave the queue: %+v", updated)
	}

	filtered, err := client.ListAppointments(ctx, 1, 10, api.Filter{Status: api.StatusScheduled})
	if err != nil {
		t.Fatalf("ListAppointments(filtered): %v", err)
	}
	if filtered.TotalDocs != 0 {
		t.Fatalf("status filter not applied: %+v", filtered)
	}

	if err := client.DeleteAppointment(ctx, created.ID); err != nil {
		t.Fatalf("DeleteAppointment: %v", err)
	}
	if err := client.DeleteAppointment(ctx, created.ID); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMutationsPublishToStream(t *testing.T) {
	t.Parallel()

	srv, store, hub := newTestServer(t)
	client, _ := loginAs(t, srv, "reception@clinic.test")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A hub-side subscriber sees exactly what SSE clients are sent.
	events := hub.Subscribe(ctx)

	doctors, _ := client.ListDoctors(ctx)
	patients, _ := client.ListPatients(ctx)
	if _, err := client.CreateAppointment(ctx, api.AppointmentPayload{
		Patient: patients[0].ID,
		Doctor:  doctors[0].ID,
		Reason:  "walk-in",
	}); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}

	select {
	case evt := <-events:
		if len(evt.Appointments) != 1 {
			t.Fatalf("push event carries %d appointments, want 1", len(evt.Appointments))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no push event after mutation")
	}

	if got := store.CountSince(time.Now().UTC().Add(-time.Hour)); got != 1 {
		t.Fatalf("CountSince=%d, want 1", got)
	}
}

func TestReports(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	client, _ := loginAs(t, srv, "ceo@clinic.test")
	ctx := context.Background()

	doctors, _ := client.ListDoctors(ctx)
	patients, _ := client.ListPatients(ctx)
	if _, err := client.CreateAppointment(ctx, api.AppointmentPayload{
		Patient: patients[0].ID,
		Doctor:  doctors[0].ID,
		Reason:  "screening",
	}); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}

	daily, err := client.DailyReport(ctx)
	if err != nil || daily.Count != 1 {
		t.Fatalf("DailyReport=%+v err=%v", daily, err)
	}
	monthly, err := client.MonthlyReport(ctx)
	if err != nil || monthly.Count != 1 {
		t.Fatalf("MonthlyReport=%+v err=%v", monthly, err)
	}
}

func TestListPagination(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	client, _ := loginAs(t, srv, "admin@clinic.test")
	ctx := context.Background()

	doctors, _ := client.ListDoctors(ctx)
	patients, _ := client.ListPatients(ctx)
	for i := 0; i < 5; i++ {
		if _, err := client.CreateAppointment(ctx, api.AppointmentPayload{
			Patient: patients[0].ID,
			Doctor:  doctors[0].ID,
			Reason:  "visit",
		}); err != nil {
			t.Fatalf("CreateAppointment #%d: %v", i, err)
		}
	}

	page, err := client.ListAppointments(ctx, 2, 2, api.Filter{})
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if page.TotalDocs != 5 || page.TotalPages != 3 || page.Page != 2 {
		t.Fatalf("unexpected envelope: %+v", page)
	}
	if len(page.Docs) != 2 {
		t.Fatalf("page 2 of limit 2 should hold 2 docs, got %d", len(page.Docs))
	}
	if !page.HasNextPage || !page.HasPrevPage {
		t.Fatalf("middle page must link both ways: %+v", page)
	}
	if page.NextPage == nil || *page.NextPage != 3 || page.PrevPage == nil || *page.PrevPage != 1 {
		t.Fatalf("next/prev pointers wrong: %+v", page)
	}
}

func TestRateLimitConcurrentClients(t *testing.T) {
	t.Parallel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(inner, 1000, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
				req.RemoteAddr = fmt.Sprintf("10.0.%d.%d:1234", n, j)
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)
				if rec.Code != http.StatusOK {
					t.Errorf("request from %s got %d", req.RemoteAddr, rec.Code)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestAppointmentDateValidation(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	client, _ := loginAs(t, srv, "reception@clinic.test")
	ctx := context.Background()

	doctors, _ := client.ListDoctors(ctx)
	patients, _ := client.ListPatients(ctx)

	if _, err := client.CreateAppointment(ctx, api.AppointmentPayload{
		Patient: patients[0].ID,
		Doctor:  doctors[0].ID,
		Date:    "next tuesday",
		Reason:  "visit",
	}); err == nil {
		t.Fatal("unparseable date must be rejected")
	}

	created, err := client.CreateAppointment(ctx, api.AppointmentPayload{
		Patient: patients[0].ID,
		Doctor:  doctors[0].ID,
		Date:    "2026-09-01T09:30:00Z",
		Reason:  "visit",
	})
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}

	rebooked, err := client.UpdateAppointment(ctx, created.ID, api.AppointmentPayload{Date: "2026-09-02T11:00"})
	if err != nil {
		t.Fatalf("UpdateAppointment: %v", err)
	}
	if rebooked.Date == nil || !rebooked.Date.Equal(time.Date(2026, time.September, 2, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("rebooked time not applied: %v", rebooked.Date)
	}
}
