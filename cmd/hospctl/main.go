package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"hospitalcrm.org/internal/api"
	"hospitalcrm.org/internal/appointments"
	"hospitalcrm.org/internal/audit"
	"hospitalcrm.org/internal/gate"
	"hospitalcrm.org/internal/session"
	"hospitalcrm.org/internal/stream"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	baseURL := os.Getenv("HOSPITALCRM_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	sessionPath := os.Getenv("HOSPITALCRM_SESSION_FILE")
	if sessionPath == "" {
		sessionPath = session.DefaultPath()
	}

	manager := session.NewManager(session.NewFileStore(sessionPath))
	manager.Initialize()
	client := api.New(baseURL,
		api.WithTokenSource(manager),
		api.WithUnauthorizedHook(manager.Invalidate),
	)
	app := &cli{manager: manager, client: client, baseURL: baseURL}

	switch os.Args[1] {
	case "login":
		app.login(os.Args[2:])
	case "logout":
		app.logout()
	case "whoami":
		app.whoami()
	case "appointments":
		app.appointments(os.Args[2:])
	case "doctors":
		app.requireView(gate.ViewDoctors)
		app.doctors()
	case "patients":
		app.requireView(gate.ViewPatients)
		app.patients()
	case "reports":
		app.requireView(gate.ViewReports)
		app.reports()
	default:
		usage()
	}
}

type cli struct {
	manager *session.Manager
	client  *api.Client
	baseURL string
}

// requireView runs the authorization gate exactly as a navigation would and
// exits with the redirect target when denied.
func (c *cli) requireView(view gate.View) {
	decision, landed := gate.Resolve(view, c.manager.Current())
	switch decision {
	case gate.DenyUnauthenticated:
		fmt.Fprintf(os.Stderr, "not logged in; run `hospctl login` (redirect: %s)\n", landed)
		os.Exit(1)
	case gate.DenyWrongRole:
		fmt.Fprintf(os.Stderr, "your role %q may not open %s (redirect: %s)\n", c.manager.Current().Role, view, landed)
		os.Exit(1)
	}
}

func (c *cli) login(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Account email")
	password := fs.String("password", "", "Account password")
	_ = fs.Parse(args)
	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: hospctl login -email <email> -password <password>")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	token, err := c.client.Login(ctx, *email, *password)
	if err != nil {
		fatalf("login failed: %v", err)
	}
	if err := c.manager.Login(token); err != nil {
		fatalf("server issued an undecodable token: %v", err)
	}
	s := c.manager.Current()
	_ = audit.LogEvent(audit.WithActor(ctx, s.UserID), "auth.login", map[string]any{"role": string(s.Role)})
	fmt.Printf("logged in as %s (%s)\n", s.Email, s.Role)
}

func (c *cli) logout() {
	s := c.manager.Current()
	c.manager.Logout()
	_ = audit.LogEvent(audit.WithActor(context.Background(), s.UserID), "auth.logout", nil)
	fmt.Println("logged out")
}

func (c *cli) whoami() {
	s := c.manager.Current()
	if !s.IsAuthenticated {
		fmt.Println("not logged in")
		return
	}
	fmt.Printf("user:  %s\nemail: %s\nrole:  %s\n", s.UserID, s.Email, s.Role)
}

func (c *cli) appointments(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: hospctl appointments <list|watch|create|update|delete|export> [flags]")
		os.Exit(1)
	}
	c.requireView(gate.ViewAppointments)

	switch args[0] {
	case "list":
		c.appointmentsList(args[1:])
	case "watch":
		c.appointmentsWatch(args[1:])
	case "create":
		c.appointmentsCreate(args[1:])
	case "update":
		c.appointmentsUpdate(args[1:])
	case "delete":
		c.appointmentsDelete(args[1:])
	case "export":
		c.appointmentsExport(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown appointments command %q\n", args[0])
		os.Exit(1)
	}
}

func listFlags(fs *flag.FlagSet) (page, limit *int, filter func() api.Filter) {
	page = fs.Int("page", 1, "Page number")
	limit = fs.Int("limit", appointments.DefaultPageSize, "Page size")
	status := fs.String("status", "", "Filter by status (Scheduled|Completed|Cancelled)")
	patient := fs.String("patient", "", "Filter by patient id")
	doctor := fs.String("doctor", "", "Filter by doctor id")
	from := fs.String("from", "", "Filter from date (YYYY-MM-DD)")
	to := fs.String("to", "", "Filter to date (YYYY-MM-DD)")
	filter = func() api.Filter {
		return api.Filter{
			Status:    api.AppointmentStatus(*status),
			PatientID: *patient,
			DoctorID:  *doctor,
			StartDate: *from,
			EndDate:   *to,
		}
	}
	return page, limit, filter
}

func (c *cli) appointmentsList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	page, limit, filter := listFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	collection, err := c.client.ListAppointments(ctx, *page, *limit, filter())
	if err != nil {
		fatalf("fetch appointments: %v", err)
	}
	printCollection(collection)
}

func (c *cli) appointmentsWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	page, limit, filter := listFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	controller := appointments.NewController(c.client,
		appointments.WithPageSize(*limit),
		appointments.WithObserver(func(s appointments.Snapshot) {
			switch s.Phase {
			case appointments.PhaseReady:
				fmt.Printf("\n— %s —\n", time.Now().Format(time.Kitchen))
				printCollection(s.Collection)
			case appointments.PhaseError:
				fmt.Fprintf(os.Stderr, "fetch failed, showing last known data: %v\n", s.Err)
			}
		}),
	)
	defer controller.Close()

	controller.SetFilters(ctx, filter())
	if *page > 1 {
		controller.SetPage(ctx, *page)
	}
	subscriber := stream.NewSubscriber(c.baseURL,
		stream.WithTokenSource(c.manager),
		stream.WithUnauthorizedHook(c.manager.Invalidate),
	)
	controller.SubscribeLive(ctx, subscriber)

	fmt.Println("watching appointments; Ctrl-C to stop")
	<-ctx.Done()
}

func (c *cli) appointmentsCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	patient := fs.String("patient", "", "Patient id")
	doctor := fs.String("doctor", "", "Doctor id")
	date := fs.String("date", "", "Appointment time (RFC 3339 or 2006-01-02T15:04)")
	reason := fs.String("reason", "", "Visit reason")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	appt, err := c.client.CreateAppointment(ctx, api.AppointmentPayload{
		Patient: *patient,
		Doctor:  *doctor,
		Date:    *date,
		Reason:  *reason,
	})
	if err != nil {
		fatalf("create appointment: %v", err)
	}
	_ = audit.LogEvent(audit.WithActor(ctx, c.manager.Current().UserID), "appointment.create",
		map[string]any{"appointment_id": appt.ID})
	fmt.Printf("created %s (queue position %d)\n", appt.ID, appt.QueuePosition)
}

func (c *cli) appointmentsUpdate(args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	id := fs.String("id", "", "Appointment id")
	status := fs.String("status", "", "New status")
	date := fs.String("date", "", "New appointment time (RFC 3339 or 2006-01-02T15:04)")
	reason := fs.String("reason", "", "New reason")
	_ = fs.Parse(args)
	if *id == "" {
		fatalf("update requires -id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	appt, err := c.client.UpdateAppointment(ctx, *id, api.AppointmentPayload{
		Status: api.AppointmentStatus(*status),
		Date:   *date,
		Reason: *reason,
	})
	if err != nil {
		fatalf("update appointment: %v", err)
	}
	_ = audit.LogEvent(audit.WithActor(ctx, c.manager.Current().UserID), "appointment.update",
		map[string]any{"appointment_id": appt.ID})
	fmt.Printf("updated %s -> %s\n", appt.ID, appt.Status)
}

func (c *cli) appointmentsDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "Appointment id")
	_ = fs.Parse(args)
	if *id == "" {
		fatalf("delete requires -id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.client.DeleteAppointment(ctx, *id); err != nil {
		fatalf("delete appointment: %v", err)
	}
	_ = audit.LogEvent(audit.WithActor(ctx, c.manager.Current().UserID), "appointment.delete",
		map[string]any{"appointment_id": *id})
	fmt.Printf("deleted %s\n", *id)
}

func (c *cli) appointmentsExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "appointments.csv", "Output CSV path")
	_, _, filter := listFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	controller := appointments.NewController(c.client)
	defer controller.Close()
	controller.SetFilters(ctx, filter())

	rows, err := controller.ExportAll(ctx)
	if err != nil {
		fatalf("export: %v", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		fatalf("create %s: %v", *out, err)
	}
	defer f.Close()
	writer := csv.NewWriter(f)
	if err := writer.WriteAll(rows); err != nil {
		fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("exported %d rows to %s\n", len(rows)-1, *out)
}

func (c *cli) doctors() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	doctors, err := c.client.ListDoctors(ctx)
	if err != nil {
		fatalf("fetch doctors: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSPECIALTY")
	for _, d := range doctors {
		fmt.Fprintf(w, "%s\t%s %s\t%s\n", d.ID, d.FirstName, d.LastName, d.Specialty)
	}
	_ = w.Flush()
}

func (c *cli) patients() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	patients, err := c.client.ListPatients(ctx)
	if err != nil {
		fatalf("fetch patients: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, p := range patients {
		fmt.Fprintf(w, "%s\t%s %s\n", p.ID, p.FirstName, p.LastName)
	}
	_ = w.Flush()
}

func (c *cli) reports() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	daily, err := c.client.DailyReport(ctx)
	if err != nil {
		fatalf("daily report: %v", err)
	}
	monthly, err := c.client.MonthlyReport(ctx)
	if err != nil {
		fatalf("monthly report: %v", err)
	}
	fmt.Printf("appointments today:      %d\nappointments this month: %d\n", daily.Count, monthly.Count)
}

func printCollection(collection api.PaginatedAppointments) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(appointments.ExportHeader, "\t"))
	for _, row := range appointments.ExportRows(collection.Docs)[1:] {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
	fmt.Printf("page %d/%d (%d total)\n", collection.Page, collection.TotalPages, collection.TotalDocs)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: hospctl <command> [flags]

commands:
  login        -email -password
  logout
  whoami
  appointments list|watch|create|update|delete|export
  doctors
  patients
  reports

environment:
  HOSPITALCRM_API_URL       backend base URL (default http://localhost:3000)
  HOSPITALCRM_SESSION_FILE  session snapshot path (default ~/.hospitalcrm/session.json)`)
	os.Exit(1)
}
