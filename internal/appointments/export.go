package appointments

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hospitalcrm.org/internal/api"
)

// ExportHeader is the first row of every export.
var ExportHeader = []string{"Patient", "Doctor", "Date", "Reason", "Status", "Queue", "Created"}

// ExportAll fetches every appointment matching the current filters in one
// request and renders the result as tabular rows, header included.
func (c *Controller) ExportAll(ctx context.Context) ([][]string, error) {
	c.mu.Lock()
	filters := c.filters
	c.mu.Unlock()

	collection, err := c.fetcher.ListAppointments(ctx, 1, exportLimit, filters)
	if err != nil {
		return nil, fmt.Errorf("export fetch: %w", err)
	}
	return ExportRows(collection.Docs), nil
}

// ExportRows is a pure transform from appointment records to display rows.
func ExportRows(docs []api.Appointment) [][]string {
	rows := make([][]string, 0, len(docs)+1)
	rows = append(rows, ExportHeader)
	for _, a := range docs {
		rows = append(rows, []string{
			patientName(a.Patient),
			doctorName(a.Doctor),
			displayDate(a.Date),
			a.Reason,
			string(a.Status),
			strconv.Itoa(a.QueuePosition),
			displayDate(a.CreatedAt),
		})
	}
	return rows
}

func patientName(p *api.PatientRef) string {
	if p == nil {
		return "Unknown Patient"
	}
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return "Unknown Patient"
	}
	return name
}

func doctorName(d *api.DoctorRef) string {
	if d == nil {
		return "Unknown Doctor"
	}
	name := strings.TrimSpace(d.FirstName + " " + d.LastName)
	if name == "" {
		return "Unknown Doctor"
	}
	if d.Specialty != "" {
		return "Dr. " + name + " (" + d.Specialty + ")"
	}
	return "Dr. " + name
}

func displayDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "Invalid Date"
	}
	return t.Local().Format("Jan 2, 2006 3:04 PM")
}
