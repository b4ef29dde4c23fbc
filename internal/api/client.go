// Package api is the client's only door to the backend: a thin REST wrapper
// that decorates every request with the bearer token and request id, and
// demotes the session whenever the server answers 401.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"hospitalcrm.org/internal/ids"
	"hospitalcrm.org/internal/obs"
)

// TokenSource yields the current bearer token, if any. The session manager
// implements it.
type TokenSource interface {
	Token() (string, bool)
}

// Client talks to the hospital backend.
type Client struct {
	baseURL        string
	http           *http.Client
	tokens         TokenSource
	onUnauthorized func()
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTokenSource wires the session's token into outgoing requests.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithUnauthorizedHook registers the callback invoked on any 401 response,
// regardless of which operation produced it.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// New builds a client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a bearer token. It is the one authenticated
// surface that does not itself carry a token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{"email": email, "password": password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// ListAppointments fetches one page of appointments under the given filter.
func (c *Client) ListAppointments(ctx context.Context, page, limit int, f Filter) (PaginatedAppointments, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.PatientID != "" {
		q.Set("patientId", f.PatientID)
	}
	if f.DoctorID != "" {
		q.Set("doctorId", f.DoctorID)
	}
	if f.StartDate != "" {
		q.Set("startDate", f.StartDate)
	}
	if f.EndDate != "" {
		q.Set("endDate", f.EndDate)
	}
	var out PaginatedAppointments
	if err := c.do(ctx, http.MethodGet, "/appointments", q, nil, &out); err != nil {
		return PaginatedAppointments{}, err
	}
	return out, nil
}

// CreateAppointment books a new appointment.
func (c *Client) CreateAppointment(ctx context.Context, p AppointmentPayload) (Appointment, error) {
	var out Appointment
	if err := c.do(ctx, http.MethodPost, "/appointments", nil, p, &out); err != nil {
		return Appointment{}, err
	}
	return out, nil
}

// UpdateAppointment applies a partial update to an existing appointment.
func (c *Client) UpdateAppointment(ctx context.Context, id string, p AppointmentPayload) (Appointment, error) {
	var out Appointment
	if err := c.do(ctx, http.MethodPut, "/appointments/"+url.PathEscape(id), nil, p, &out); err != nil {
		return Appointment{}, err
	}
	return out, nil
}

// DeleteAppointment removes an appointment.
func (c *Client) DeleteAppointment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/appointments/"+url.PathEscape(id), nil, nil, nil)
}

// ListDoctors returns all doctors.
func (c *Client) ListDoctors(ctx context.Context) ([]Doctor, error) {
	var out []Doctor
	if err := c.do(ctx, http.MethodGet, "/doctors", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPatients returns all patients.
func (c *Client) ListPatients(ctx context.Context) ([]Patient, error) {
	var out []Patient
	if err := c.do(ctx, http.MethodGet, "/patients", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DailyReport returns today's appointment count.
func (c *Client) DailyReport(ctx context.Context) (Report, error) {
	var out Report
	if err := c.do(ctx, http.MethodGet, "/reports/daily", nil, nil, &out); err != nil {
		return Report{}, err
	}
	return out, nil
}

// MonthlyReport returns this month's appointment count.
func (c *Client) MonthlyReport(ctx context.Context) (Report, error) {
	var out Report
	if err := c.do(ctx, http.MethodGet, "/reports/monthly", nil, nil, &out); err != nil {
		return Report{}, err
	}
	return out, nil
}

// BaseURL exposes the configured backend address (the stream subscriber dials
// it too).
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := ids.New()
	req.Header.Set("X-Request-Id", requestID)
	if c.tokens != nil {
		if token, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		obs.LogEvent(map[string]any{
			"event":      "api_request_failed",
			"method":     method,
			"path":       path,
			"request_id": requestID,
			"error":      err.Error(),
		})
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	obs.ObserveAPIRequest(method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized {
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %w", method, path, &StatusError{
			Status:  resp.StatusCode,
			Message: readErrorMessage(resp.Body),
		})
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return ""
}
