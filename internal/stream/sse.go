package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hospitalcrm.org/internal/api"
	"hospitalcrm.org/internal/obs"
)

// Subscriber maintains a long-lived connection to the backend's event stream
// and delivers appointment events on a channel. Disconnects are retried,
// paced by a rate limiter so a flapping backend is not hammered.
type Subscriber struct {
	url            string
	http           *http.Client
	tokens         api.TokenSource
	onUnauthorized func()
	limiter        *rate.Limiter
}

// SubscriberOption customises a Subscriber.
type SubscriberOption func(*Subscriber)

// WithTokenSource decorates the stream request with the session's token.
func WithTokenSource(ts api.TokenSource) SubscriberOption {
	return func(s *Subscriber) { s.tokens = ts }
}

// WithUnauthorizedHook registers the callback invoked when the stream request
// is rejected with 401.
func WithUnauthorizedHook(fn func()) SubscriberOption {
	return func(s *Subscriber) { s.onUnauthorized = fn }
}

// WithHTTPClient replaces the underlying http.Client. The client must not
// carry a request timeout; the stream is long-lived.
func WithHTTPClient(h *http.Client) SubscriberOption {
	return func(s *Subscriber) { s.http = h }
}

// NewSubscriber builds a subscriber for the backend at baseURL.
func NewSubscriber(baseURL string, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		url:     strings.TrimRight(baseURL, "/") + "/events",
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe connects and delivers events until ctx ends, reconnecting on any
// stream failure. The returned channel is closed when ctx is done.
func (s *Subscriber) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		for {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			obs.MarkStreamReconnect()
			if stop := s.consume(ctx, ch); stop {
				return
			}
		}
	}()
	return ch
}

// consume runs one connection. It returns true when the subscriber should
// give up (context done or the session was rejected).
func (s *Subscriber) consume(ctx context.Context, ch chan<- Event) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return true
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.tokens != nil {
		if token, ok := s.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return ctx.Err() != nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if s.onUnauthorized != nil {
			s.onUnauthorized()
		}
		return true
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var (
		eventName string
		data      strings.Builder
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventName == EventName && data.Len() > 0 {
				if evt, ok := parseEvent(data.String()); ok {
					obs.MarkStreamEvent()
					select {
					case ch <- evt:
					case <-ctx.Done():
						return true
					}
				}
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// Comment frame, used by the server as keep-alive.
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return ctx.Err() != nil
}

func parseEvent(data string) (Event, bool) {
	var appointments []api.Appointment
	if err := json.Unmarshal([]byte(data), &appointments); err != nil {
		obs.LogEvent(map[string]any{"event": "stream_decode_failed", "error": err.Error()})
		return Event{}, false
	}
	return Event{Appointments: appointments, ReceivedAt: time.Now().UTC()}, true
}
