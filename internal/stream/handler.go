package stream

import (
	"context"
	"encoding/json"
	"net/http"
)

// Handler serves the stream as Server-Sent Events. Each published event goes
// out as an `appointments` frame whose data is the replacement array.
func (s *Stream) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		ch := s.Subscribe(ctx)

		// Send an initial comment to establish the stream.
		_, _ = w.Write([]byte(": stream started\n\n"))
		flusher.Flush()

		for event := range ch {
			payload, err := json.Marshal(event.Appointments)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + EventName + "\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
