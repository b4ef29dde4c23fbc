// Package appointments maintains the client's current visible collection of
// appointments: a paginated, filtered view reconciled against explicit
// fetches and the backend's push stream.
package appointments

import (
	"context"
	"sync"

	"hospitalcrm.org/internal/api"
	"hospitalcrm.org/internal/obs"
	"hospitalcrm.org/internal/stream"
)

// Phase is the view's lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultPageSize matches the backend's default listing size.
const DefaultPageSize = 10

// exportLimit is the effectively unbounded page size used by ExportAll.
const exportLimit = 10000

// Fetcher is the slice of the API boundary the controller needs.
type Fetcher interface {
	ListAppointments(ctx context.Context, page, limit int, f api.Filter) (api.PaginatedAppointments, error)
}

// LiveSource opens the push channel. The stream subscriber implements it.
type LiveSource interface {
	Subscribe(ctx context.Context) <-chan stream.Event
}

// Snapshot is an immutable copy of the view state handed to observers.
type Snapshot struct {
	Phase      Phase
	Collection api.PaginatedAppointments
	Page       int
	Limit      int
	Filters    api.Filter
	Err        error
}

// Controller owns the paginated appointment collection. The collection is
// replaced wholesale on every applied response, never patched in place.
// Every fetch carries a sequence number; a response whose sequence is lower
// than the newest one already applied is discarded, so the view always shows
// the most recently issued request's result rather than the most recently
// arrived one.
type Controller struct {
	mu         sync.Mutex
	fetcher    Fetcher
	observer   func(Snapshot)
	page       int
	limit      int
	filters    api.Filter
	phase      Phase
	collection api.PaginatedAppointments
	lastErr    error
	nextSeq    uint64
	appliedSeq uint64
	closed     bool
	cancelLive context.CancelFunc
	liveDone   chan struct{}
}

// Option customises a Controller.
type Option func(*Controller)

// WithObserver registers a callback invoked with a snapshot after every state
// change. The callback runs outside the controller lock.
func WithObserver(fn func(Snapshot)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithPageSize overrides the initial page size.
func WithPageSize(limit int) Option {
	return func(c *Controller) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

// NewController builds an idle controller on page 1 with the default page
// size and an unrestricted filter.
func NewController(fetcher Fetcher, opts ...Option) *Controller {
	c := &Controller{
		fetcher: fetcher,
		page:    1,
		limit:   DefaultPageSize,
		phase:   PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the current view state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SetPage moves to page n and issues a fetch.
func (c *Controller) SetPage(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	c.mutate(ctx, func() { c.page = n })
}

// SetPageSize changes the page size and issues a fetch. Prior page offsets
// are meaningless under a new size, so the page resets to 1.
func (c *Controller) SetPageSize(ctx context.Context, n int) {
	if n < 1 {
		n = DefaultPageSize
	}
	c.mutate(ctx, func() {
		c.limit = n
		c.page = 1
	})
}

// SetFilters replaces the filter and issues a fetch. The page resets to 1:
// the old offset refers to a result set the new filter no longer describes.
func (c *Controller) SetFilters(ctx context.Context, f api.Filter) {
	c.mutate(ctx, func() {
		c.filters = f
		c.page = 1
	})
}

// Refresh re-fetches the current page and filters.
func (c *Controller) Refresh(ctx context.Context) {
	c.mutate(ctx, func() {})
}

// SubscribeLive opens the push channel. A received event is not displayed
// directly: it triggers a re-fetch of the current page and filters, so the
// paginated view and the push path converge on one visible collection.
func (c *Controller) SubscribeLive(ctx context.Context, source LiveSource) {
	c.mu.Lock()
	if c.closed || c.cancelLive != nil {
		c.mu.Unlock()
		return
	}
	liveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancelLive = cancel
	c.liveDone = done
	c.mu.Unlock()

	ch := source.Subscribe(liveCtx)
	go func() {
		defer close(done)
		for evt := range ch {
			obs.LogEvent(map[string]any{
				"event": "push_update",
				"count": len(evt.Appointments),
			})
			c.Refresh(liveCtx)
		}
	}()
}

// Close stops listening for push events and marks the view closed: results
// of fetches still in flight are discarded silently.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancelLive
	done := c.liveDone
	c.cancelLive = nil
	c.liveDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// mutate applies the query change, transitions to Loading and issues the
// fetch asynchronously under a fresh sequence number.
func (c *Controller) mutate(ctx context.Context, apply func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	apply()
	c.nextSeq++
	seq := c.nextSeq
	page, limit, filters := c.page, c.limit, c.filters
	c.phase = PhaseLoading
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)

	go func() {
		collection, err := c.fetcher.ListAppointments(ctx, page, limit, filters)
		c.apply(seq, collection, err)
	}()
}

// apply reconciles one fetch outcome against the sequence discipline.
func (c *Controller) apply(seq uint64, collection api.PaginatedAppointments, err error) {
	c.mu.Lock()
	if c.closed || seq <= c.appliedSeq {
		if !c.closed {
			obs.MarkStaleDropped()
		}
		c.mu.Unlock()
		return
	}
	c.appliedSeq = seq
	if err != nil {
		// Keep the last-good collection visible; only flag the failure.
		c.phase = PhaseError
		c.lastErr = err
	} else {
		c.phase = PhaseReady
		c.lastErr = nil
		c.collection = collection
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

func (c *Controller) snapshotLocked() Snapshot {
	collection := c.collection
	collection.Docs = append([]api.Appointment(nil), c.collection.Docs...)
	return Snapshot{
		Phase:      c.phase,
		Collection: collection,
		Page:       c.page,
		Limit:      c.limit,
		Filters:    c.filters,
		Err:        c.lastErr,
	}
}

func (c *Controller) notify(snap Snapshot) {
	if c.observer != nil {
		c.observer(snap)
	}
}
