package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"hospitalcrm.org/internal/api"
	"hospitalcrm.org/internal/stream"
)

type listResult struct {
	collection api.PaginatedAppointments
	err        error
}

type listCall struct {
	page    int
	limit   int
	filters api.Filter
	respond chan listResult
}

// fakeFetcher hands each incoming fetch to the test, which decides when and
// how it resolves. This makes response interleavings deterministic.
type fakeFetcher struct {
	calls chan listCall
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(chan listCall, 16)}
}

func (f *fakeFetcher) ListAppointments(ctx context.Context, page, limit int, filters api.Filter) (api.PaginatedAppointments, error) {
	call := listCall{page: page, limit: limit, filters: filters, respond: make(chan listResult, 1)}
	f.calls <- call
	select {
	case r := <-call.respond:
		return r.collection, r.err
	case <-ctx.Done():
		return api.PaginatedAppointments{}, ctx.Err()
	}
}

func (f *fakeFetcher) nextCall(t *testing.T) listCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no fetch issued")
		return listCall{}
	}
}

func collectionOf(limit, page, totalPages int, ids ...string) api.PaginatedAppointments {
	docs := make([]api.Appointment, 0, len(ids))
	for i, id := range ids {
		docs = append(docs, api.Appointment{ID: id, Status: api.StatusScheduled, QueuePosition: i + 1})
	}
	return api.PaginatedAppointments{
		Docs:       docs,
		TotalDocs:  totalPages * limit,
		Limit:      limit,
		Page:       page,
		TotalPages: totalPages,
	}
}

func awaitPhase(t *testing.T, snaps <-chan Snapshot, phase Phase) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-snaps:
			if s.Phase == phase {
				return s
			}
		case <-deadline:
			t.Fatalf("no snapshot with phase %v observed", phase)
		}
	}
}

func TestInitialStateIsIdle(t *testing.T) {
	t.Parallel()

	c := NewController(newFakeFetcher())
	s := c.Snapshot()
	if s.Phase != PhaseIdle || s.Page != 1 || s.Limit != DefaultPageSize {
		t.Fatalf("unexpected initial snapshot: %+v", s)
	}
}

func TestSetPageSizeResetsPage(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	snaps := make(chan Snapshot, 32)
	c := NewController(f, WithObserver(func(s Snapshot) { snaps <- s }))
	ctx := context.Background()

	c.SetPage(ctx, 3)
	call := f.nextCall(t)
	if call.page != 3 || call.limit != DefaultPageSize {
		t.Fatalf("fetch issued with page=%d limit=%d", call.page, call.limit)
	}
	call.respond <- listResult{collection: collectionOf(DefaultPageSize, 3, 5, "a1")}
	awaitPhase(t, snaps, PhaseReady)

	c.SetPageSize(ctx, 25)
	call = f.nextCall(t)
	if call.page != 1 || call.limit != 25 {
		t.Fatalf("page-size change issued page=%d limit=%d, want 1/25", call.page, call.limit)
	}
	call.respond <- listResult{collection: collectionOf(25, 1, 2, "a1", "a2")}
	s := awaitPhase(t, snaps, PhaseReady)
	if s.Page != 1 || s.Limit != 25 {
		t.Fatalf("snapshot page=%d limit=%d, want 1/25", s.Page, s.Limit)
	}
	if len(s.Collection.Docs) > s.Collection.Limit {
		t.Fatalf("docs %d exceed limit %d", len(s.Collection.Docs), s.Collection.Limit)
	}
}

func TestSetFiltersResetsPage(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	c := NewController(f)
	ctx := context.Background()

	c.SetPage(ctx, 4)
	f.nextCall(t).respond <- listResult{collection: collectionOf(DefaultPageSize, 4, 6, "a1")}

	want := api.Filter{Status: api.StatusCancelled, DoctorID: "d2"}
	c.SetFilters(ctx, want)
	call := f.nextCall(t)
	if call.page != 1 {
		t.Fatalf("filter change must reset to page 1, issued page=%d", call.page)
	}
	if call.filters != want {
		t.Fatalf("fetch filters=%+v, want %+v", call.filters, want)
	}
}

func TestFetchFailureKeepsPriorCollection(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	snaps := make(chan Snapshot, 32)
	c := NewController(f, WithObserver(func(s Snapshot) { snaps <- s }))
	ctx := context.Background()

	c.Refresh(ctx)
	f.nextCall(t).respond <- listResult{
		collection: collectionOf(DefaultPageSize, 1, 1, "a1", "a2", "a3", "a4", "a5"),
	}
	awaitPhase(t, snaps, PhaseReady)

	c.Refresh(ctx)
	f.nextCall(t).respond <- listResult{err: errors.New("network down")}
	s := awaitPhase(t, snaps, PhaseError)

	if s.Err == nil {
		t.Fatalf("error not surfaced")
	}
	if len(s.Collection.Docs) != 5 {
		t.Fatalf("prior collection lost on failure: %d docs", len(s.Collection.Docs))
	}
}

func TestNewestIssuedRequestWins(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	snaps := make(chan Snapshot, 32)
	c := NewController(f, WithObserver(func(s Snapshot) { snaps <- s }))
	ctx := context.Background()

	c.SetPage(ctx, 1)
	slow := f.nextCall(t)

	c.SetPage(ctx, 2)
	fast := f.nextCall(t)

	// B (issued second) resolves first and is applied.
	fast.respond <- listResult{collection: collectionOf(DefaultPageSize, 2, 3, "b1", "b2")}
	s := awaitPhase(t, snaps, PhaseReady)
	if len(s.Collection.Docs) != 2 || s.Collection.Docs[0].ID != "b1" {
		t.Fatalf("expected B's result displayed, got %+v", s.Collection.Docs)
	}

	// A limps in afterwards and must be discarded.
	slow.respond <- listResult{collection: collectionOf(DefaultPageSize, 1, 3, "a1")}
	time.Sleep(50 * time.Millisecond)
	final := c.Snapshot()
	if len(final.Collection.Docs) != 2 || final.Collection.Docs[0].ID != "b1" {
		t.Fatalf("stale response overwrote newer state: %+v", final.Collection.Docs)
	}
}

func TestStaleErrorIsDiscarded(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	snaps := make(chan Snapshot, 32)
	c := NewController(f, WithObserver(func(s Snapshot) { snaps <- s }))
	ctx := context.Background()

	c.Refresh(ctx)
	slow := f.nextCall(t)

	c.Refresh(ctx)
	f.nextCall(t).respond <- listResult{collection: collectionOf(DefaultPageSize, 1, 1, "fresh")}
	awaitPhase(t, snaps, PhaseReady)

	slow.respond <- listResult{err: errors.New("late failure")}
	time.Sleep(50 * time.Millisecond)
	s := c.Snapshot()
	if s.Phase != PhaseReady || s.Err != nil {
		t.Fatalf("stale failure flagged the view: %+v", s)
	}
}

func TestPushEventTriggersRefetch(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	snaps := make(chan Snapshot, 32)
	c := NewController(f, WithObserver(func(s Snapshot) { snaps <- s }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.SetPage(ctx, 2)
	f.nextCall(t).respond <- listResult{collection: collectionOf(DefaultPageSize, 2, 3, "old")}
	awaitPhase(t, snaps, PhaseReady)

	hub := stream.New()
	c.SubscribeLive(ctx, hub)
	// Give the subscription goroutine a moment to register.
	time.Sleep(20 * time.Millisecond)

	// An empty replacement array is still a change signal: the controller
	// re-fetches its current page and filters instead of displaying the
	// push payload.
	hub.Publish(stream.Event{Appointments: []api.Appointment{}})

	call := f.nextCall(t)
	if call.page != 2 || call.limit != DefaultPageSize {
		t.Fatalf("re-fetch used page=%d limit=%d, want current view 2/%d", call.page, call.limit, DefaultPageSize)
	}
	call.respond <- listResult{collection: collectionOf(DefaultPageSize, 2, 3, "refetched")}
	s := awaitPhase(t, snaps, PhaseReady)
	if len(s.Collection.Docs) != 1 || s.Collection.Docs[0].ID != "refetched" {
		t.Fatalf("view must show the re-fetch result, got %+v", s.Collection.Docs)
	}

	c.Close()
}

func TestCloseDiscardsInFlightResults(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	notifies := make(chan Snapshot, 32)
	c := NewController(f, WithObserver(func(s Snapshot) { notifies <- s }))
	ctx := context.Background()

	c.Refresh(ctx)
	call := f.nextCall(t)
	awaitPhase(t, notifies, PhaseLoading)

	c.Close()
	call.respond <- listResult{collection: collectionOf(DefaultPageSize, 1, 1, "late")}
	time.Sleep(50 * time.Millisecond)

	select {
	case s := <-notifies:
		t.Fatalf("closed view observed a state change: %+v", s)
	default:
	}
	if s := c.Snapshot(); len(s.Collection.Docs) != 0 {
		t.Fatalf("closed view applied a late result: %+v", s.Collection.Docs)
	}

	// Mutations after Close are no-ops.
	c.SetPage(ctx, 5)
	select {
	case <-f.calls:
		t.Fatalf("closed view issued a fetch")
	case <-time.After(50 * time.Millisecond):
	}
}
