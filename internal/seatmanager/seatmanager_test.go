package seatmanager

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/altianls/seatserver/internal/errs"
	"github.com/altianls/seatserver/internal/store"
)

type captureReporter struct {
	mu     sync.Mutex
	events []string
}

func (c *captureReporter) Report(event, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Data.db3")
	s, err := store.Open(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newManager(t *testing.T, st *store.Store, now time.Time) (*Manager, *captureReporter) {
	t.Helper()
	rep := &captureReporter{}
	m := New(st, nil, 10*time.Minute, false, rep, WithClock(func() time.Time { return now }))
	return m, rep
}

// Scenario 1 (spec.md §8): a product with a single perpetual licence of
// Seats=1 admits exactly one seat; a second distinct user is refused.
func TestTakeSeatEnforcesQuota(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	if _, _, err := st.InsertLicenceIfNotExists(store.Licence{
		Product: "Widgets", NumberOfSeats: 1, TimeStamp: 1,
	}); err != nil {
		t.Fatalf("seed licence: %v", err)
	}
	m, _ := newManager(t, st, now)

	ok, err := m.TakeSeat("Widgets", "1.1.1.1", "alice", "hostA")
	if err != nil || !ok {
		t.Fatalf("first TakeSeat = %v, %v, want true, nil", ok, err)
	}

	ok, err = m.TakeSeat("Widgets", "2.2.2.2", "bob", "hostB")
	if err != nil {
		t.Fatalf("second TakeSeat error: %v", err)
	}
	if ok {
		t.Fatal("second TakeSeat should be refused: quota is exhausted")
	}

	// The same user re-requesting their own seat does not count against
	// themselves.
	ok, err = m.TakeSeat("Widgets", "1.1.1.1", "alice", "hostA")
	if err != nil || !ok {
		t.Fatalf("re-request by existing holder = %v, %v, want true, nil", ok, err)
	}
}

// Scenario: a stale connection does not count toward the live quota, so a
// new user can take the freed seat.
func TestTakeSeatReclaimsStaleSeat(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	if _, _, err := st.InsertLicenceIfNotExists(store.Licence{
		Product: "Widgets", NumberOfSeats: 1, TimeStamp: 1,
	}); err != nil {
		t.Fatalf("seed licence: %v", err)
	}
	stale := now.Add(-time.Hour)
	if err := st.UpsertConnection("Widgets", "alice", "1.1.1.1", stale); err != nil {
		t.Fatalf("seed stale connection: %v", err)
	}

	m, _ := newManager(t, st, now)
	ok, err := m.TakeSeat("Widgets", "2.2.2.2", "bob", "hostB")
	if err != nil || !ok {
		t.Fatalf("TakeSeat over a stale holder = %v, %v, want true, nil", ok, err)
	}
}

func TestTakeSeatUnknownProductIsInvalidProduct(t *testing.T) {
	st := newTestStore(t)
	m, _ := newManager(t, st, time.Now().UTC())

	_, err := m.TakeSeat("Ghost", "1.1.1.1", "alice", "hostA")
	if err == nil {
		t.Fatal("expected InvalidProduct error for unknown product")
	}
	if errs.CodeOf(err) != errs.CodeInvalidProduct {
		t.Fatalf("error code = %d, want CodeInvalidProduct", errs.CodeOf(err))
	}
}

func TestTakeSeatRejectsEmptyArguments(t *testing.T) {
	st := newTestStore(t)
	m, _ := newManager(t, st, time.Now().UTC())

	_, err := m.TakeSeat("", "1.1.1.1", "alice", "hostA")
	if err == nil {
		t.Fatal("expected ArgumentError for empty product")
	}
	var argErr *errs.ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("error = %v (%T), want *errs.ArgumentError", err, err)
	}
}

// Scenario 4 (spec.md §8): a product whose only licence has expired has
// TotalSeats=0 and any TakeSeat is refused.
func TestTakeSeatExpiredLicenceGivesZeroQuota(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	expired := now.AddDate(0, 0, -10).Format("02/Jan/2006")
	if _, _, err := st.InsertLicenceIfNotExists(store.Licence{
		Product: "Widgets", NumberOfSeats: 5, TimeStamp: 1, ExpiryDate: expired,
	}); err != nil {
		t.Fatalf("seed licence: %v", err)
	}
	m, _ := newManager(t, st, now)

	total, err := m.TotalSeats("Widgets")
	if err != nil {
		t.Fatalf("TotalSeats: %v", err)
	}
	if total != 0 {
		t.Fatalf("TotalSeats = %d, want 0", total)
	}

	ok, err := m.TakeSeat("Widgets", "1.1.1.1", "alice", "hostA")
	if err != nil {
		t.Fatalf("TakeSeat error: %v", err)
	}
	if ok {
		t.Fatal("TakeSeat on an all-expired product should be refused")
	}
}

func TestTakeSeatThenReleaseSeatRoundTrips(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	if _, _, err := st.InsertLicenceIfNotExists(store.Licence{
		Product: "Widgets", NumberOfSeats: 1, TimeStamp: 1,
	}); err != nil {
		t.Fatalf("seed licence: %v", err)
	}
	m, _ := newManager(t, st, now)

	if ok, err := m.TakeSeat("Widgets", "1.1.1.1", "alice", "hostA"); err != nil || !ok {
		t.Fatalf("TakeSeat = %v, %v", ok, err)
	}
	released, err := m.ReleaseSeat("Widgets", "1.1.1.1", "alice")
	if err != nil || !released {
		t.Fatalf("ReleaseSeat = %v, %v, want true, nil", released, err)
	}

	ok, err := m.TakeSeat("Widgets", "2.2.2.2", "bob", "hostB")
	if err != nil || !ok {
		t.Fatalf("TakeSeat after release = %v, %v, want true, nil", ok, err)
	}
}

// ReleaseSeat reports true even when no matching row existed (spec.md §9).
func TestReleaseSeatIsTrueWhenNothingToRelease(t *testing.T) {
	st := newTestStore(t)
	m, _ := newManager(t, st, time.Now().UTC())

	released, err := m.ReleaseSeat("Widgets", "1.1.1.1", "ghost")
	if err != nil || !released {
		t.Fatalf("ReleaseSeat = %v, %v, want true, nil", released, err)
	}
}

func TestRefreshSeatCreatesConnectionIfAbsent(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	m, _ := newManager(t, st, now)

	if err := m.RefreshSeat("Widgets", "1.1.1.1", "alice", "hostA"); err != nil {
		t.Fatalf("RefreshSeat: %v", err)
	}

	conns, err := m.GetConnections("Widgets")
	if err != nil {
		t.Fatalf("GetConnections: %v", err)
	}
	if len(conns) != 1 || conns[0].User != "alice" {
		t.Fatalf("conns = %+v, want one row for alice", conns)
	}
}

// RefreshSeat is a liveness touch, not a rebind (spec.md §4.5): it must
// leave an existing connection's licence binding intact, so quota checks
// against that licence keep counting the connection after it refreshes.
func TestRefreshSeatPreservesLicenceBinding(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	licenceID, _, err := st.InsertLicenceIfNotExists(store.Licence{
		Product: "Widgets", NumberOfSeats: 1, TimeStamp: 1, ExpiryDate: "01/Jan/2030",
	})
	if err != nil {
		t.Fatalf("seed licence: %v", err)
	}
	m, _ := newManager(t, st, now)

	ok, err := m.TakeSeat("Widgets", "1.1.1.1", "alice", "hostA")
	if err != nil || !ok {
		t.Fatalf("TakeSeat = %v, %v, want true, nil", ok, err)
	}

	before, err := st.LiveConnectionsForLicence(licenceID, now.Add(-time.Hour), "nobody", "0.0.0.0")
	if err != nil {
		t.Fatalf("LiveConnectionsForLicence before refresh: %v", err)
	}
	if before != 1 {
		t.Fatalf("live connections for licence before refresh = %d, want 1", before)
	}

	refreshAt := now.Add(time.Minute)
	m2, _ := newManager(t, st, refreshAt)
	if err := m2.RefreshSeat("Widgets", "1.1.1.1", "alice", "hostA"); err != nil {
		t.Fatalf("RefreshSeat: %v", err)
	}

	after, err := st.LiveConnectionsForLicence(licenceID, refreshAt.Add(-time.Hour), "nobody", "0.0.0.0")
	if err != nil {
		t.Fatalf("LiveConnectionsForLicence after refresh: %v", err)
	}
	if after != 1 {
		t.Fatalf("live connections for licence after refresh = %d, want 1 (binding must survive RefreshSeat)", after)
	}
}

// Scenario 3 (spec.md §8): one perpetual licence with a degenerate Seats=0
// quota, plus two genuine term licences with distinct ExpiryDates and
// nonzero seat counts. With zero live connections, TakeSeat must bind the
// new requester to the perpetual licence, not fall through to a term
// licence just because 0 < 0 is never true.
func TestTakeSeatPrefersPerpetualLicence(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	if _, _, err := st.InsertLicenceIfNotExists(store.Licence{
		Product: "Widgets", NumberOfSeats: 0, TimeStamp: 1,
	}); err != nil {
		t.Fatalf("seed perpetual: %v", err)
	}
	if _, _, err := st.InsertLicenceIfNotExists(store.Licence{
		Product: "Widgets", NumberOfSeats: 1, TimeStamp: 2, ExpiryDate: "01/Jan/2030",
	}); err != nil {
		t.Fatalf("seed term (small): %v", err)
	}
	if _, _, err := st.InsertLicenceIfNotExists(store.Licence{
		Product: "Widgets", NumberOfSeats: 3, TimeStamp: 3, ExpiryDate: "01/Jan/2029",
	}); err != nil {
		t.Fatalf("seed term (large): %v", err)
	}
	m, _ := newManager(t, st, now)

	total, err := m.TotalSeats("Widgets")
	if err != nil {
		t.Fatalf("TotalSeats: %v", err)
	}
	if total != 4 {
		t.Fatalf("TotalSeats = %d, want 4", total)
	}

	ok, err := m.TakeSeat("Widgets", "1.1.1.1", "alice", "hostA")
	if err != nil || !ok {
		t.Fatalf("TakeSeat = %v, %v, want true, nil", ok, err)
	}

	conns, err := m.GetConnections("Widgets")
	if err != nil {
		t.Fatalf("GetConnections: %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("conns = %+v, want one row", conns)
	}

	// The product-wide quota is 4 (0+1+3), so three more distinct
	// requesters are admitted alongside alice and together fill it.
	for i, user := range []string{"bob", "carol", "dave"} {
		ip := fmt.Sprintf("2.2.2.%d", i)
		ok, err := m.TakeSeat("Widgets", ip, user, "hostB")
		if err != nil || !ok {
			t.Fatalf("TakeSeat(%s) = %v, %v, want true, nil", user, ok, err)
		}
	}
}

func TestGetLicenceDetailsUnknownProduct(t *testing.T) {
	st := newTestStore(t)
	m, _ := newManager(t, st, time.Now().UTC())

	_, err := m.GetLicenceDetails("Ghost")
	if errs.CodeOf(err) != errs.CodeInvalidProduct {
		t.Fatalf("error code = %d, want CodeInvalidProduct", errs.CodeOf(err))
	}
}

func TestGetProductsListsDistinctProducts(t *testing.T) {
	st := newTestStore(t)
	if _, _, err := st.InsertLicenceIfNotExists(store.Licence{Product: "Alpha", NumberOfSeats: 1, TimeStamp: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := st.InsertLicenceIfNotExists(store.Licence{Product: "Beta", NumberOfSeats: 1, TimeStamp: 2}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m, _ := newManager(t, st, time.Now().UTC())

	products, err := m.GetProducts()
	if err != nil {
		t.Fatalf("GetProducts: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("products = %v, want 2 entries", products)
	}
}

// Scenario 6 (spec.md §8): with quota=1, two concurrent TakeSeat calls for
// distinct users must admit exactly one of them.
func TestTakeSeatConcurrentRaceAdmitsExactlyOne(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	if _, _, err := st.InsertLicenceIfNotExists(store.Licence{
		Product: "Widgets", NumberOfSeats: 1, TimeStamp: 1,
	}); err != nil {
		t.Fatalf("seed licence: %v", err)
	}
	m, _ := newManager(t, st, now)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	users := [][2]string{{"1.1.1.1", "alice"}, {"2.2.2.2", "bob"}}
	for i, u := range users {
		wg.Add(1)
		go func(i int, ip, user string) {
			defer wg.Done()
			ok, err := m.TakeSeat("Widgets", ip, user, "host")
			if err != nil {
				t.Errorf("TakeSeat: %v", err)
				return
			}
			results[i] = ok
		}(i, u[0], u[1])
	}
	wg.Wait()

	admitted := 0
	for _, ok := range results {
		if ok {
			admitted++
		}
	}
	if admitted != 1 {
		t.Fatalf("admitted %d of 2 concurrent requesters, want exactly 1", admitted)
	}
}
