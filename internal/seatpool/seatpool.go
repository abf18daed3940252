// Package seatpool implements the Seat Pool (C4): given a product's
// licence rows, compute the admitted licence set and seat quota, and pick
// which licence a new seat binds to.
package seatpool

import (
	"sort"
	"time"

	"github.com/altianls/seatserver/internal/events"
	"github.com/altianls/seatserver/internal/licence"
	"github.com/altianls/seatserver/internal/reporter"
	"github.com/altianls/seatserver/internal/store"
)

// Seat is the tagged "licence seat" record the source calls
// LicenceSeatStructure: one admitted licence's identity, quota and
// perpetual flag. Every Pool owns its own Seats slice — the source's class
// -level mutable default (spec.md §9) has no analogue here.
type Seat struct {
	LicenceID   int64
	Seats       int
	IsPerpetual bool
}

// Pool is the admitted licence set for one product, computed fresh on
// every call — Seat Pool holds no long-lived state (spec.md §3 Ownership).
type Pool struct {
	// Admitted holds the licences that passed the admission pipeline, in
	// TimeStamp-descending order (the order GetLicenceDetails' "newest
	// admitted licence" identity is read from).
	Admitted []store.Licence

	// AssignmentOrder is Admitted sorted for TakeSeat candidate selection:
	// perpetual licences first, then term licences ascending by Seats
	// (spec.md §4.4 — the resolved form of the two sort-comparator
	// variants; see DESIGN.md).
	AssignmentOrder []Seat

	TotalSeats          int
	HasPerpetualLicence bool
}

// Build runs the admission pipeline of spec.md §4.4 over rows (expected in
// TimeStamp-descending order, as Store.LicencesForProduct returns them).
//
// Admission pipeline, applied newest-TimeStamp-first:
//  1. Optional re-verification (Double Validation): rebuild the canonical
//     document from the row and re-run the Signature Verifier; skip on
//     failure.
//  2. Date window: admit iff (StartDate is null or now > StartDate) AND
//     (ExpiryDate is null or now < ExpiryDate), compared at day
//     granularity.
//  3. Perpetual dedup: at most one perpetual licence is admitted — the
//     first encountered (i.e. the newest, since rows arrive newest
//     first). Later perpetuals are silently ignored.
//  4. Every admitted term licence is added to the pool.
func Build(rows []store.Licence, verifier *licence.Verifier, doubleValidation bool, now time.Time, report reporter.Reporter) *Pool {
	p := &Pool{}
	sawPerpetual := false

	for _, row := range rows {
		if doubleValidation && verifier != nil {
			tree := licence.TreeFromFields(fieldsFromRow(row))
			if !verifier.Verify(tree) {
				report.Report(events.LicenceRejected, "double validation failed for product "+row.Product)
				continue
			}
		}

		if !inDateWindow(row, now) {
			continue
		}

		if row.IsPerpetual() {
			if sawPerpetual {
				continue
			}
			sawPerpetual = true
		}

		p.Admitted = append(p.Admitted, row)
		p.TotalSeats += row.NumberOfSeats
	}

	p.HasPerpetualLicence = sawPerpetual
	p.AssignmentOrder = assignmentOrder(p.Admitted)
	return p
}

func fieldsFromRow(row store.Licence) licence.Fields {
	start, _ := licence.ParseDate(row.StartDate)
	expiry, _ := licence.ParseDate(row.ExpiryDate)
	return licence.Fields{
		Company:       row.Company,
		Product:       row.Product,
		Customer:      row.Customer,
		Reference:     row.Reference,
		Reseller:      row.Reseller,
		NumberOfSeats: row.NumberOfSeats,
		StartDate:     start,
		ExpiryDate:    expiry,
		TimeStamp:     row.TimeStamp,
		Code:          row.Code,
		Version:       row.Version,
		Notes:         row.Notes,
	}
}

// inDateWindow reports whether row is inside its date window at day
// granularity, i.e. ignoring the time-of-day component.
func inDateWindow(row store.Licence, now time.Time) bool {
	day := dayOnly(now)
	if row.StartDate != "" {
		start, err := licence.ParseDate(row.StartDate)
		if err != nil || start == nil {
			return false
		}
		if !day.After(dayOnly(*start)) {
			return false
		}
	}
	if row.ExpiryDate != "" {
		expiry, err := licence.ParseDate(row.ExpiryDate)
		if err != nil || expiry == nil {
			return false
		}
		if !day.Before(dayOnly(*expiry)) {
			return false
		}
	}
	return true
}

func dayOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// assignmentOrder sorts admitted rows so perpetual licences come first,
// then term licences ascending by Seats.
func assignmentOrder(admitted []store.Licence) []Seat {
	seats := make([]Seat, len(admitted))
	for i, row := range admitted {
		seats[i] = Seat{LicenceID: row.ID, Seats: row.NumberOfSeats, IsPerpetual: row.IsPerpetual()}
	}
	sort.SliceStable(seats, func(i, j int) bool {
		return sortKey(seats[i]) < sortKey(seats[j])
	})
	return seats
}

// sortKey implements the resolved comparator from spec.md §4.4/§9: -1 for
// perpetual licences, Seats for term licences (perpetual first, then term
// ascending by seat count). The source's second, sys.maxsize-based
// variant is intentionally not ported — see DESIGN.md.
func sortKey(s Seat) int {
	if s.IsPerpetual {
		return -1
	}
	return s.Seats
}

// PickLicence implements spec.md §4.4's candidate selection: if exactly
// one licence is admitted, bind to it; otherwise walk AssignmentOrder and
// pick the first candidate with headroom, falling back to the first
// licence in sort order if none fits. liveCount reports the live
// connection count already bound to a candidate licence, excluding the
// requester's own row.
func (p *Pool) PickLicence(liveCount func(licenceID int64) (int, error)) (int64, bool, error) {
	if len(p.AssignmentOrder) == 0 {
		return 0, false, nil
	}
	if len(p.AssignmentOrder) == 1 {
		return p.AssignmentOrder[0].LicenceID, true, nil
	}
	for _, candidate := range p.AssignmentOrder {
		if candidate.IsPerpetual {
			return candidate.LicenceID, true, nil
		}
		n, err := liveCount(candidate.LicenceID)
		if err != nil {
			return 0, false, err
		}
		if n < candidate.Seats {
			return candidate.LicenceID, true, nil
		}
	}
	return p.AssignmentOrder[0].LicenceID, true, nil
}
