package seatpool

import (
	"time"

	"github.com/altianls/seatserver/internal/errs"
	"github.com/altianls/seatserver/internal/licence"
	"github.com/altianls/seatserver/internal/store"
)

// View is the "headline" licence view of spec.md §4.4 GetLicenceDetails:
// a single representative identity plus the aggregate seat quota and a
// representative date.
type View struct {
	Company       string
	Product       string
	Customer      string
	Reference     string
	Reseller      string
	NumberOfSeats int
	Date          string // DD/Mon/YYYY, or "" if unset
}

// LicenceDetails builds the headline view for a product. rows is every
// licence row for the product (TimeStamp-descending, as returned by
// Store.LicencesForProduct) and pool is the result of Build(rows, ...).
// It is the caller's responsibility to have already checked rows is
// non-empty; an empty rows slice is an InvalidProduct error here too, for
// safety at the boundary.
func LicenceDetails(product string, rows []store.Licence, pool *Pool) (View, error) {
	if len(rows) == 0 {
		return View{}, errs.NewInvalidProduct(product)
	}

	identity := rows[0]
	if len(pool.Admitted) > 0 {
		identity = pool.Admitted[0]
	}

	v := View{
		Company:       identity.Company,
		Product:       identity.Product,
		Customer:      identity.Customer,
		Reference:     identity.Reference,
		Reseller:      identity.Reseller,
		NumberOfSeats: pool.TotalSeats,
	}

	switch {
	case len(pool.Admitted) == 0:
		// Admitted set empty but some licence rows exist: no row passed
		// admission (typically because every row has expired).
		// Representative date is the latest ExpiryDate among every row
		// for the product, regardless of its date window.
		v.Date = licence.FormatDate(latestExpiry(rows))
	case pool.HasPerpetualLicence:
		// A perpetual licence is admitted: no representative date.
		v.Date = ""
	default:
		// At least one term licence admitted, no perpetual admitted:
		// latest ExpiryDate among admitted term licences.
		v.Date = licence.FormatDate(latestExpiry(pool.Admitted))
	}

	return v, nil
}

func latestExpiry(rows []store.Licence) *time.Time {
	var latest *time.Time
	for _, row := range rows {
		if row.ExpiryDate == "" {
			continue
		}
		t, err := licence.ParseDate(row.ExpiryDate)
		if err != nil || t == nil {
			continue
		}
		if latest == nil || t.After(*latest) {
			latest = t
		}
	}
	return latest
}
