// Package licence implements the Signature Verifier (C1): canonicalising a
// licence document tree and checking its embedded RSA signature, plus the
// typed view of a licence document used by the loader and seat pool.
package licence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/altianls/seatserver/internal/xmltree"
)

// DateLayout is the literal on-disk date format: DD/Mon/YYYY, e.g. 04/Sep/2014.
const DateLayout = "02/Jan/2006"

// Fields is the typed view of a Licence1 document's child elements.
type Fields struct {
	Company       string
	Product       string
	Customer      string
	Reference     string
	Reseller      string
	NumberOfSeats int
	StartDate     *time.Time
	ExpiryDate    *time.Time
	TimeStamp     int64
	Code          string
	Version       string
	Notes         string
}

// IsPerpetual reports whether the licence has no expiry date.
func (f Fields) IsPerpetual() bool { return f.ExpiryDate == nil }

// ParseDate parses the literal DD/Mon/YYYY format used throughout licence
// documents. An empty string yields a nil time with no error.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", s, err)
	}
	return &t, nil
}

// FormatDate renders t in the literal DD/Mon/YYYY format, or "" for nil.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

// FieldsFromTree extracts typed Fields from a parsed Licence1 document. It
// does not verify the signature; callers run that separately via Verifier.
func FieldsFromTree(root *xmltree.Element) (Fields, error) {
	if root.Name != "Licence1" {
		return Fields{}, fmt.Errorf("unexpected root element %q, want Licence1", root.Name)
	}

	var f Fields
	f.Company = root.ChildText("Company")
	f.Product = strings.TrimSpace(root.ChildText("Product"))
	f.Customer = root.ChildText("Customer")
	f.Reference = root.ChildText("Reference")
	f.Reseller = root.ChildText("Reseller")
	f.Code = root.ChildText("Code")
	f.Version = root.ChildText("Version")
	f.Notes = root.ChildText("Comments")

	if f.Product == "" {
		return Fields{}, fmt.Errorf("licence document missing Product")
	}

	seatsText := strings.TrimSpace(root.ChildText("NumberOfSeats"))
	seats, err := strconv.Atoi(seatsText)
	if err != nil {
		return Fields{}, fmt.Errorf("parse NumberOfSeats %q: %w", seatsText, err)
	}
	if seats < 0 {
		return Fields{}, fmt.Errorf("NumberOfSeats %d is negative", seats)
	}
	f.NumberOfSeats = seats

	tsText := strings.TrimSpace(root.ChildText("TimeStamp"))
	ts, err := strconv.ParseInt(tsText, 10, 64)
	if err != nil {
		return Fields{}, fmt.Errorf("parse TimeStamp %q: %w", tsText, err)
	}
	f.TimeStamp = ts

	start, err := ParseDate(root.ChildText("StartDate"))
	if err != nil {
		return Fields{}, err
	}
	f.StartDate = start

	expiry, err := ParseDate(root.ChildText("ExpiryDate"))
	if err != nil {
		return Fields{}, err
	}
	f.ExpiryDate = expiry

	return f, nil
}

// TreeFromFields reconstructs a Licence1 document tree from typed Fields,
// in the same element order the signer emits, for reconstructing a
// canonical form from a stored row during Double Validation.
func TreeFromFields(f Fields) *xmltree.Element {
	root := &xmltree.Element{Name: "Licence1"}
	add := func(name, text string) {
		root.Children = append(root.Children, &xmltree.Element{Name: name, Text: text})
	}
	add("Company", f.Company)
	add("Product", f.Product)
	add("Customer", f.Customer)
	add("Reference", f.Reference)
	add("Reseller", f.Reseller)
	add("NumberOfSeats", strconv.Itoa(f.NumberOfSeats))
	add("StartDate", FormatDate(f.StartDate))
	add("ExpiryDate", FormatDate(f.ExpiryDate))
	add("TimeStamp", strconv.FormatInt(f.TimeStamp, 10))
	add("Code", f.Code)
	add("Comments", f.Notes)
	return root
}
