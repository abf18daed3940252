// Package store owns the single embedded relational database file (C3):
// the schema, indices and typed queries the engine needs. It is the only
// component that touches the database directly.
package store

import "time"

// SchemaVersion is recorded in site_log on first schema creation.
const SchemaVersion = "1"

// Licence is a persisted row from the licences table. TimeStamp is the
// stable external identity the Licence Loader upserts by.
type Licence struct {
	ID            int64
	Company       string
	Product       string
	Customer      string
	Reference     string
	Reseller      string
	NumberOfSeats int
	StartDate     string // DD/Mon/YYYY, or ""
	ExpiryDate    string // DD/Mon/YYYY, or ""
	TimeStamp     int64
	Code          string
	Version       string
	Notes         string
}

// IsPerpetual reports whether the licence has no expiry date.
func (l Licence) IsPerpetual() bool { return l.ExpiryDate == "" }

// Connection is a persisted row from the connections table: one live (or
// stale) seat held by a (product, user, ip) triple.
type Connection struct {
	ID          int64
	Product     string
	UserName    string
	IPAddress   string
	MachineName string
	LogonTime   time.Time
	UpdateTime  time.Time
	LicenceID   *int64
}

// SiteLog is an append-only schema-installation record.
type SiteLog struct {
	ID          int64
	InstallDate time.Time
	Version     string
	Notes       string
	ReleaseDate string
}
