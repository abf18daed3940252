package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// InsertLicenceIfNotExists inserts l keyed by TimeStamp, a no-op if a row
// with that TimeStamp already exists (spec.md §4.2 "insert into the
// licence table if-not-exists keyed by TimeStamp"). Returns the row id,
// existing or newly created.
func (q queries) InsertLicenceIfNotExists(l Licence) (id int64, inserted bool, err error) {
	res, err := q.ex.Exec(`
		INSERT INTO licences (company, product, customer, reference, reseller,
			number_of_seats, start_date, expiry_date, time_stamp, code, version, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(time_stamp) DO NOTHING`,
		l.Company, l.Product, l.Customer, l.Reference, l.Reseller,
		l.NumberOfSeats, l.StartDate, l.ExpiryDate, l.TimeStamp, l.Code, l.Version, l.Notes,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert licence: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, err := res.LastInsertId()
		return id, true, err
	}

	err = q.ex.QueryRow(`SELECT id FROM licences WHERE time_stamp = ?`, l.TimeStamp).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("lookup existing licence: %w", err)
	}
	return id, false, nil
}

// DeleteLicencesNotIn deletes every licence row whose TimeStamp is not in
// keep (cascading to its connections). An empty keep set deletes every
// licence row: spec.md §4.2 defines the active set as exactly the
// verified-on-disk TimeStamps, with no carve-out for an empty reload.
func (q queries) DeleteLicencesNotIn(keep []int64) (int64, error) {
	if len(keep) == 0 {
		res, err := q.ex.Exec(`DELETE FROM licences`)
		if err != nil {
			return 0, fmt.Errorf("delete all licences: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := make([]string, len(keep))
	args := make([]any, len(keep))
	for i, ts := range keep {
		placeholders[i] = "?"
		args[i] = ts
	}
	query := fmt.Sprintf(`DELETE FROM licences WHERE time_stamp NOT IN (%s)`, strings.Join(placeholders, ","))
	res, err := q.ex.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete stale licences: %w", err)
	}
	return res.RowsAffected()
}

// LicencesForProduct returns every licence row for product (case
// insensitive), newest TimeStamp first.
func (q queries) LicencesForProduct(product string) ([]Licence, error) {
	rows, err := q.ex.Query(`
		SELECT id, company, product, customer, reference, reseller,
			number_of_seats, start_date, expiry_date, time_stamp, code, version, notes
		FROM licences
		WHERE product = ? COLLATE NOCASE
		ORDER BY time_stamp DESC`, product)
	if err != nil {
		return nil, fmt.Errorf("query licences for product: %w", err)
	}
	defer rows.Close()

	var out []Licence
	for rows.Next() {
		var l Licence
		if err := rows.Scan(&l.ID, &l.Company, &l.Product, &l.Customer, &l.Reference, &l.Reseller,
			&l.NumberOfSeats, &l.StartDate, &l.ExpiryDate, &l.TimeStamp, &l.Code, &l.Version, &l.Notes); err != nil {
			return nil, fmt.Errorf("scan licence row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DistinctProducts returns every distinct Product value in the licence
// table, ordered ascending by code point (spec.md §4.5 GetProducts).
func (q queries) DistinctProducts() ([]string, error) {
	rows, err := q.ex.Query(`SELECT DISTINCT product FROM licences ORDER BY product ASC`)
	if err != nil {
		return nil, fmt.Errorf("query distinct products: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasAnyLicenceRow reports whether any licence row exists for product
// (case insensitive), which separates an unknown product (zero rows) from
// a zero-quota product whose licences have merely all expired.
func (q queries) HasAnyLicenceRow(product string) (bool, error) {
	var exists int
	err := q.ex.QueryRow(`SELECT EXISTS(SELECT 1 FROM licences WHERE product = ? COLLATE NOCASE)`, product).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("check licence existence: %w", err)
	}
	return exists == 1, nil
}
