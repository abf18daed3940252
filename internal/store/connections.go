package store

import (
	"database/sql"
	"fmt"
	"time"
)

// LiveConnections returns connections for product (case insensitive) with
// UpdateTime after since.
func (q queries) LiveConnections(product string, since time.Time) ([]Connection, error) {
	rows, err := q.ex.Query(`
		SELECT id, product, user_name, ip_address, machine_name, logon_time, update_time, licence_id
		FROM connections
		WHERE product = ? COLLATE NOCASE AND update_time > ?
		ORDER BY update_time DESC`, product, since)
	if err != nil {
		return nil, fmt.Errorf("query live connections: %w", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		var c Connection
		var licenceID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Product, &c.UserName, &c.IPAddress, &c.MachineName,
			&c.LogonTime, &c.UpdateTime, &licenceID); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		if licenceID.Valid {
			id := licenceID.Int64
			c.LicenceID = &id
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LiveConnectionsExcluding counts live connections for product excluding
// the requester's own (userName, ipAddress) row.
func (q queries) LiveConnectionsExcluding(product string, since time.Time, userName, ipAddress string) (int, error) {
	var count int
	err := q.ex.QueryRow(`
		SELECT COUNT(1) FROM connections
		WHERE product = ? COLLATE NOCASE AND update_time > ?
		AND NOT (user_name = ? AND ip_address = ?)`,
		product, since, userName, ipAddress).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count live connections excluding requester: %w", err)
	}
	return count, nil
}

// LiveConnectionsForLicence counts live connections bound to licenceID,
// excluding the requester's own (userName, ipAddress) row.
func (q queries) LiveConnectionsForLicence(licenceID int64, since time.Time, userName, ipAddress string) (int, error) {
	var count int
	err := q.ex.QueryRow(`
		SELECT COUNT(1) FROM connections
		WHERE licence_id = ? AND update_time > ?
		AND NOT (user_name = ? AND ip_address = ?)`,
		licenceID, since, userName, ipAddress).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count live connections for licence: %w", err)
	}
	return count, nil
}

// UpsertConnection creates the (product, user, ip) row with LogonTime=now
// if absent; it is a no-op if the row already exists, matching spec.md
// §4.5's two-step TakeSeat/RefreshSeat sequence (Upsert then Touch).
func (q queries) UpsertConnection(product, userName, ipAddress string, now time.Time) error {
	_, err := q.ex.Exec(`
		INSERT INTO connections (product, user_name, ip_address, machine_name, logon_time, update_time, licence_id)
		VALUES (?, ?, ?, '', ?, ?, NULL)
		ON CONFLICT(product, user_name, ip_address) DO NOTHING`,
		product, userName, ipAddress, now, now)
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

// TouchConnection unconditionally sets MachineName, UpdateTime and
// LicenceRef for the (product, user, ip) triple. Only TakeSeat calls this,
// immediately after admitting the requester to licenceID; RefreshSeat uses
// TouchUpdateTime instead, since a refresh must not rebind or clear a
// connection's existing licence.
func (q queries) TouchConnection(product, userName, ipAddress, machineName string, now time.Time, licenceID int64) error {
	_, err := q.ex.Exec(`
		UPDATE connections
		SET machine_name = ?, update_time = ?, licence_id = ?
		WHERE product = ? COLLATE NOCASE AND user_name = ? AND ip_address = ?`,
		machineName, now, licenceID, product, userName, ipAddress)
	if err != nil {
		return fmt.Errorf("touch connection: %w", err)
	}
	return nil
}

// TouchUpdateTime sets only UpdateTime for the (product, user, ip) triple,
// leaving MachineName and LicenceRef untouched. RefreshSeat is a liveness
// touch, not a rebind: spec.md §4.5 ("UPDATE ... SET UpdateTime = now")
// and the original clsLicenceManager.py RefreshSeat SQL never write
// machine_name or licence_id, so reusing TouchConnection here would clear
// the licence binding TakeSeat established on every refresh.
func (q queries) TouchUpdateTime(product, userName, ipAddress string, now time.Time) error {
	_, err := q.ex.Exec(`
		UPDATE connections
		SET update_time = ?
		WHERE product = ? COLLATE NOCASE AND user_name = ? AND ip_address = ?`,
		now, product, userName, ipAddress)
	if err != nil {
		return fmt.Errorf("touch connection update time: %w", err)
	}
	return nil
}

// DeleteConnection removes the (product, user, ip) row, if any.
func (q queries) DeleteConnection(product, userName, ipAddress string) error {
	_, err := q.ex.Exec(`
		DELETE FROM connections
		WHERE product = ? COLLATE NOCASE AND user_name = ? AND ip_address = ?`,
		product, userName, ipAddress)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// DeleteStaleConnections removes every connection row with UpdateTime
// before the cutoff and returns how many rows were reaped.
func (q queries) DeleteStaleConnections(before time.Time) (int64, error) {
	res, err := q.ex.Exec(`DELETE FROM connections WHERE update_time < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale connections: %w", err)
	}
	return res.RowsAffected()
}
