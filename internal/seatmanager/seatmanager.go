// Package seatmanager implements the Seat Manager (C5), the public-facing
// front of the engine: TakeSeat, RefreshSeat, ReleaseSeat, GetConnections,
// GetLicenceDetails, GetProducts, TotalSeats. It coordinates Store (C3)
// and Seat Pool (C4) under the serialising discipline spec.md §5 requires.
package seatmanager

import (
	"log/slog"
	"time"

	"github.com/altianls/seatserver/internal/errs"
	"github.com/altianls/seatserver/internal/events"
	"github.com/altianls/seatserver/internal/licence"
	"github.com/altianls/seatserver/internal/reporter"
	"github.com/altianls/seatserver/internal/seatpool"
	"github.com/altianls/seatserver/internal/store"
)

// Clock lets tests substitute a fixed time; production code uses
// time.Now.
type Clock func() time.Time

// Manager is the Seat Manager. It holds no per-product state of its own —
// every operation recomputes the admitted pool from Store.
type Manager struct {
	store            *store.Store
	verifier         *licence.Verifier
	doubleValidation bool
	staleFor         time.Duration
	now              Clock
	report           reporter.Reporter
	log              *slog.Logger
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithClock overrides the time source (for tests).
func WithClock(c Clock) Option { return func(m *Manager) { m.now = c } }

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

// New builds a Manager. staleFor is HeartBeat+FudgeFactor
// (config.Config.StaleThreshold()). doubleValidation enables
// re-verification of every licence row on each seat-affecting query
// (spec.md GLOSSARY "Double Validation... default on").
func New(st *store.Store, verifier *licence.Verifier, staleFor time.Duration, doubleValidation bool, report reporter.Reporter, opts ...Option) *Manager {
	m := &Manager{
		store:            st,
		verifier:         verifier,
		doubleValidation: doubleValidation,
		staleFor:         staleFor,
		now:              time.Now,
		report:           report,
		log:              slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConnectionView is the projection GetConnections returns.
type ConnectionView struct {
	User       string
	Host       string
	IP         string
	LogonTime  time.Time
	UpdateTime time.Time
}

func requireNonEmpty(field, value string) error {
	if value == "" {
		return errs.NewArgumentError(field)
	}
	return nil
}

// TakeSeat implements spec.md §4.5 TakeSeat. It runs the read-quota-then-
// insert sequence inside a single Store transaction so it is serialisable
// with respect to other public operations on the same product.
func (m *Manager) TakeSeat(product, ip, user, host string) (bool, error) {
	if err := requireNonEmpty("product", product); err != nil {
		return false, err
	}
	if err := requireNonEmpty("ip", ip); err != nil {
		return false, err
	}
	if err := requireNonEmpty("user", user); err != nil {
		return false, err
	}
	if err := requireNonEmpty("host", host); err != nil {
		return false, err
	}

	now := m.now()
	staleThreshold := now.Add(-m.staleFor)

	// Signature verification is CPU-bound; run it before entering the
	// serialised critical section (spec.md §5 "Suspension points").
	rows, err := m.store.LicencesForProduct(product)
	if err != nil {
		return false, errs.NewStorageError("LicencesForProduct", err)
	}
	if len(rows) == 0 {
		return false, errs.NewInvalidProduct(product)
	}
	pool := seatpool.Build(rows, m.verifier, m.doubleValidation, now, m.report)

	tx, err := m.store.Begin()
	if err != nil {
		return false, errs.NewStorageError("Begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	taken, err := tx.LiveConnectionsExcluding(product, staleThreshold, user, ip)
	if err != nil {
		return false, errs.NewStorageError("LiveConnectionsExcluding", err)
	}
	if taken >= pool.TotalSeats {
		m.report.Report(events.SeatNotTaken, "no seat available for product "+product)
		if err := tx.Commit(); err != nil {
			return false, errs.NewStorageError("Commit", err)
		}
		committed = true
		return false, nil
	}

	licenceID, ok, err := pool.PickLicence(func(id int64) (int, error) {
		return tx.LiveConnectionsForLicence(id, staleThreshold, user, ip)
	})
	if err != nil {
		return false, errs.NewStorageError("LiveConnectionsForLicence", err)
	}
	if !ok {
		return false, errs.NewInvalidProduct(product)
	}

	if err := tx.UpsertConnection(product, user, ip, now); err != nil {
		return false, errs.NewStorageError("UpsertConnection", err)
	}
	if err := tx.TouchConnection(product, user, ip, host, now, licenceID); err != nil {
		return false, errs.NewStorageError("TouchConnection", err)
	}

	if err := tx.Commit(); err != nil {
		return false, errs.NewStorageError("Commit", err)
	}
	committed = true

	m.report.Report(events.SeatTaken, "seat taken for product "+product)
	return true, nil
}

// RefreshSeat implements spec.md §4.5 RefreshSeat: a touch, not a policy
// check. It revives a stale connection if refreshed before reaping.
func (m *Manager) RefreshSeat(product, ip, user, host string) error {
	if err := requireNonEmpty("product", product); err != nil {
		return err
	}
	if err := requireNonEmpty("ip", ip); err != nil {
		return err
	}
	if err := requireNonEmpty("user", user); err != nil {
		return err
	}
	if err := requireNonEmpty("host", host); err != nil {
		return err
	}

	now := m.now()
	if err := m.store.UpsertConnection(product, user, ip, now); err != nil {
		return errs.NewStorageError("UpsertConnection", err)
	}
	if err := m.store.TouchUpdateTime(product, user, ip, now); err != nil {
		return errs.NewStorageError("TouchUpdateTime", err)
	}
	m.report.Report(events.SeatRefreshed, "seat refreshed for product "+product)
	return nil
}

// ReleaseSeat implements spec.md §4.5 ReleaseSeat: always true if the SQL
// succeeded, regardless of whether a row matched (spec.md §9 preserved).
func (m *Manager) ReleaseSeat(product, ip, user string) (bool, error) {
	if err := requireNonEmpty("product", product); err != nil {
		return false, err
	}
	if err := requireNonEmpty("ip", ip); err != nil {
		return false, err
	}
	if err := requireNonEmpty("user", user); err != nil {
		return false, err
	}
	if err := m.store.DeleteConnection(product, user, ip); err != nil {
		return false, errs.NewStorageError("DeleteConnection", err)
	}
	m.report.Report(events.SeatReleased, "seat released for product "+product)
	return true, nil
}

// GetConnections implements spec.md §4.5 GetConnections.
func (m *Manager) GetConnections(product string) ([]ConnectionView, error) {
	if err := requireNonEmpty("product", product); err != nil {
		return nil, err
	}
	staleThreshold := m.now().Add(-m.staleFor)
	rows, err := m.store.LiveConnections(product, staleThreshold)
	if err != nil {
		return nil, errs.NewStorageError("LiveConnections", err)
	}
	out := make([]ConnectionView, len(rows))
	for i, r := range rows {
		out[i] = ConnectionView{
			User:       r.UserName,
			Host:       r.MachineName,
			IP:         r.IPAddress,
			LogonTime:  r.LogonTime,
			UpdateTime: r.UpdateTime,
		}
	}
	return out, nil
}

// GetProducts implements spec.md §4.5 GetProducts.
func (m *Manager) GetProducts() ([]string, error) {
	products, err := m.store.DistinctProducts()
	if err != nil {
		return nil, errs.NewStorageError("DistinctProducts", err)
	}
	return products, nil
}

// TotalSeats implements spec.md §4.5/§4.4 TotalSeats.
func (m *Manager) TotalSeats(product string) (int, error) {
	if err := requireNonEmpty("product", product); err != nil {
		return 0, err
	}
	rows, err := m.store.LicencesForProduct(product)
	if err != nil {
		return 0, errs.NewStorageError("LicencesForProduct", err)
	}
	if len(rows) == 0 {
		m.report.Report(events.ProductInvalid, "unknown product "+product)
		return 0, errs.NewInvalidProduct(product)
	}
	pool := seatpool.Build(rows, m.verifier, m.doubleValidation, m.now(), m.report)
	return pool.TotalSeats, nil
}

// GetLicenceDetails implements spec.md §4.4/§4.5 GetLicenceDetails.
func (m *Manager) GetLicenceDetails(product string) (seatpool.View, error) {
	if err := requireNonEmpty("product", product); err != nil {
		return seatpool.View{}, err
	}
	rows, err := m.store.LicencesForProduct(product)
	if err != nil {
		return seatpool.View{}, errs.NewStorageError("LicencesForProduct", err)
	}
	if len(rows) == 0 {
		m.report.Report(events.ProductInvalid, "unknown product "+product)
		return seatpool.View{}, errs.NewInvalidProduct(product)
	}
	pool := seatpool.Build(rows, m.verifier, m.doubleValidation, m.now(), m.report)
	return seatpool.LicenceDetails(product, rows, pool)
}
