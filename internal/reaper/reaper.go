// Package reaper implements the Reaper / Maintenance component (C6):
// stale-connection reclamation, the daily licence reload, and database
// housekeeping, on its own timer task separate from the request worker
// pool (spec.md §5 "Scheduled maintenance... runs on its own timer task").
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/altianls/seatserver/internal/events"
	"github.com/altianls/seatserver/internal/loader"
	"github.com/altianls/seatserver/internal/metrics"
)

// Store is the subset of *store.Store the reaper needs for staleness
// reclamation and housekeeping.
type Store interface {
	DeleteStaleConnections(before time.Time) (int64, error)
	Analyze() error
	Vacuum() error
}

// Loader is the subset of *loader.Loader the reaper drives on reload.
type Loader interface {
	LoadLicences() (loader.Result, error)
}

// Clock lets tests substitute a fixed time.
type Clock func() time.Time

// Reaper owns the daily reload schedule and stale-connection sweeps.
type Reaper struct {
	store             Store
	loader            Loader
	staleFor          time.Duration
	reloadTimeFromNow func(now time.Time) (time.Duration, error)
	now               Clock
	log               *slog.Logger
	metrics           *metrics.Metrics
}

// Option configures optional Reaper behaviour.
type Option func(*Reaper)

// WithMetrics wires m's connections_stale_reaped_total counter into every
// reap pass. Omit in tests that don't care.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) { r.metrics = m }
}

// New builds a Reaper. reloadTimeFromNow is typically
// (*config.Config).GetReloadTimeFromNow.
func New(st Store, ld Loader, staleFor time.Duration, reloadTimeFromNow func(time.Time) (time.Duration, error), log *slog.Logger, opts ...Option) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	r := &Reaper{
		store:             st,
		loader:            ld,
		staleFor:          staleFor,
		reloadTimeFromNow: reloadTimeFromNow,
		now:               time.Now,
		log:               log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureFolders creates dataFolder and licenceFolder if either is missing,
// the first step of spec.md §4.6's startup sequence.
func EnsureFolders(dataFolder, licenceFolder string) error {
	if err := os.MkdirAll(dataFolder, 0o755); err != nil {
		return fmt.Errorf("ensure data folder: %w", err)
	}
	if err := os.MkdirAll(licenceFolder, 0o755); err != nil {
		return fmt.Errorf("ensure licence folder: %w", err)
	}
	return nil
}

// Startup runs spec.md §4.6's startup sequence: load licences, reap stale
// connections, analyze, vacuum. Schema creation and folder setup happen
// earlier, in store.Open/EnsureFolders, since those are one-time setup the
// Reaper does not own.
func (r *Reaper) Startup() error {
	if _, err := r.loader.LoadLicences(); err != nil {
		return fmt.Errorf("startup licence load: %w", err)
	}
	return r.reclaimAndHousekeep()
}

// Trigger runs the on-reload sequence: Licence Loader, stale reaper,
// ANALYZE, VACUUM (spec.md §4.6 "Daily reload... On trigger").
func (r *Reaper) Trigger() error {
	res, err := r.loader.LoadLicences()
	if err != nil {
		return fmt.Errorf("reload licences: %w", err)
	}
	r.log.Info("licence reload complete", "event", events.LicenceReloadRun,
		"verified", res.Verified, "rejected", res.Rejected, "deleted", res.Deleted)
	return r.reclaimAndHousekeep()
}

func (r *Reaper) reclaimAndHousekeep() error {
	n, err := r.store.DeleteStaleConnections(r.now().Add(-r.staleFor))
	if err != nil {
		return fmt.Errorf("reap stale connections: %w", err)
	}
	if n > 0 {
		r.log.Info("reaped stale connections", "event", events.SeatsReaped, "count", n)
		if r.metrics != nil {
			r.metrics.ConnectionsStaleReapedTotal.Add(float64(n))
		}
	}
	if err := r.store.Analyze(); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if err := r.store.Vacuum(); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// Run blocks, firing Trigger at the configured daily reload time until ctx
// is cancelled. Each firing reschedules itself via reloadTimeFromNow, so a
// late or early host clock only shifts the next tick rather than drifting
// cumulatively.
func (r *Reaper) Run(ctx context.Context) {
	for {
		wait, err := r.reloadTimeFromNow(r.now())
		if err != nil {
			r.log.Error("compute next reload time", "event", events.LicenceReloadRun, "error", err)
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := r.Trigger(); err != nil {
				r.log.Error("daily reload failed", "event", events.LicenceReloadRun, "error", err)
			}
		}
	}
}
