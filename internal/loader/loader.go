// Package loader implements the Licence Loader (C2): reconciling the
// on-disk signed licence files into the licence table.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/altianls/seatserver/internal/events"
	"github.com/altianls/seatserver/internal/licence"
	"github.com/altianls/seatserver/internal/metrics"
	"github.com/altianls/seatserver/internal/reporter"
	"github.com/altianls/seatserver/internal/store"
	"github.com/altianls/seatserver/internal/xmltree"
)

// FileExtension is the licence file suffix spec.md §4.2 enumerates.
const FileExtension = ".nls1"

// Store is the subset of *store.Store the loader needs, so tests can run
// against a fake without opening SQLite.
type Store interface {
	InsertLicenceIfNotExists(l store.Licence) (id int64, inserted bool, err error)
	DeleteLicencesNotIn(keep []int64) (int64, error)
}

// Loader reconciles the licence folder into Store on demand.
type Loader struct {
	folder   string
	verifier *licence.Verifier
	store    Store
	report   reporter.Reporter
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures optional Loader behaviour.
type Option func(*Loader)

// WithMetrics wires m's licences_loaded_total / licence_verify_failures_total
// counters into every LoadLicences run. Omit in tests that don't care.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// New builds a Loader watching folder.
func New(folder string, verifier *licence.Verifier, st Store, report reporter.Reporter, log *slog.Logger, opts ...Option) *Loader {
	if log == nil {
		log = slog.Default()
	}
	l := &Loader{folder: folder, verifier: verifier, store: st, report: report, log: log}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Result summarises one LoadLicences run.
type Result struct {
	Verified int
	Rejected int
	Deleted  int64
}

// LoadLicences implements spec.md §4.2's contract: enumerate *.nls1 files,
// verify each, insert-or-ignore by TimeStamp, then delete every licence row
// whose TimeStamp fell out of the verified-on-disk set. Directory I/O
// failures abort the whole reload with no partial state; signature
// failures are per-file and non-fatal.
func (l *Loader) LoadLicences() (Result, error) {
	entries, err := os.ReadDir(l.folder)
	if err != nil {
		return Result{}, fmt.Errorf("read licence folder: %w", err)
	}

	var res Result
	keep := make([]int64, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), FileExtension) {
			continue
		}
		path := filepath.Join(l.folder, entry.Name())

		row, ok, err := l.loadOne(path)
		if err != nil {
			// A read/parse failure on one file is treated the same as a
			// signature failure: skipped, not fatal to the reload, since
			// only directory enumeration itself is an aborting error
			// (spec.md §4.2 "Errors").
			l.report.Report(events.LicenceRejected, fmt.Sprintf("%s: %v", entry.Name(), err))
			res.Rejected++
			if l.metrics != nil {
				l.metrics.LicenceVerifyFailuresTotal.Inc()
			}
			continue
		}
		if !ok {
			res.Rejected++
			if l.metrics != nil {
				l.metrics.LicenceVerifyFailuresTotal.Inc()
			}
			continue
		}

		_, inserted, err := l.store.InsertLicenceIfNotExists(row)
		if err != nil {
			return Result{}, fmt.Errorf("insert licence %s: %w", entry.Name(), err)
		}
		if inserted {
			l.report.Report(events.LicenceLoaded, fmt.Sprintf("%s: TimeStamp=%d", entry.Name(), row.TimeStamp))
			if l.metrics != nil {
				l.metrics.LicencesLoadedTotal.Inc()
			}
		}
		keep = append(keep, row.TimeStamp)
		res.Verified++
	}

	deleted, err := l.store.DeleteLicencesNotIn(keep)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile licence set: %w", err)
	}
	res.Deleted = deleted

	l.report.Report(events.LicenceReloadRun, fmt.Sprintf("verified=%d rejected=%d deleted=%d", res.Verified, res.Rejected, res.Deleted))
	return res, nil
}

func (l *Loader) loadOne(path string) (store.Licence, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return store.Licence{}, false, fmt.Errorf("read: %w", err)
	}

	root, err := xmltree.Parse(data)
	if err != nil {
		return store.Licence{}, false, fmt.Errorf("parse xml: %w", err)
	}

	if !l.verifier.Verify(root) {
		return store.Licence{}, false, nil
	}

	f, err := licence.FieldsFromTree(root)
	if err != nil {
		return store.Licence{}, false, fmt.Errorf("extract fields: %w", err)
	}

	return store.Licence{
		Company:       f.Company,
		Product:       f.Product,
		Customer:      f.Customer,
		Reference:     f.Reference,
		Reseller:      f.Reseller,
		NumberOfSeats: f.NumberOfSeats,
		StartDate:     licence.FormatDate(f.StartDate),
		ExpiryDate:    licence.FormatDate(f.ExpiryDate),
		TimeStamp:     f.TimeStamp,
		Code:          f.Code,
		Version:       f.Version,
		Notes:         f.Notes,
	}, true, nil
}

// Watch starts a debounced fsnotify watch on the licence folder, triggering
// an incremental LoadLicences between the mandated daily reload (spec.md
// §4.5's "Daily reload" remains authoritative; this is a latency
// improvement only, never a correctness dependency). Grounded on
// ManuGH-xg2g's config file watcher: watch the directory (to see atomic
// replace/create), debounce 500ms, reload once the debounce timer fires.
// Watch returns once ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.folder); err != nil {
		return fmt.Errorf("watch licence folder: %w", err)
	}

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	reload := func() {
		if _, err := l.LoadLicences(); err != nil {
			l.log.Error("watch-triggered reload failed", "event", events.LicenceReloadRun, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(event.Name), FileExtension) {
				continue
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Error("licence folder watch error", "event", events.LicenceReloadRun, "error", err)
		}
	}
}
