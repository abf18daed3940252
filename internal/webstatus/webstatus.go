// Package webstatus implements the optional read-only status surface
// spec.md §6's `webserverport`/`enablewebserver` config fields imply: not
// the full management dashboard (spec.md §1 Non-goals), just a thin
// machine-readable view built the way the teacher builds its HTTP API, on
// go-chi/chi.
package webstatus

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/altianls/seatserver/internal/errs"
	"github.com/altianls/seatserver/internal/seatmanager"
)

// NewRouter builds the chi router serving /health, /metrics, /products and
// /licence/{product}, mirroring the teacher's middleware stack
// (RequestID, RealIP, Logger, Recoverer).
func NewRouter(mgr *seatmanager.Manager) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/products", func(w http.ResponseWriter, r *http.Request) {
		products, err := mgr.GetProducts()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, products)
	})

	r.Get("/licence/{product}", func(w http.ResponseWriter, r *http.Request) {
		product := chi.URLParam(r, "product")
		view, err := mgr.GetLicenceDetails(product)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errs.CodeOf(err) == errs.CodeInvalidProduct {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
