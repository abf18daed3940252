package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/altianls/seatserver/internal/config"
	"github.com/altianls/seatserver/internal/licence"
	"github.com/altianls/seatserver/internal/loader"
	"github.com/altianls/seatserver/internal/metrics"
	"github.com/altianls/seatserver/internal/reaper"
	"github.com/altianls/seatserver/internal/reporter"
	"github.com/altianls/seatserver/internal/seatmanager"
	"github.com/altianls/seatserver/internal/store"
	"github.com/altianls/seatserver/internal/transport"
	"github.com/altianls/seatserver/internal/webstatus"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	configPath := flag.String("config", "Config.xml", "path to Config.xml")
	publicKeyPath := flag.String("public-key", "public_key.pem", "path to the RSA public key used to verify licences")
	doubleValidation := flag.Bool("double-validation", true, "re-verify licence signatures on every seat query")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load configuration", "err", err)
		os.Exit(1)
	}

	if err := reaper.EnsureFolders(cfg.DataFolder, cfg.LicenceFolder); err != nil {
		slog.Error("ensure data/licence folders", "err", err)
		os.Exit(1)
	}

	pubKey, err := os.ReadFile(*publicKeyPath) //nolint:gosec // operator-supplied key path.
	if err != nil {
		slog.Error("read public key", "err", err)
		os.Exit(1)
	}
	verifier, err := licence.NewVerifier(pubKey)
	if err != nil {
		slog.Error("parse public key", "err", err)
		os.Exit(1)
	}

	st, err := store.Open(filepath.Join(cfg.DataFolder, "Data.db3"), slog.Default())
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	report := reporter.NewSlog(slog.Default())
	m := metrics.New(prometheus.DefaultRegisterer)

	lic := loader.New(cfg.LicenceFolder, verifier, st, report, slog.Default(), loader.WithMetrics(m))
	rp := reaper.New(st, lic, cfg.StaleThreshold(), cfg.GetReloadTimeFromNow, slog.Default(), reaper.WithMetrics(m))

	if err := rp.Startup(); err != nil {
		slog.Error("startup sequence", "err", err)
		os.Exit(1)
	}

	mgr := seatmanager.New(st, verifier, cfg.StaleThreshold(), *doubleValidation, report, seatmanager.WithLogger(slog.Default()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go rp.Run(ctx)
	go sampleSeatGauges(ctx, mgr, m, slog.Default())

	webAddr := func() string { return "" }
	if cfg.EnableWebServer {
		router := webstatus.NewRouter(mgr)
		webServerAddr := ":" + strconv.Itoa(cfg.WebServerPort)
		scheme := cfg.WebServerScheme()
		webAddr = func() string { return scheme + "://" + webServerAddr }

		httpServer := &http.Server{Addr: webServerAddr, Handler: router}
		go func() {
			slog.Info("web status server listening", "addr", webServerAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("web status server stopped", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = httpServer.Shutdown(context.Background())
		}()
	}

	srv := transport.New(":"+strconv.Itoa(cfg.Port), mgr, version, webAddr, cfg.NumberOfThreads, slog.Default())
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	slog.Info("licence server starting", "event", "service.start", "port", cfg.Port, "version", version)
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("transport server stopped", "err", err)
		os.Exit(1)
	}
}

// sampleSeatGauges refreshes the seats_total/seats_in_use gauges from the
// Seat Manager's current view on a fixed interval, since those are
// point-in-time reads rather than events the manager can push on its own.
func sampleSeatGauges(ctx context.Context, mgr *seatmanager.Manager, m *metrics.Metrics, log *slog.Logger) {
	const interval = 15 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sample := func() {
		products, err := mgr.GetProducts()
		if err != nil {
			log.Error("sample seat gauges: list products", "err", err)
			return
		}
		for _, product := range products {
			total, err := mgr.TotalSeats(product)
			if err != nil {
				log.Error("sample seat gauges: total seats", "product", product, "err", err)
				continue
			}
			m.SetSeatsTotal(product, total)

			conns, err := mgr.GetConnections(product)
			if err != nil {
				log.Error("sample seat gauges: connections", "product", product, "err", err)
				continue
			}
			m.SetSeatsInUse(product, len(conns))
		}
	}

	sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}
