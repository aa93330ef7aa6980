package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/accounts"
	accountshandler "github.com/OleOle19/sistema-agua-municipalidad/internal/accounts/handler"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/audit"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops"
	fieldopshandler "github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops/handler"
	fieldopsservice "github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops/service"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/platform/config"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/platform/httpserver"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/platform/logger"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/platform/metrics"
	platformredis "github.com/OleOle19/sistema-agua-municipalidad/internal/platform/redis"
	httptransport "github.com/OleOle19/sistema-agua-municipalidad/internal/transport/http"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/middleware/auth"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/tx"
)

const auditInboxSize = 256

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Without DATABASE_URL the process runs on seeded in-memory stores,
	// which is enough for local development and demos.
	var (
		accountStore accounts.Store
		requestStore fieldops.Store
		runner       tx.Runner
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("ping database", "error", err)
			os.Exit(1)
		}
		accountStore = accounts.NewPostgres(db)
		requestStore = fieldops.NewPostgres(db)
		runner = tx.NewSQLRunner(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		mem := accounts.NewInMemoryStore()
		mem.Seed(demoStreets(), demoAccounts())
		accountStore = mem
		requestStore = fieldops.NewInMemoryStore()
		runner = tx.NewSerialRunner()
	}

	cache, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, snapshot caching disabled", "error", err)
		cache = nil
	}
	if cache != nil {
		defer cache.Close()
	}

	inbox := make(chan audit.Event, auditInboxSize)
	recorder := audit.NewRecorder(inbox)
	auditWorker := audit.NewWorker(audit.NewInMemoryStore(10000), inbox, log)

	snapshots := accounts.NewSnapshotService(accountStore, cache, cfg.SnapshotTTL, cfg.SnapshotLimit, m, log)
	intake := fieldopsservice.NewIntake(accountStore, requestStore, recorder, m, log)
	reviewer := fieldopsservice.NewReviewer(accountStore, requestStore, runner, recorder, m, log)

	validator := auth.NewJWTValidator(cfg.JWTSigningKey)
	roles := auth.RankedRoles{}

	router := httptransport.NewRouter(log,
		accountshandler.New(snapshots, accountStore, validator, roles, log),
		fieldopshandler.New(intake, reviewer, validator, roles, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := auditWorker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("starting server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// demoStreets and demoAccounts back the in-memory stores when no database is
// configured, so the snapshot and search endpoints serve data out of the box.
func demoStreets() []accounts.Street {
	return []accounts.Street{
		{ID: 1, Name: "Avenida Central"},
		{ID: 2, Name: "Calle Los Pinos"},
		{ID: 3, Name: "Pasaje San Roque"},
	}
}

func demoAccounts() []accounts.Account {
	now := time.Now()
	return []accounts.Account{
		{
			ID: 1001, MunicipalCode: "WS-1001", FullName: "Maria Lopez",
			TaxID: "20456789", Address: "Avenida Central 120", StreetID: 1,
			Water: true, Sewer: true, MonthsOwed: 0, DebtTotal: 0,
			ConnectionState: accounts.StateConnected, UpdatedAt: now,
		},
		{
			ID: 1002, MunicipalCode: "WS-1002", FullName: "Jorge Paz",
			TaxID: "20912345", Address: "Calle Los Pinos 48", StreetID: 2,
			Water: true, Sewer: false, MonthsOwed: 6, DebtTotal: 84000,
			ConnectionState: accounts.StateDisconnected, UpdatedAt: now,
		},
		{
			ID: 1003, MunicipalCode: "WS-1003", FullName: "Rosa Quispe",
			TaxID: "20778810", Address: "Pasaje San Roque 7", StreetID: 3,
			Water: true, Sewer: true, MonthsOwed: 14, DebtTotal: 210500,
			ConnectionState: accounts.StateCutOff, UpdatedAt: now,
		},
	}
}
