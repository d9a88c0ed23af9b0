package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Malilyqueen/max-crm-sub003/internal/consent"
	"github.com/Malilyqueen/max-crm-sub003/internal/crm"
	"github.com/Malilyqueen/max-crm-sub003/internal/dispatch"
	"github.com/Malilyqueen/max-crm-sub003/internal/execlog"
	"github.com/Malilyqueen/max-crm-sub003/internal/gate"
	"github.com/Malilyqueen/max-crm-sub003/internal/httpapi"
	"github.com/Malilyqueen/max-crm-sub003/internal/obs"
	"github.com/Malilyqueen/max-crm-sub003/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("MAXCRM_COMMIT"))

	// Durable stores when a DSN is set, in-memory otherwise. The in-memory
	// setup is for dev and demos; consent state does not survive a restart.
	var (
		consents consent.Ledger
		logStore execlog.Log
		ready    httpapi.ReadyProbe
	)
	if dsn := os.Getenv("MAXCRM_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		consents = store
		logStore = store
		ready = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		consents = consent.NewInMemory()
		logStore = execlog.NewInMemory()
	}

	// The agent talks to a real CRM only when one is configured.
	var crmClient crm.Client
	if base := os.Getenv("MAXCRM_CRM_BASE"); base != "" {
		crmClient = crm.NewHTTPClient(base, os.Getenv("MAXCRM_CRM_KEY"))
	} else {
		crmClient = crm.NewInMemory()
	}

	// The service boots read-only; escalation happens over the API.
	mode := gate.ModeReadOnly
	if raw := os.Getenv("MAXCRM_GLOBAL_MODE"); raw != "" {
		parsed, err := gate.ParseMode(raw)
		if err != nil {
			log.Fatalf("MAXCRM_GLOBAL_MODE: %v", err)
		}
		mode = parsed
	}
	policy := gate.NewModePolicy(mode)

	loc := time.UTC
	if tz := os.Getenv("MAXCRM_TZ"); tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			log.Fatalf("MAXCRM_TZ: %v", err)
		}
	}
	schedule := gate.DefaultSchedule(loc)
	schedule.OpenHour = envInt("MAXCRM_SCHEDULE_OPEN", schedule.OpenHour)
	schedule.CloseHour = envInt("MAXCRM_SCHEDULE_CLOSE", schedule.CloseHour)

	limiter := gate.NewLimiter(envInt("MAXCRM_RATE_CEILING", gate.DefaultRateCeiling))
	authority := gate.NewAuthority()

	g, err := gate.New(policy, authority, schedule, limiter, consents)
	if err != nil {
		log.Fatalf("gate: %v", err)
	}

	dispatcher, err := dispatch.New(g, logStore, consents, dispatch.DefaultActions(crmClient))
	if err != nil {
		log.Fatalf("dispatcher: %v", err)
	}

	api := httpapi.New(httpapi.Deps{
		Ready:      ready,
		Version:    version,
		Mode:       policy,
		Authority:  authority,
		Dispatcher: dispatcher,
		Consents:   consents,
		Log:        logStore,
	})

	addr := os.Getenv("MAXCRM_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting max-crm-gate %s on %s (mode=%s)", version, srv.Addr, mode)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return val
}
