package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"dobro.org/internal/audit"
	"dobro.org/internal/ban"
	"dobro.org/internal/forum"
	"dobro.org/internal/httpapi"
	"dobro.org/internal/identity"
	"dobro.org/internal/moderation"
	"dobro.org/internal/notify"
	"dobro.org/internal/obs"
	"dobro.org/internal/store/memory"
	"dobro.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

// backend is the union of store interfaces the services need. Both the
// in-memory store and the PostgreSQL store satisfy it.
type backend interface {
	identity.Store
	ban.Store
	forum.Store
	moderation.Store
	notify.Store
	audit.Appender
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store backend
		db    *sql.DB
	)
	if dsn := os.Getenv("DOBRO_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Print("DOBRO_PG_DSN not set, using in-memory store")
		store = memory.New()
	}

	identitySvc, err := identity.NewService(store)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	bans, err := ban.NewLedger(store)
	if err != nil {
		log.Fatalf("bans: %v", err)
	}
	reader, err := forum.NewReader(store)
	if err != nil {
		log.Fatalf("forum reader: %v", err)
	}
	forumSvc, err := forum.NewService(store)
	if err != nil {
		log.Fatalf("forum: %v", err)
	}
	executor, err := moderation.NewExecutor(store)
	if err != nil {
		log.Fatalf("moderation: %v", err)
	}
	notifications, err := notify.NewService(store)
	if err != nil {
		log.Fatalf("notifications: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, httpapi.Deps{
		Identity:      identitySvc,
		Bans:          bans,
		Reader:        reader,
		Forum:         forumSvc,
		Moderation:    executor,
		Notifications: notifications,
		Auditor:       store,
	})

	api.SetRateLimit(envInt("DOBRO_RATE_BURST", 20), envInt("DOBRO_RATE_PER_SEC", 10))

	addr := os.Getenv("DOBRO_ADDR")
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

	log.Printf("Starting dobro-api %s on %s", version, srv.Addr)

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
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}
