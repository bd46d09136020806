package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"flhub.app/internal/content"
	"flhub.app/internal/delivery"
	"flhub.app/internal/httpapi"
	"flhub.app/internal/identity"
	"flhub.app/internal/messaging"
	"flhub.app/internal/obs"
	"flhub.app/internal/reconcile"
	"flhub.app/internal/rendezvous"
	"flhub.app/internal/session"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("FLHUB_COMMIT"))

	secret := os.Getenv("FLHUB_AUTH_SECRET")
	if secret == "" {
		log.Fatal("FLHUB_AUTH_SECRET is required")
	}

	var (
		db            *sql.DB
		identityStore identity.Store
		tokenStore    rendezvous.Store
		catalog       content.Store
	)
	if dsn := os.Getenv("FLHUB_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		identityStore = identity.NewPGStore(db)
		tokenStore = rendezvous.NewPGStore(db)
		catalog = content.NewPGStore(db)
	} else {
		log.Print("FLHUB_PG_DSN not set, using in-memory stores")
		identityStore = identity.NewInMemory()
		tokenStore = rendezvous.NewInMemory()
		catalog = content.NewInMemory()
	}

	// Messaging gateway; without a bot token every send is a quiet no-op.
	var gateway messaging.Gateway = messaging.Nop{}
	var telegram *messaging.Telegram
	if botToken := os.Getenv("FLHUB_BOT_TOKEN"); botToken != "" {
		var err error
		telegram, err = messaging.NewTelegram(botToken)
		if err != nil {
			log.Fatalf("telegram gateway: %v", err)
		}
		gateway = telegram
	}

	identities := identity.NewService(identityStore, identity.WithGateway(gateway))
	sessions := session.NewIssuer([]byte(secret))
	broker := rendezvous.NewBroker(tokenStore)
	gate := delivery.NewGate(sessions, identities, catalog)

	fileRoot := os.Getenv("FLHUB_CONTENT_DIR")
	if fileRoot == "" {
		fileRoot = "content"
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, identities, sessions, broker, gate, fileRoot)

	addr := os.Getenv("FLHUB_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Throttled downloads outlive ordinary API calls by far.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	runCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	reconciler := reconcile.New(identityStore,
		reconcile.WithBroker(broker),
		reconcile.WithGateway(gateway),
	)
	go reconciler.Run(runCtx)

	if telegram != nil {
		linker := rendezvous.NewLinker(identities, broker, telegram)
		poller := messaging.NewPoller(telegram, linker)
		go poller.Run(runCtx)
	}

	log.Printf("Starting flhub-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	api.Close()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
