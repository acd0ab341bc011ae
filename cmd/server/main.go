package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumicrm/mailsync/internal/actions"
	"github.com/lumicrm/mailsync/internal/api"
	"github.com/lumicrm/mailsync/internal/blob"
	"github.com/lumicrm/mailsync/internal/config"
	"github.com/lumicrm/mailsync/internal/crypto"
	"github.com/lumicrm/mailsync/internal/db"
	"github.com/lumicrm/mailsync/internal/notify"
	"github.com/lumicrm/mailsync/internal/sync"
	"github.com/lumicrm/mailsync/internal/thread"
	"github.com/lumicrm/mailsync/internal/vault"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	if err := db.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Printf("Database ready")

	server, background := NewServer(cfg, pool)
	go background(ctx)

	address := ":" + cfg.Port
	log.Printf("Mail sync service starting on %s (environment: %s)", address, cfg.Environment)

	httpServer := &http.Server{Addr: address, Handler: server}
	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}

// NewServer wires the sync stack and returns the HTTP handler plus the
// background loop (orchestrator sweep and IDLE listeners) to run alongside it.
func NewServer(cfg *config.Config, pool *pgxpool.Pool) (http.Handler, func(context.Context)) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	blobs, err := blob.NewStore(cfg.AttachmentRoot)
	if err != nil {
		log.Fatalf("Failed to open attachment store: %v", err)
	}

	tokens := vault.NewTokenManager(pool, encryptor, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthTokenURL)
	useTLS := cfg.Environment != "test"
	credVault := vault.NewVault(pool, encryptor, tokens, useTLS)

	hub := notify.NewHub(10)
	directory := &sync.DBDirectory{Pool: pool}
	store := &sync.DBStore{Pool: pool}
	threader := thread.NewThreader(pool)

	engine := sync.NewEngine(&sync.VaultConnector{Vault: credVault}, store, threader, blobs, hub, cfg.MaxBackfillMessages)
	orchestrator := sync.NewOrchestrator(directory, engine, cfg.SyncInterval, cfg.SyncTimeout, cfg.MaxConcurrentSyncs)
	bridge := sync.NewPushBridge(directory, store, orchestrator)
	idler := sync.NewIdleListener(credVault, directory, orchestrator)

	gateway := actions.NewGateway(&actions.DBMessageStore{Pool: pool}, &actions.VaultConnector{Vault: credVault})

	accountsHandler := api.NewAccountsHandler(&api.DBAccountStore{Pool: pool}, credVault)
	syncHandler := api.NewSyncHandler(orchestrator)
	webhookHandler := api.NewWebhookHandler(bridge)
	actionsHandler := api.NewActionsHandler(directory, gateway)
	wsHandler := api.NewWebSocketHandler(hub, cfg.WebhookSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("/", handleRoot)

	guard := func(h http.HandlerFunc) http.Handler {
		return api.RequireSyncToken(cfg.WebhookSecret, h)
	}
	mux.Handle("/api/v1/accounts", guard(accountsHandler.Handle))
	mux.Handle("/api/v1/sync/run", guard(syncHandler.RunAll))
	mux.Handle("/api/v1/sync/account/", guard(syncHandler.RunAccount))
	mux.Handle("/api/v1/actions", guard(actionsHandler.Handle))
	// Provider deliveries cannot carry our header; the webhook validates its
	// payload shape instead and only ever triggers work we would do anyway.
	mux.HandleFunc("/api/v1/push/webhook", webhookHandler.Handle)
	// WebSocket authenticates via query parameter inside the handler.
	mux.HandleFunc("/api/v1/ws", wsHandler.Handle)

	background := func(ctx context.Context) {
		go idler.Run(ctx)
		orchestrator.Run(ctx)
	}

	return mux, background
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Mail sync service is running")
}
