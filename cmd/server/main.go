// Package main is the entrypoint for the roomsync API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"github.com/roomsync/roomsync/internal/account"
	"github.com/roomsync/roomsync/internal/api"
	"github.com/roomsync/roomsync/internal/api/handler"
	mw "github.com/roomsync/roomsync/internal/api/middleware"
	"github.com/roomsync/roomsync/internal/authz"
	"github.com/roomsync/roomsync/internal/cache"
	"github.com/roomsync/roomsync/internal/config"
	"github.com/roomsync/roomsync/internal/dealapi"
	"github.com/roomsync/roomsync/internal/events"
	"github.com/roomsync/roomsync/internal/group"
	"github.com/roomsync/roomsync/internal/handlers"
	"github.com/roomsync/roomsync/internal/room"
	"github.com/roomsync/roomsync/internal/roomapi"
	"github.com/roomsync/roomsync/internal/settings"
	"github.com/roomsync/roomsync/internal/store"
	"github.com/roomsync/roomsync/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "deal_service", cfg.DealService.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis session cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store
	pgStore := store.NewPostgresStore(pool)

	// 6. Outbound clients. Identity travels on the request context; each
	// transport turns it into the right credential.
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.DealService.OAuthClientID,
		ClientSecret: cfg.DealService.OAuthClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.DealService.OAuthTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	dealClient := dealapi.NewClient(cfg.DealService.BaseURL, &http.Client{
		Timeout:   cfg.DealService.Timeout,
		Transport: authz.NewOAuthTransport(oauthConfig, pgStore, nil, logger),
	})

	portalURL := tenantPortalURL(pgStore)
	roomSession := roomapi.NewClient(&http.Client{
		Timeout:   cfg.RoomService.Timeout,
		Transport: authz.NewSessionTransport(pgStore, redisCache, cfg.RoomService.SessionTTL, nil, logger),
	}, portalURL)
	roomAPIKey := roomapi.NewClient(&http.Client{
		Timeout:   cfg.RoomService.Timeout,
		Transport: authz.NewAPIKeyTransport(pgStore, nil, logger),
	}, portalURL)
	bareHTTP := &http.Client{Timeout: cfg.RoomService.Timeout}

	// 7. Domain services and event wiring
	dispatcher := events.NewDispatcher(logger)
	groups := group.NewManager(roomSession, pgStore, logger)
	reconciler := room.NewReconciler(roomSession, pgStore, logger)
	roomSvc := room.NewService(pgStore, roomSession, dealClient, reconciler, dispatcher, logger)
	subs := webhook.NewSubscriptions(dealClient, pgStore, cfg.App.BaseURL, logger)
	differ := webhook.NewDiffer(dealClient, pgStore, dispatcher, logger)
	settingsSvc := settings.NewService(pgStore, settings.DefaultClientFactory(bareHTTP), dispatcher, logger)
	accountSvc := account.NewService(pgStore, redisCache, dispatcher, bareHTTP, cfg.RoomService.SessionTTL, logger)

	registry := handlers.NewRegistry(pgStore, groups, reconciler, dealClient, roomAPIKey, subs, cfg.App.FrontendURL, logger)
	registry.Register(dispatcher)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		WebhookAuth: mw.NewWebhookAuth(pgStore, subs, logger),

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		DealWebhookHandler: handler.NewDealWebhookHandler(differ),
		UserWebhookHandler: handler.NewUserWebhookHandler(pgStore, subs),

		GetRoomHandler:       handler.NewGetRoomHandler(roomSvc),
		ProvisionRoomHandler: handler.NewProvisionRoomHandler(roomSvc),
		RequestAccessHandler: handler.NewRequestAccessHandler(roomSvc),

		GetAccountHandler:    handler.NewGetAccountHandler(accountSvc),
		LinkAccountHandler:   handler.NewLinkAccountHandler(accountSvc),
		UnlinkAccountHandler: handler.NewUnlinkAccountHandler(accountSvc),

		GetSettingsHandler:   handler.NewGetSettingsHandler(settingsSvc),
		SaveSettingsHandler:  handler.NewSaveSettingsHandler(settingsSvc),
		ClearSettingsHandler: handler.NewClearSettingsHandler(settingsSvc),
	}
	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// tenantPortalURL resolves the Room Service base URL for the tenant on the
// request context.
func tenantPortalURL(s store.Store) roomapi.BaseURLFunc {
	return func(ctx context.Context) (string, error) {
		id, ok := authz.IdentityFrom(ctx)
		if !ok {
			return "", errors.New("no identity on request context")
		}
		settings, err := s.GetSettings(ctx, id.TenantID)
		if err != nil {
			return "", fmt.Errorf("load settings for tenant %d: %w", id.TenantID, err)
		}
		if settings.RoomServiceURL == "" {
			return "", fmt.Errorf("tenant %d has no room service url configured", id.TenantID)
		}
		return settings.RoomServiceURL, nil
	}
}
