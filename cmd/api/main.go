package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/savegress/optimizer/backend/internal/analysis"
	"github.com/savegress/optimizer/backend/internal/auth"
	"github.com/savegress/optimizer/backend/internal/commerce"
	"github.com/savegress/optimizer/backend/internal/config"
	"github.com/savegress/optimizer/backend/internal/directorysync"
	"github.com/savegress/optimizer/backend/internal/handlers"
	"github.com/savegress/optimizer/backend/internal/httpclient"
	appMiddleware "github.com/savegress/optimizer/backend/internal/middleware"
	"github.com/savegress/optimizer/backend/internal/recommend"
	"github.com/savegress/optimizer/backend/internal/repository"
	"github.com/savegress/optimizer/backend/internal/skuregistry"
	"github.com/savegress/optimizer/backend/internal/syncguard"
	"github.com/savegress/optimizer/backend/internal/tokencache"
	"github.com/savegress/optimizer/backend/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := repository.NewPostgresDB(context.Background(), cfg.DatabaseURL, repository.PoolConfig{
		MaxConns: int32(cfg.DatabaseMaxConns),
		MinConns: int32(cfg.DatabaseMinConns),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Bootstrap(context.Background()); err != nil {
		log.Fatalf("Failed to apply database schema: %v", err)
	}

	redisClient, err := repository.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	secretVault, err := vault.New(cfg.VaultKeyVersion, cfg.VaultKeys)
	if err != nil {
		log.Fatalf("Failed to initialize secret vault: %v", err)
	}

	// Repositories (Data Store Adapter)
	tenantRepo := repository.NewTenantRepository(db)
	operatorRepo := repository.NewOperatorRepository(db)
	userRepo := repository.NewUserRepository(db)
	licenseRepo := repository.NewLicenseRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	commerceRepo := repository.NewCommerceRepository(db)
	skuRepo := repository.NewSkuRegistryRepository(db)

	// Directory Sync: per-tenant vault-sealed credentials, one HTTP Client
	// Core instance whose TokenSource resolves a token per tenant.
	directoryAcquirer := directorysync.NewTokenAcquirer(tenantRepo, secretVault, "https://graph.microsoft.com/.default")
	directoryTokens := tokencache.New(redisClient, directoryAcquirer)
	directoryHTTP := httpclient.New(directoryTokens)
	graphClient := directorysync.NewGraphClient(directoryHTTP, cfg.GraphAPIBaseURL)

	fingerprintTTL := time.Duration(cfg.SyncFingerprintTTLSec) * time.Second
	syncGuard := syncguard.New(redisClient, fingerprintTTL)
	syncLimiter := syncguard.NewLimiter(time.Minute/time.Duration(max(cfg.SyncRateLimitPerMinute, 1)), cfg.SyncRateLimitPerMinute)

	directoryService := directorysync.New(graphClient, userRepo, licenseRepo, usageRepo, db, syncGuard)

	// Commerce Sync: shared, process-wide credentials - no per-tenant
	// token resolution, but the same Token Cache/HTTP Client Core shapes.
	commerceAcquirer := commerce.NewTokenAcquirer(cfg.CommerceClientID, cfg.CommerceClientSecret, cfg.CommerceTokenAuthority, cfg.CommerceScope)
	commerceTokens := tokencache.New(redisClient, commerceAcquirer)
	commerceHTTP := httpclient.New(commerceTokens)
	partnerClient := commerce.NewPartnerClient(commerceHTTP, cfg.CommerceAPIBaseURL)

	billingReference := commerce.NewBillingReference(cfg.CommerceStripeKey)
	if err := billingReference.Refresh(context.Background()); err != nil {
		log.Printf("commerce: billing reference refresh failed, continuing with built-in defaults: %v", err)
	}

	commerceService := commerce.New(partnerClient, commerceRepo, db, syncGuard, redisClient, billingReference, cfg.CommerceDefaultCountry)

	if cfg.CommerceCSVBucket != "" {
		csvStaging, err := commerce.NewCSVStaging(context.Background(), commerce.CSVStagingConfig{
			Bucket: cfg.CommerceCSVBucket,
			Region: cfg.CommerceCSVRegion,
		})
		if err != nil {
			log.Printf("commerce: S3 staging unavailable, ImportPriceCSV will only accept inline uploads: %v", err)
		} else {
			commerceService.SetCSVStaging(csvStaging)
		}
	}

	// SKU compatibility registry: seeded on first boot, loaded once,
	// reloaded out of band.
	if err := skuregistry.SeedDefaults(context.Background(), skuRepo); err != nil {
		log.Fatalf("Failed to seed SKU compatibility registry: %v", err)
	}
	skuRegistry := skuregistry.New(skuRepo)
	if err := skuRegistry.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load SKU compatibility registry: %v", err)
	}

	marketResolver := skuregistry.NewMarketResolver()
	if cfg.MarketMapPath != "" {
		if err := marketResolver.LoadOverrides(cfg.MarketMapPath); err != nil {
			log.Printf("skuregistry: market map overrides not applied: %v", err)
		}
	}

	// Recommendation Engine + Analysis Orchestrator
	engine := recommend.New(skuRegistry, cfg.DefaultUnitPriceCents)
	orchestrator := analysis.New(tenantRepo, userRepo, licenseRepo, usageRepo, analysisRepo, engine, commerceRepo, marketResolver, cfg.DefaultUnitPriceCents)

	// Operator auth
	authService := auth.New(operatorRepo, cfg.JWTSecret, time.Duration(cfg.JWTAccessTokenTTL)*time.Minute, time.Duration(cfg.JWTRefreshTokenTTL)*24*time.Hour)

	// Handlers
	healthHandler := handlers.NewHealthHandler(
		handlers.Probe{Name: "postgres", Check: db.Ping},
		handlers.Probe{Name: "redis", Check: redisClient.Ping},
	)
	authHandler := handlers.NewAuthHandler(authService)
	syncHandler := handlers.NewSyncHandler(directoryService)
	commerceHandler := handlers.NewCommerceHandler(commerceService)
	analysisHandler := handlers.NewAnalysisHandler(orchestrator)
	skuHandler := handlers.NewSkuRegistryHandler(skuRegistry)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/forgot-password", authHandler.RequestPasswordReset)
			r.Post("/reset-password", authHandler.ResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.Auth(authService))

			r.Get("/auth/me", authHandler.Me)

			// Directory sync
			r.Route("/tenants/{tenantID}/sync", func(r chi.Router) {
				r.Use(appMiddleware.SyncRateLimit(syncLimiter))
				r.Post("/users", syncHandler.SyncUsers)
				r.Post("/licenses", syncHandler.SyncLicenses)
				r.Post("/usage", syncHandler.SyncUsage)
			})

			// Analyses and recommendations
			r.Route("/tenants/{tenantID}/analyses", func(r chi.Router) {
				r.Post("/", analysisHandler.RunAnalysis)
				r.Get("/", analysisHandler.ListAnalyses)
			})
			r.Get("/analyses/{id}", analysisHandler.GetAnalysis)
			r.Post("/recommendations/{id}/apply", analysisHandler.ApplyRecommendation)

			// SKU compatibility registry
			r.Post("/sku/validate-addon", skuHandler.ValidateAddon)

			// Commerce sync - process-wide, operator-gated
			r.Route("/commerce", func(r chi.Router) {
				r.Use(appMiddleware.RequireAdmin)
				r.Post("/sync/products", commerceHandler.SyncProducts)
				r.Post("/sync/prices", commerceHandler.SyncPrices)
				r.Post("/prices/import", commerceHandler.ImportPriceCSV)
				r.Post("/prices/import-staged", commerceHandler.ImportPriceCSVStaged)
			})
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
