// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/config"
	"github.com/downpricer/marketplace-backend/internal/handlers"
	"github.com/downpricer/marketplace-backend/internal/middleware"
	"github.com/downpricer/marketplace-backend/internal/services"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

// Options carries the collaborators chosen by the process. Notifier is
// required; the rest default from cfg when left nil.
type Options struct {
	Redis     *redis.Client
	Notifier  services.Notifier
	Providers services.ProviderSelector
	Reader    services.SubscriptionReader
	Archive   services.WebhookArchive
}

func Initialize(db *gorm.DB, cfg *config.Config, opts Options) *gin.Engine {
	if opts.Providers == nil {
		billing := services.NewBillingProviders(cfg)
		opts.Providers = billing
		if opts.Reader == nil {
			opts.Reader = billing.SubscriptionReader()
		}
	}

	// Initialize services
	settingsService := services.NewSettingsService(db, cfg)
	roleSync := services.NewRoleSyncService()
	dedup := services.NewEventDeduplicator(opts.Redis, "webhook")
	requestService := services.NewRequestService(db, settingsService, opts.Providers, opts.Notifier)
	engine := services.NewReconciliationService(db, roleSync, opts.Reader, requestService, dedup, opts.Notifier, cfg.Payment.PriceIDs)

	authService := services.NewAuthService(db, cfg, opts.Notifier)
	saleService := services.NewSaleService(db, opts.Notifier)
	subscriptionService := services.NewSubscriptionService(db, settingsService, opts.Providers, roleSync, engine)
	adminService := services.NewAdminService(db)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	requestHandler := handlers.NewRequestHandler(requestService)
	saleHandler := handlers.NewSaleHandler(saleService)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService)
	webhookHandler := handlers.NewWebhookHandler(engine, opts.Archive, cfg.Payment.StripeWebhookSecret, cfg.Environment == "production")
	adminHandler := handlers.NewAdminHandler(adminService, requestService, saleService, subscriptionService, settingsService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.I18nMiddleware())
	r.Use(middleware.AuditLogMiddleware(db))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// Webhooks sit outside the general limiter; the processor retries in bursts.
	webhooks := r.Group("/v1/webhooks")
	if cfg.Server.RateLimit {
		webhooks.Use(middleware.WebhookRateLimit())
	}
	webhooks.POST("/stripe", webhookHandler.Stripe)

	v1 := r.Group("/v1")
	if cfg.Server.RateLimit {
		v1.Use(middleware.GeneralRateLimit())
	}
	{
		auth := v1.Group("/auth")
		if cfg.Server.RateLimit {
			auth.Use(middleware.AuthRateLimit())
		}
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.GET("/me", middleware.AuthRequired(), authHandler.Me)
		}

		requests := v1.Group("/requests")
		requests.Use(middleware.AuthRequired())
		{
			requests.POST("", requestHandler.Create)
			requests.GET("", requestHandler.List)
			requests.GET("/:id", requestHandler.Get)
			requests.POST("/:id/pay-deposit", requestHandler.PayDeposit)
			requests.POST("/:id/pay-balance", requestHandler.PayBalance)
			requests.POST("/:id/cancel", requestHandler.Cancel)
		}

		sales := v1.Group("/sales")
		sales.Use(middleware.AuthRequired())
		{
			sales.POST("", saleHandler.Create)
			sales.GET("", saleHandler.List)
			sales.GET("/:id", saleHandler.Get)
			sales.POST("/:id/payment-proof", saleHandler.SubmitProof)
		}

		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.GET("/plans", subscriptionHandler.Plans)
			subscriptions.POST("/checkout", middleware.AuthRequired(), subscriptionHandler.Checkout)
			subscriptions.GET("/me", middleware.AuthRequired(), subscriptionHandler.Me)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.GET("/dashboard/stats", adminHandler.GetDashboardStats)
			admin.GET("/users", adminHandler.GetUsers)

			admin.PATCH("/requests/:id/status", adminHandler.TransitionRequest)
			admin.POST("/requests/:id/request-deposit", adminHandler.RequestDeposit)
			admin.POST("/requests/:id/request-balance", adminHandler.RequestBalance)
			admin.POST("/requests/:id/cancel", requestHandler.Cancel)

			admin.POST("/sales/:id/validate", adminHandler.ValidateSale)
			admin.POST("/sales/:id/reject", adminHandler.RejectSale)
			admin.POST("/sales/:id/confirm-payment", adminHandler.ConfirmSalePayment)
			admin.POST("/sales/:id/reject-payment", adminHandler.RejectSalePayment)
			admin.POST("/sales/:id/ship", adminHandler.ShipSale)
			admin.POST("/sales/:id/complete", adminHandler.CompleteSale)

			admin.POST("/users/:id/plan/suspend", adminHandler.SuspendPlan)
			admin.PUT("/users/:id/plan", adminHandler.SetPlanTier)
			admin.PUT("/users/:id/roles", adminHandler.ReplaceRoles)

			admin.GET("/settings", adminHandler.GetSettings)
			admin.PUT("/settings/:key", adminHandler.UpdateSetting)

			admin.GET("/notifications", adminHandler.GetNotifications)
			admin.POST("/notifications/:id/read", adminHandler.MarkNotificationRead)
		}
	}

	return r
}
