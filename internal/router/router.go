// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/printshop/storefront-backend/internal/config"
	"github.com/printshop/storefront-backend/internal/handlers"
	"github.com/printshop/storefront-backend/internal/metrics"
	"github.com/printshop/storefront-backend/internal/middleware"
	"github.com/printshop/storefront-backend/internal/services"
	"github.com/printshop/storefront-backend/internal/store"
	"github.com/printshop/storefront-backend/internal/utils"
)

// Dependencies are the collaborators the router cannot build from config
// alone. Nil fields fall back to the config-driven defaults.
type Dependencies struct {
	Store     store.DocumentStore
	Publisher *services.EventPublisher
	Archiver  services.ReportArchiver
}

func Initialize(cfg *config.Config, deps Dependencies) *gin.Engine {
	st := deps.Store
	if st == nil {
		st = store.NewMemoryStore(store.WithRetryPolicy(RetryPolicy(cfg.Fulfillment)))
	}

	archiver := deps.Archiver
	if archiver == nil {
		storageService, err := services.NewStorageService(cfg.AWS)
		if err != nil {
			logrus.WithError(err).Warn("S3 unavailable, reconciliation records will not be archived")
		} else {
			archiver = storageService
		}
	}

	// Initialize services
	notificationService := services.NewNotificationService(cfg.Email, cfg.Frontend)
	reconciliationService := services.NewReconciliationService(st, archiver)

	var publisher services.OrderPublisher
	if deps.Publisher != nil {
		publisher = deps.Publisher
	}

	fulfillmentService := services.NewFulfillmentService(st, cfg.Fulfillment, notificationService, publisher, reconciliationService)
	productService := services.NewProductService(st)
	paymentService := services.NewPaymentService(cfg.Payment, productService)
	orderService := services.NewOrderService(st, notificationService)

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService, fulfillmentService)
	productHandler := handlers.NewProductHandler(productService)
	orderHandler := handlers.NewOrderHandler(orderService)
	verificationHandler := handlers.NewVerificationHandler(orderService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Frontend))
	r.Use(middleware.I18nMiddleware())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Payment processor callbacks
		webhooks := v1.Group("/webhooks")
		webhooks.Use(middleware.WebhookRateLimit())
		{
			webhooks.POST("/stripe", paymentHandler.StripeWebhook)
		}

		v1.POST("/checkout", middleware.CheckoutRateLimit(), paymentHandler.CreateCheckoutSession)

		// Catalogue (public)
		products := v1.Group("/products")
		products.Use(middleware.GeneralRateLimit())
		{
			products.GET("", productHandler.GetProducts)
			products.GET("/:id", productHandler.GetProduct)
		}

		// Certificate verification (public)
		verify := v1.Group("/verify")
		verify.Use(middleware.VerifyRateLimit())
		{
			verify.GET("/:productId/:serial", verificationHandler.VerifyCertificate)
		}

		// Order lookup
		orders := v1.Group("/orders")
		orders.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			orders.GET("/:id", orderHandler.GetOrder)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.POST("/products", productHandler.CreateProduct)

			adminOrders := admin.Group("/orders")
			{
				adminOrders.GET("", orderHandler.GetOrders)
				adminOrders.PUT("/:id/status", orderHandler.UpdateOrderStatus)
			}
		}
	}

	return r
}

// RetryPolicy maps the fulfillment settings onto the store's transaction
// retry policy.
func RetryPolicy(cfg config.FulfillmentConfig) store.RetryPolicy {
	return store.RetryPolicy{
		MaxAttempts: cfg.TxMaxAttempts,
		Backoff:     cfg.TxBackoff,
	}
}
