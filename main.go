package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"shoporder/internal/config"
	"shoporder/internal/gateways/ghn"
	"shoporder/internal/gateways/vnpay"
	"shoporder/internal/gateways/zalopay"
	"shoporder/internal/handlers"
	"shoporder/internal/middleware"
	"shoporder/internal/repositories"
	"shoporder/internal/services"
	"shoporder/pkg/logger"
	"shoporder/pkg/rabbitmq"
)

const orderEventsQueue = "shoporder.order-events"

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Init(cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// --- Database ---
	db, err := repositories.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.L().Fatal("failed to connect to database", zap.Error(err))
	}
	if err := repositories.Migrate(db); err != nil {
		logger.L().Fatal("failed to migrate database", zap.Error(err))
	}

	// --- Redis (optional master-data cache) ---
	rdb := connectRedis(cfg.RedisAddr)
	if rdb != nil {
		defer rdb.Close()
	}

	// --- RabbitMQ (optional event bus) ---
	var publisher services.EventPublisher
	if cfg.RabbitMQURL != "" {
		mqClient, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL, Exchange: cfg.RabbitMQExchange})
		if err != nil {
			logger.Warn("rabbitmq unavailable, order events will not be published", zap.Error(err))
		} else {
			defer mqClient.Close()
			publisher = mqClient
			if err := mqClient.Consume(orderEventsQueue, "order.#", rabbitmq.LogEvent); err != nil {
				logger.Warn("failed to start order event consumer", zap.Error(err))
			}
		}
	}

	app := buildApp(cfg, db, rdb, publisher)

	// --- Start HTTP Server ---
	logger.Info("starting server", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(cfg.AppPort); err != nil {
			logger.L().Fatal("server failed to start", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("error during fiber shutdown", zap.Error(err))
	}
	logger.Info("server gracefully stopped")
}

func connectRedis(addr string) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, master data will not be cached", zap.String("addr", addr), zap.Error(err))
		rdb.Close()
		return nil
	}
	return rdb
}

// buildApp wires gateways, services and handlers into a Fiber app.
// rdb and publisher may be nil.
func buildApp(cfg *config.Config, db *gorm.DB, rdb *redis.Client, publisher services.EventPublisher) *fiber.App {
	// --- Gateways ---
	vnpayClient := vnpay.NewClient(vnpay.Config{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PayURL:     cfg.VNPay.PayURL,
		APIURL:     cfg.VNPay.APIURL,
		ReturnURL:  cfg.VNPay.ReturnURL,
		Timeout:    cfg.GatewayTimeout,
	})
	zalopayClient := zalopay.NewClient(zalopay.Config{
		AppID:       cfg.Zalopay.AppID,
		Key1:        cfg.Zalopay.Key1,
		Key2:        cfg.Zalopay.Key2,
		Endpoint:    cfg.Zalopay.Endpoint,
		CallbackURL: cfg.Zalopay.CallbackURL,
		Timeout:     cfg.GatewayTimeout,
	})
	ghnClient := ghn.NewCachedClient(ghn.NewClient(ghn.Config{
		Token:          cfg.GHN.Token,
		ShopID:         cfg.GHN.ShopID,
		BaseURL:        cfg.GHN.BaseURL,
		FromDistrictID: cfg.GHN.FromDistrictID,
		FromWardCode:   cfg.GHN.FromWardCode,
		RatePerSecond:  cfg.GHN.RatePerSecond,
		Timeout:        cfg.GatewayTimeout,
	}), rdb, cfg.MasterDataTTL)

	// --- Services ---
	txManager := repositories.NewGORMTxManager(db)
	inventory := services.NewInventoryService()
	reconciler := services.NewReconciler(txManager, inventory, publisher)
	orderService := services.NewOrderService(reconciler, txManager.Repos(), inventory, vnpayClient, zalopayClient, ghnClient)
	shippingService := services.NewShippingService(reconciler, txManager.Repos(), ghnClient, cfg.ShopShippingFee)
	webhookService := services.NewWebhookService(reconciler, cfg.VNPay.HashSecret, cfg.Zalopay.Key2)
	authService := services.NewAuthService(cfg.JWTSecret)

	// --- Handlers ---
	orderHandler := handlers.NewOrderHandler(orderService)
	shippingHandler := handlers.NewShippingHandler(shippingService)
	webhookHandler := handlers.NewWebhookHandler(webhookService)

	app := fiber.New(fiber.Config{
		AppName: "shoporder",
		// Keep errors from unmatched routes in the same envelope as everything else.
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "internal error"
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code, msg = fe.Code, fe.Message
			} else {
				logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
			}
			return c.Status(code).JSON(services.Response{Code: code, Message: msg})
		},
	})

	// --- Middleware ---
	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	// --- Health Check Endpoint ---
	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		}
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			return c.Status(fiber.StatusServiceUnavailable).JSON(status)
		}
		return c.Status(fiber.StatusOK).JSON(status)
	})

	// Webhooks authenticate by signature, not JWT.
	webhookHandler.RegisterRoutes(app)

	apiV1 := app.Group("/api/v1", middleware.AuthRequired(authService))
	orderHandler.RegisterRoutes(apiV1)
	orderHandler.RegisterAdminRoutes(apiV1)
	shippingHandler.RegisterRoutes(apiV1)

	return app
}
