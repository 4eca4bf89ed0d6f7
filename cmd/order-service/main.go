package main

import (
	"os"

	"fulfillment/internal/api"
	"fulfillment/internal/app"
	"fulfillment/internal/broker"
	"fulfillment/internal/httpclient"
	"fulfillment/internal/outbox"
	"fulfillment/internal/redisclient"
	"fulfillment/internal/service"
	"fulfillment/internal/store"
	"fulfillment/internal/store/memstore"
	"fulfillment/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type orderStore interface {
	service.OrderStore
	outbox.Store
}

func main() {
	a := app.New("order-service", "5002")
	cfg := a.Config

	var orders orderStore
	switch cfg.Store.Driver {
	case "memory":
		orders = memstore.NewOrders()
		a.Logger.Info("Using in-memory order store")
	default:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			a.Logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		a.OnShutdown(db.Close)
		orders = db
		a.Logger.Info("Database connected")
	}

	var guard service.KeyGuard
	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyTTL)
		if err != nil {
			a.Logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		a.OnShutdown(redisClient.Close)
		guard = redisClient
		a.Logger.Info("Redis connected")
	} else {
		guard = memstore.NewClaims(cfg.Redis.KeyTTL)
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	a.OnShutdown(producer.Close)
	a.Logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	relay := outbox.NewRelay(orders, producer, outbox.Config{
		Interval:  cfg.Outbox.RelayInterval,
		BatchSize: cfg.Outbox.BatchSize,
		Lease:     cfg.Outbox.Lease,
	})

	inventory := service.NewInventoryClient(httpclient.NewClient(cfg.Services.InventoryURL, cfg.Services.HTTPClientTimeout))
	orderService := service.NewOrderService(orders, inventory, guard, relay, service.OrderConfig{
		PublishAttempts: cfg.Outbox.PublishAttempts,
		Lease:           cfg.Outbox.Lease,
		HoldTimeout:     cfg.Outbox.HoldTimeout,
	})
	reconciler := worker.NewReconciler(orderService, cfg.Outbox.ReconcileEvery)

	router := gin.New()
	api.NewOrderHandler(orderService).SetupRoutes(router)

	if err := a.Run(router, relay.Run, reconciler.Start); err != nil {
		os.Exit(1)
	}
}
