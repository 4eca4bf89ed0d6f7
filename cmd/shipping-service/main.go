package main

import (
	"os"

	"fulfillment/internal/api"
	"fulfillment/internal/app"
	"fulfillment/internal/broker"
	"fulfillment/internal/httpclient"
	"fulfillment/internal/service"
	"fulfillment/internal/store"
	"fulfillment/internal/store/memstore"
	"fulfillment/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	a := app.New("shipping-service", "5003")
	cfg := a.Config

	var shipments service.ShipmentStore
	switch cfg.Store.Driver {
	case "memory":
		shipments = memstore.NewShipments()
		a.Logger.Info("Using in-memory shipment store")
	default:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			a.Logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		a.OnShutdown(db.Close)
		shipments = db
		a.Logger.Info("Database connected")
	}

	orders := service.NewOrderClient(httpclient.NewClient(cfg.Services.OrderURL, cfg.Services.HTTPClientTimeout))
	shipping := service.NewShippingService(shipments, orders)

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	a.OnShutdown(consumer.Close)
	listener := worker.NewShipmentListener(consumer, shipping)

	router := gin.New()
	api.NewShippingHandler(shipping).SetupRoutes(router)

	if err := a.Run(router, listener.Start); err != nil {
		os.Exit(1)
	}
}
