package main

import (
	"os"

	"fulfillment/internal/api"
	"fulfillment/internal/app"
	"fulfillment/internal/service"
	"fulfillment/internal/store"
	"fulfillment/internal/store/memstore"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	a := app.New("inventory-service", "5001")
	cfg := a.Config

	var ledger service.LedgerStore
	switch cfg.Store.Driver {
	case "memory":
		ledger = memstore.NewLedger()
		a.Logger.Info("Using in-memory ledger")
	default:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			a.Logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		a.OnShutdown(db.Close)
		ledger = db
		a.Logger.Info("Database connected")
	}

	router := gin.New()
	api.NewInventoryHandler(service.NewInventoryService(ledger)).SetupRoutes(router)

	if err := a.Run(router); err != nil {
		os.Exit(1)
	}
}
