package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/brokersoft/backoffice/internal/billing"
	"github.com/brokersoft/backoffice/internal/config"
	"github.com/brokersoft/backoffice/internal/http"
	"github.com/brokersoft/backoffice/internal/ledger"
	"github.com/brokersoft/backoffice/internal/logger"
	"github.com/brokersoft/backoffice/internal/master"
	"github.com/brokersoft/backoffice/internal/position"
	"github.com/brokersoft/backoffice/internal/pricing"
	"github.com/brokersoft/backoffice/internal/repository"
	"github.com/brokersoft/backoffice/internal/repository/memory"
	"github.com/brokersoft/backoffice/internal/repository/postgres"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Environment)

	var store repository.Store
	if cfg.UseInMemoryStore {
		log.Warn("DATABASE_URL not set, using in-memory store. Data will reset on restart.")
		store = memory.New()
	} else {
		db, err := sql.Open("postgres", cfg.DBURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to postgres")
		}
		if err := db.Ping(); err != nil {
			log.WithError(err).Fatal("postgres ping failed")
		}
		store = postgres.New(db)
		defer db.Close()
		log.Info("connected to postgres")
	}

	refPrices := pricing.NewRefPriceCache(cfg.RefPriceTTL)
	poster := ledger.NewPoster(store, log)
	positions := position.NewLedger(store, refPrices, log)
	billingSvc := billing.NewService(store, poster, positions, log)
	masterSvc := master.NewService(store, log)

	router := http.Router(masterSvc, billingSvc, poster, positions, log)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Infof("brokerage back-office listening on %s", addr)
	if err := router.Run(addr); err != nil {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}
