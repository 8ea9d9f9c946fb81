package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradebridge/internal/api"
	"tradebridge/internal/bots"
	"tradebridge/internal/bridge"
	"tradebridge/internal/broker"
	"tradebridge/internal/events"
	"tradebridge/internal/market"
	"tradebridge/internal/monitor"
	"tradebridge/internal/reconcile"
	"tradebridge/internal/risk"
	"tradebridge/pkg/config"
	"tradebridge/pkg/db"
	"tradebridge/pkg/jsonstore"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config load failed: %v", err)
	}
	log.Printf("🚀 Starting trade bridge on :%s (mode=%s)", cfg.Port, cfg.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ DB init failed: %v", err)
	}
	defer database.Close()
	queries := database.Queries()
	log.Printf("💾 SQLite ready at %s", cfg.DBPath)

	var store *jsonstore.Store
	if cfg.JSONPath != "" {
		store, err = jsonstore.Open(cfg.JSONPath)
		if err != nil {
			log.Fatalf("❌ JSON state init failed: %v", err)
		}
		log.Printf("💾 JSON state mirror at %s", cfg.JSONPath)
	}

	mock := broker.NewMock()
	riskMgr := risk.NewManager(risk.Limits{
		MaxExposureUSD:  cfg.MaxExposureUSD,
		MaxPositions:    cfg.MaxPositions,
		MaxOrderSizePct: cfg.MaxOrderSizePct,
	})
	registry := bots.NewRegistry(bus, cfg.MaxBotsPerUser)
	metrics := monitor.NewMetrics()

	br, err := bridge.New(bridge.Config{
		Broker:            mock,
		Risk:              riskMgr,
		Queries:           queries,
		JSONStore:         store,
		Bus:               bus,
		Registry:          registry,
		Metrics:           metrics,
		Mode:              cfg.Mode,
		QueueSize:         cfg.QueueSize,
		HeartbeatInterval: time.Duration(cfg.HeartbeatSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("❌ Bridge init failed: %v", err)
	}
	br.Start(ctx)

	// Bot fleet from config, if the file exists.
	if fleet, err := bots.LoadFleetConfig(cfg.BotsConfigPath); err == nil {
		for _, bc := range fleet.Bots {
			if !bc.IsEnabled() {
				continue
			}
			bot, err := bc.Build(br)
			if err != nil {
				log.Printf("⚠️ Skipping bot %s: %v", bc.ID, err)
				continue
			}
			if err := registry.Register(ctx, bot); err != nil {
				log.Printf("⚠️ Bot %s/%s failed to register: %v", bc.UserID, bc.ID, err)
			}
		}
		summary := registry.Summary()
		log.Printf("🤖 Bot fleet loaded: %d bots (%d active)", summary.Total, summary.Active)
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Printf("⚠️ Fleet config %s not loaded: %v", cfg.BotsConfigPath, err)
	}

	// Market data
	var feed *market.MockFeed
	if cfg.UseMockFeed {
		feed = market.NewMockFeed(cfg.Symbols, time.Second)
		feed.Start(ctx, func(symbol string, price float64, ts time.Time) {
			br.OnTick(symbol, price, ts)
		})
		log.Printf("📈 Mock feed running for %v", cfg.Symbols)
	}

	// Periodic reconciliation
	reconciler := reconcile.NewService(queries, bus)
	go reconciler.RunPeriodically(ctx, time.Minute)

	// HTTP API
	server := api.NewServer(api.Deps{
		Bus:        bus,
		Queries:    queries,
		Bridge:     br,
		Broker:     mock,
		Risk:       riskMgr,
		Registry:   registry,
		Reconciler: reconciler,
		Metrics:    metrics,
		JWTSecret:  cfg.JWTSecret,
		Meta: api.SystemMeta{
			Mode:        cfg.Mode,
			Symbols:     cfg.Symbols,
			UseMockFeed: cfg.UseMockFeed,
			Version:     "1.0.0",
		},
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("❌ API server failed: %v", err)
		}
	}()

	// Block until shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("🛑 Shutting down...")

	registry.StopAll()
	if feed != nil {
		feed.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	br.Shutdown(shutdownCtx)

	log.Println("👋 Trade bridge stopped")
}
