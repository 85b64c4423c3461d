package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"broadphase/internal/api"
	"broadphase/internal/config"
	"broadphase/internal/sim"
)

func main() {
	// Load .env from the parent directory, then the current one
	if err := godotenv.Load("../.env"); err != nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🧊 ================================")
	log.Println("🧊  BROADPHASE - SPATIAL HASH WORLD")
	log.Println("🧊 ================================")

	appConfig := config.Load()
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("❌ %v", err)
	}
	simCfg := appConfig.Sim
	spatialCfg := appConfig.Spatial

	log.Printf("🌐 World: %.0fx%.0f at %d TPS", simCfg.WorldWidth, simCfg.WorldHeight, simCfg.TickRate)
	log.Printf("🧮 Grid: cell size %.1f, clamp=%v", spatialCfg.CellSize, spatialCfg.ClampToWorld)
	log.Printf("🛡️ Limits: bodies=%d batch=%d query=%d",
		appConfig.Limits.MaxBodies, appConfig.Limits.MaxBatch, appConfig.Limits.MaxQueryResults)

	worldCfg := sim.ConfigFromApp(appConfig)
	worldCfg.Metrics = api.NewPrometheusCollector()

	world, err := sim.NewWorld(worldCfg)
	if err != nil {
		log.Fatalf("❌ Failed to create world: %v", err)
	}
	world.SetTickObserver(func(r sim.TickReport) {
		api.ObserveTick(r)
		api.UpdateEventLogStats(world.EventLogStats())
	})

	if err := world.StartEventLog(appConfig.Debug.EventLog); err != nil {
		log.Printf("⚠️ Event log disabled: %v", err)
	} else if appConfig.Debug.EventLog != "" {
		log.Printf("📝 Event log: %s", appConfig.Debug.EventLog)
	}

	if err := api.StartDebugServer(appConfig.Debug); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	if n := simCfg.SpawnCount; n > 0 {
		log.Printf("✨ Spawned %d bodies", world.SpawnRandom(n))
	}
	world.Start()

	server := api.NewServer(world, appConfig.Server)
	addr := fmt.Sprintf(":%d", appConfig.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Printf("✅ Server ready on http://localhost%s - press Ctrl+C to stop.", addr)
	if err := g.Wait(); err != nil {
		log.Printf("⚠️ Server error: %v", err)
	}

	world.Stop()
	world.StopEventLog()
	log.Println("👋 Goodbye!")
}
