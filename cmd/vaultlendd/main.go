package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"vaultlend/config"
	"vaultlend/dpo"
	"vaultlend/engine"
	"vaultlend/events"
	"vaultlend/models"
	"vaultlend/observability/logging"
	"vaultlend/oracle"
	"vaultlend/scheduler"
	"vaultlend/server"
)

// cycleRunner adapts the engine to the scheduler, discarding the report.
type cycleRunner struct {
	engine *engine.Engine
}

func (r cycleRunner) RunCycle(ctx context.Context) error {
	_, err := r.engine.RunCycle(ctx)
	return err
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to vaultlendd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTLEND_ENV"))
	logger := logging.Setup("vaultlendd", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	var predictor oracle.Predictor
	if cfg.Predictor.URL != "" {
		predictor = oracle.NewHTTPPredictor(oracle.PredictorConfig{
			URL:     cfg.Predictor.URL,
			Timeout: cfg.Predictor.Timeout(),
		})
	}
	valuer := oracle.New(db, oracle.Config{
		MarketMultipliers: cfg.Oracle.Multipliers(),
		Volatility:        cfg.Oracle.Volatility,
		BlendWeight:       cfg.Oracle.BlendFactor(),
	}, predictor, logger, time.Now)

	eng := engine.New(engine.Config{
		DB:      db,
		Oracle:  valuer,
		Emitter: events.LogEmitter{Logger: logger},
		Logger:  logger,
	})
	market := dpo.NewMarket(db, time.Now)

	sched := scheduler.New(scheduler.Config{
		Runner:    cycleRunner{engine: eng},
		RunHour:   cfg.Scheduler.RunHour,
		RunMinute: cfg.Scheduler.RunMinute,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sched.Start(ctx)

	srv := server.New(server.Config{Engine: eng, Market: market})
	httpServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: srv.Handler(),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("vaultlendd listening on %s", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("forcing server stop: %v", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve http: %v", err)
		}
	}
}
