package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/mindwatch-data/engagement.report/internal/api"
	"github.com/mindwatch-data/engagement.report/internal/config"
	"github.com/mindwatch-data/engagement.report/internal/db"
	"github.com/mindwatch-data/engagement.report/internal/engagement/storage/sqlite"
	"github.com/mindwatch-data/engagement.report/internal/monitoring"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbPath        = flag.String("db", "engagement.db", "Path to sqlite database")
	migrationsDir = flag.String("migrations", "db/migrations", "Path to migrations directory")
	configPath    = flag.String("config", "", "Path to tuning config JSON (default: bundled defaults)")
	devMode       = flag.Bool("dev", false, "Run in dev mode")
)

func loadTuning() *config.TuningConfig {
	if *configPath != "" {
		cfg, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		return cfg
	}
	return config.MustLoadDefaultConfig()
}

func main() {
	// .env is optional; real config comes from flags and the tuning file
	_ = godotenv.Load()

	flag.Parse()

	if len(flag.Args()) > 0 && flag.Args()[0] == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], *dbPath, *migrationsDir)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning := loadTuning()

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}
	if err := database.CheckMigrations(*migrationsDir); err != nil {
		log.Fatalf("Schema check failed after migration: %v", err)
	}

	store := sqlite.NewSessionStore(database.DB)
	metrics := monitoring.NewMetrics()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		database.AttachAdminRoutes(mux)

		mux.Handle("/metrics", metrics.Handler())

		apiServer := api.NewServer(store, tuning, metrics)
		mux.Handle("/", api.LoggingMiddleware(apiServer.ServeMux()))

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			log.Printf("listening on %s (dev=%v)", *listen, *devMode)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
