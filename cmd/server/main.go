/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the clinic engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, CLINIC_* environment, flags)
  2. Initialize SQLite store and the session registry
  3. Start the staff directory reconciler
  4. Seed the catalog when the store has none, and the seed staff
  5. Configure HTTP router and serve
  6. Shut down gracefully

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides CLINIC_PORT)
  -db      SQLite database path (overrides CLINIC_DB_PATH)
           Use ":memory:" for in-memory database
  -env     dotenv file to load (default: .env)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Apply queued staff updates
  4. Close database connection

EXAMPLES:
  ./server -db="./data/clinic.db"
  CLINIC_ENABLE_DEMO=true ./server -db=":memory:"
  CLINIC_REDIS_ADDR=localhost:6379 ./server -port=3000

SEE ALSO:
  - config/config.go: Environment keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hospiverse/clinic-engine/api"
	"github.com/hospiverse/clinic-engine/auth"
	"github.com/hospiverse/clinic-engine/billing"
	"github.com/hospiverse/clinic-engine/config"
	"github.com/hospiverse/clinic-engine/factory"
	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/metrics"
	"github.com/hospiverse/clinic-engine/pkg/logging"
	"github.com/hospiverse/clinic-engine/staff"
	"github.com/hospiverse/clinic-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	envFile := flag.String("env", ".env", "dotenv file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	log := logging.New(cfg.LogLevel)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var registry auth.Registry
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.WithError(err).WithField("addr", cfg.RedisAddr).Fatal("Failed to reach session registry")
		}
		registry = auth.NewRedisRegistry(rdb, "clinic:session:")
		log.WithField("addr", cfg.RedisAddr).Info("Using Redis session registry")
	}
	provider := auth.NewProvider(store, auth.ProviderOptions{
		Secret:   cfg.JWTSecret,
		TTL:      cfg.SessionTTL,
		Registry: registry,
		Logger:   log,
	})

	directory := staff.NewDirectory(store,
		provider.NewClient(auth.ClientOptions{StorageKey: "hr-provisioning"}),
		staff.Options{Logger: log, Metrics: m})
	directory.Start()

	if err := seedClinic(context.Background(), store, directory, cfg.CatalogFile, log); err != nil {
		log.WithError(err).Fatal("Failed to seed clinic")
	}

	handler := api.NewHandler(api.Deps{
		Store:          store,
		Provider:       provider,
		Staff:          directory,
		Fee:            cfg.Fee(),
		Clock:          generic.SystemClock,
		ResolveTimeout: cfg.ResolveTimeout,
		Logger:         log,
		Metrics:        m,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		EnableDemo:     cfg.EnableDemo,
		Gatherer:       reg,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"port": cfg.Port,
			"db":   cfg.DBPath,
			"demo": cfg.EnableDemo,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	handler.Close()
	directory.Close()

	log.Info("Server stopped")
}

// seedClinic loads the seed file, or the default catalog, into the store.
// Items are written only when the catalog is empty. Each staff entry is
// provisioned through the directory; an account that already exists is
// skipped.
func seedClinic(ctx context.Context, store generic.Store, dir *staff.Directory, file string, log *logging.Logger) error {
	data := []byte(factory.DefaultCatalogJSON)
	if file != "" {
		var err error
		if data, err = os.ReadFile(file); err != nil {
			return fmt.Errorf("read catalog file: %w", err)
		}
	}
	seed, err := factory.NewCatalogFactory().ParseSeed(data)
	if err != nil {
		return err
	}

	catalog := billing.NewCatalog(store)
	existing, err := catalog.ListItems(ctx)
	if err != nil {
		return err
	}
	if len(existing) == 0 && len(seed.Items) > 0 {
		if err := catalog.Seed(ctx, seed.Items); err != nil {
			return err
		}
		log.WithFields(map[string]interface{}{"items": len(seed.Items), "file": file}).Info("Catalog seeded")
	}

	for _, req := range seed.Staff {
		if _, err := dir.Create(ctx, req); err != nil {
			if errors.Is(err, generic.ErrDuplicateRecord) {
				log.WithField("email", req.Email).Debug("Seed staff member already exists")
				continue
			}
			return fmt.Errorf("seed staff %s: %w", req.Email, err)
		}
	}
	return nil
}
