package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"outlay/internal/amqp"
	"outlay/internal/cache"
	"outlay/internal/config"
	"outlay/internal/fx"
	apphttp "outlay/internal/http"
	"outlay/internal/identity"
	applog "outlay/internal/log"
	"outlay/internal/notify"
	"outlay/internal/objstore"
	"outlay/internal/receipts"
	"outlay/internal/services"
	"outlay/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		// A missing .env is normal outside development.
		slog.Debug("No .env file loaded", "error", err)
	}

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open database", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	hub := notify.NewHub()
	defer hub.Close()

	store, diskStore, err := buildReceiptStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize receipt storage", "error", err, "backend", cfg.ReceiptBackend)
		os.Exit(1)
	}
	resolver := receipts.NewResolver(store)

	caches := cache.NewManager()
	caches.Register(resolver)
	caches.StartCleanup(cfg.CacheCleanupInterval)
	defer caches.Stop()

	var publisher services.ChangePublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Error("Failed to connect to AMQP", "error", err, "exchange", cfg.AMQPExchange)
			os.Exit(1)
		}
		publisher = client
		logger.Info("Change events flow through AMQP", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("No AMQP configured, change events stay in-process")
	}

	svc := services.NewExpenseService(repo, hub, publisher, store)
	defer svc.Close()

	ident := identity.NewSessionProvider()
	registry := apphttp.NewRegistry(repo, hub)
	ident.OnChange(func(user string, signedIn bool) {
		if !signedIn {
			registry.Release(user)
		}
	})

	converter := fx.NewConverterWithOverrides(cfg.FXRates)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Views:          registry,
		Expenses:       svc,
		Resolver:       resolver,
		Identity:       ident,
		Converter:      converter,
		Logger:         logger,
		ReceiptStore:   diskStore,
		TrustedProxies: cfg.TrustedProxies,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 0 // the event stream stays open indefinitely
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting outlay server", applog.FieldOperation, applog.OpStartup, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.AMQPURL != "" {
		g.Go(func() error {
			err := amqp.ConsumeWithReconnect(gctx, cfg.AMQPURL, cfg.AMQPExchange, func(msg *amqp.RecordChangeMessage) error {
				hub.Publish(msg.Event())
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received", applog.FieldOperation, applog.OpShutdown)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

// buildReceiptStore picks the storage backend. The disk store is returned
// separately because the HTTP layer serves its objects directly.
func buildReceiptStore(ctx context.Context, cfg *config.Config) (objstore.Store, *objstore.DiskStore, error) {
	switch cfg.ReceiptBackend {
	case "gcs":
		store, err := objstore.NewGCSFromEnv(ctx, cfg.ReceiptBucket)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		store, err := objstore.NewDiskStore(cfg.ReceiptDir, []byte(cfg.ReceiptSigningKey))
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
}
