package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/fitfinder/internal/config"
	"github.com/timmy/fitfinder/internal/logger"
	"github.com/timmy/fitfinder/internal/repository"
	"github.com/timmy/fitfinder/internal/service"
	"github.com/timmy/fitfinder/internal/source/catalogdir"
	"github.com/timmy/fitfinder/internal/storage"
	"github.com/timmy/fitfinder/internal/vision"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "fitfinder-index",
	})
	logger.SetDefaultLogger(appLogger)

	dir := flag.String("dir", "", "Catalog directory (defaults to catalog.path)")
	limit := flag.Int("limit", 0, "Maximum number of products to index (0 for all)")
	workers := flag.Int("workers", 4, "Concurrent index workers")
	force := flag.Bool("force", false, "Re-index products that already exist")
	skipVectors := flag.Bool("skip-vectors", false, "Only store images and rows, skip the Qdrant index")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *dir == "" {
		*dir = cfg.Catalog.Path
	}

	appLogger.WithFields(logger.Fields{
		"dir":     *dir,
		"limit":   *limit,
		"workers": *workers,
		"force":   *force,
	}).Info("Starting catalog indexing")

	ctx, cancel := context.WithCancel(appLogger.WithContext(context.Background()))
	defer cancel()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	objectStorage, err := storage.NewStorage(&storage.Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if b, ok := objectStorage.(interface{ EnsureBucket(context.Context) error }); ok {
		if err := b.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
	}

	catalogCfg := service.CatalogConfig{Workers: *workers}
	productRepo := repository.NewProductRepository(db)

	var catalog *service.CatalogService
	if *skipVectors {
		catalog = service.NewCatalogService(productRepo, objectStorage, nil, nil, catalogCfg)
	} else {
		vectors, err := repository.NewProductVectorRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Embedding.Dimensions,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize Qdrant repository")
		}
		defer vectors.Close()
		if err := vectors.EnsureCollection(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
		}

		embedder := vision.NewEmbeddingClient(&vision.EmbeddingConfig{
			ClientConfig: vision.ClientConfig{
				BaseURL:    cfg.Embedding.BaseURL,
				APIKey:     cfg.Embedding.APIKey,
				Timeout:    cfg.Embedding.Timeout,
				RetryCount: cfg.Embedding.RetryCount,
				RetryWait:  cfg.Embedding.RetryWait,
				Logger:     appLogger,
			},
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
		catalog = service.NewCatalogService(productRepo, objectStorage, embedder, vectors, catalogCfg)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	stats, err := catalog.IndexFromSource(ctx, catalogdir.NewAdapter(*dir), *limit, &service.IndexOptions{Force: *force})
	if err != nil {
		appLogger.WithError(err).Fatal("Catalog indexing failed")
	}

	appLogger.WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
	}).Info("Catalog indexing finished")

	if stats.FailedItems > 0 {
		appLogger.Warnf("%d products failed to index", stats.FailedItems)
	}
}
