package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/fitfinder/internal/api"
	"github.com/timmy/fitfinder/internal/api/handler"
	"github.com/timmy/fitfinder/internal/api/middleware"
	"github.com/timmy/fitfinder/internal/categorize"
	"github.com/timmy/fitfinder/internal/config"
	"github.com/timmy/fitfinder/internal/logger"
	"github.com/timmy/fitfinder/internal/repository"
	"github.com/timmy/fitfinder/internal/service"
	"github.com/timmy/fitfinder/internal/source"
	"github.com/timmy/fitfinder/internal/source/catalogdir"
	"github.com/timmy/fitfinder/internal/storage"
	"github.com/timmy/fitfinder/internal/vision"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "fitfinder-api",
		File:        cfg.Log.File,
		FileOnly:    cfg.Log.FileOnly,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	ctx := appLogger.WithContext(context.Background())

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

	sessionRepo := repository.NewSessionRepository(db)
	productRepo := repository.NewProductRepository(db)

	detector := vision.NewDetectionClient(&vision.DetectorConfig{
		ClientConfig:  clientConfig(cfg.Detection.ClientConfig, appLogger),
		Prompt:        cfg.Detection.Prompt,
		MinConfidence: cfg.Detection.MinConfidence,
	})

	probes := map[string]handler.Probe{
		"detector": detector.Health,
		"storage":  objectStorage.Ping,
	}

	var (
		searcher service.SimilaritySearcher
		embedder *vision.EmbeddingClient
		vectors  *repository.ProductVectorRepository
	)
	switch cfg.Similarity.Provider {
	case "qdrant":
		embedder = vision.NewEmbeddingClient(&vision.EmbeddingConfig{
			ClientConfig: clientConfig(cfg.Embedding.ClientConfig, appLogger),
			Model:        cfg.Embedding.Model,
			Dimensions:   cfg.Embedding.Dimensions,
		})
		vectors, err = repository.NewProductVectorRepository(&repository.QdrantConnectionConfig{
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
		searcher = vision.NewQdrantSearcher(embedder, vectors, vision.QdrantConfig{
			TopK:       cfg.Similarity.TopK,
			Timeout:    cfg.Similarity.Timeout,
			RetryCount: cfg.Similarity.RetryCount,
			RetryWait:  cfg.Similarity.RetryWait,
		})
		probes["qdrant"] = vectors.Ping
	default:
		dino := vision.NewDINOClient(&vision.DINOConfig{
			ClientConfig: clientConfig(cfg.Similarity.ClientConfig, appLogger),
			Index:        cfg.Similarity.Index,
			TopK:         cfg.Similarity.TopK,
			Scale:        cfg.Similarity.Scale,
		})
		searcher = dino
		probes["visual_search"] = func(ctx context.Context) error {
			_, err := dino.ListIndexes(ctx)
			return err
		}
	}

	orchestrator := service.NewOrchestrator(
		sessionRepo,
		objectStorage,
		detector,
		searcher,
		newCategorizer(cfg.Categorizer),
		productRepo,
		service.OrchestratorConfig{
			SessionTTL:     cfg.Session.TTL,
			UploadPrefix:   cfg.Storage.UploadPrefix,
			MaskPrefix:     cfg.Detection.MaskPrefix,
			MaxUploadBytes: cfg.Server.MaxUploadBytes(),
			TopK:           cfg.Similarity.TopK,
		},
	)

	// Without a local vector index the catalog only stores rows and images.
	var catalog *service.CatalogService
	if embedder != nil {
		catalog = service.NewCatalogService(productRepo, objectStorage, embedder, vectors, service.CatalogConfig{})
	} else {
		catalog = service.NewCatalogService(productRepo, objectStorage, nil, nil, service.CatalogConfig{})
	}

	router := api.SetupRouter(appLogger, api.Handlers{
		Search:  handler.NewSearchHandler(orchestrator, cfg.Server.MaxUploadBytes()),
		Product: handler.NewProductHandler(catalog, cfg.Server.MaxUploadBytes()),
		Health:  handler.NewHealthHandler(probes, 5*time.Second),
		Admin: handler.NewAdminHandler(catalog, map[string]source.Source{
			"catalog": catalogdir.NewAdapter(cfg.Catalog.Path),
		}),
	}, api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		Session: middleware.SessionConfig{
			CookieName: cfg.Session.CookieName,
			Secure:     cfg.Session.CookieSecure,
			MaxAge:     cfg.Session.TTL,
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":     cfg.Server.Port,
			"mode":     cfg.Server.Mode,
			"provider": cfg.Similarity.Provider,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

func clientConfig(c config.ClientConfig, log *logger.Logger) vision.ClientConfig {
	return vision.ClientConfig{
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Timeout:    c.Timeout,
		RetryCount: c.RetryCount,
		RetryWait:  c.RetryWait,
		Logger:     log,
	}
}

func newCategorizer(c config.CategorizerConfig) *categorize.Categorizer {
	vocab := categorize.DefaultVocabulary()
	if len(c.TopKeywords) > 0 {
		vocab.Top = c.TopKeywords
	}
	if len(c.BottomKeywords) > 0 {
		vocab.Bottom = c.BottomKeywords
	}
	return categorize.New(vocab)
}
