package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harentsoaR/fablab-api/internal/cache"
	"github.com/harentsoaR/fablab-api/internal/config"
	"github.com/harentsoaR/fablab-api/internal/handlers"
	"github.com/harentsoaR/fablab-api/internal/logger"
	"github.com/harentsoaR/fablab-api/internal/middleware"
	"github.com/harentsoaR/fablab-api/internal/mq"
	"github.com/harentsoaR/fablab-api/internal/services"
	"github.com/harentsoaR/fablab-api/internal/storage"
	"github.com/harentsoaR/fablab-api/internal/store"
	"github.com/harentsoaR/fablab-api/internal/store/memstore"
	"github.com/harentsoaR/fablab-api/internal/store/mongostore"
	"github.com/harentsoaR/fablab-api/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("api stopped with error", zap.Error(err))
	}
	lg.Info("api stopped")
}

func run(ctx context.Context, cfg config.Config, lg *zap.Logger) error {
	// --- Store ---
	var st *store.Store
	switch cfg.StoreBackend {
	case "memory":
		lg.Warn("using in-memory store; data is lost on restart")
		st = memstore.New()
	default:
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}()
		db := client.Database(cfg.MongoDatabase)
		if err := mongostore.EnsureIndexes(ctx, db); err != nil {
			return err
		}
		st = mongostore.New(client, db, cfg.MongoTransactions)
		lg.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase), zap.Bool("transactions", cfg.MongoTransactions))
	}

	// --- Cache ---
	var c cache.Cache = cache.Noop{}
	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			lg.Warn("redis unreachable; cache will miss until it recovers", zap.Error(err))
		}
		c = cache.NewRedis(rdb, cfg.CacheTTL, lg)
	}

	// --- Object storage ---
	var objects storage.ObjectStorage
	switch cfg.StorageBackend {
	case "s3":
		objects = storage.NewS3(storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		})
	default:
		local, err := storage.NewLocal(cfg.UploadDir, cfg.PublicBaseURL)
		if err != nil {
			return err
		}
		objects = local
	}

	// --- Services ---
	tokens := utils.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	identity := services.NewIdentityService(tokens, st.Users, lg)
	catalog := services.NewCatalogService(st.Services, st.Equipment, c, lg)
	checkouts := services.NewCheckoutService(st, catalog, lg)
	notifier := services.NewNotificationService(st.Outbox)
	orders := services.NewOrderService(st, notifier, lg)
	uploads := services.NewImageUploadService(objects, lg)

	h := handlers.NewHandler(identity, catalog, checkouts, orders, uploads)

	// --- Gin Router ---
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(lg), middleware.RequestLogger(lg), middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.StorageBackend != "s3" {
		r.Static("/uploads", cfg.UploadDir)
	}
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	// --- Outbox dispatcher ---
	if cfg.RabbitURL != "" {
		pub := mq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		defer pub.Close()
		d := services.NewDispatcher(st.Outbox, pub, cfg.OutboxPollInterval, cfg.OutboxBatchSize, lg)
		g.Go(func() error { return d.Run(gctx) })
	} else {
		lg.Warn("RABBIT_URL not set; order notifications stay in the outbox")
	}

	return g.Wait()
}
