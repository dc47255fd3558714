package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	_ "github.com/MikeMC777/hyperlocal-delivery/docs"
	"github.com/MikeMC777/hyperlocal-delivery/internal/config"
	"github.com/MikeMC777/hyperlocal-delivery/internal/httpx"
	"github.com/MikeMC777/hyperlocal-delivery/internal/logging"
	prod "github.com/MikeMC777/hyperlocal-delivery/internal/product"
	"github.com/MikeMC777/hyperlocal-delivery/internal/telemetry"
)

func newRouter(repo prod.Repository, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger(log))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/products/:id", getProductHandler(repo))
	r.POST("/products", createProductHandler(repo))
	r.PUT("/products/:id", updateProductHandler(repo))
	return r
}

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup("product-service", cfg.TracingEnabled, os.Stdout)
	if err != nil {
		log.Fatal("tracing", zap.Error(err))
	}

	var repo prod.Repository
	if cfg.StoreDriver == "memory" {
		log.Warn("using in-memory catalog")
		repo = prod.NewMemoryRepo()
	} else {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("pgxpool", zap.Error(err))
		}
		defer pool.Close()
		pg := prod.NewPGRepo(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
		repo = pg
	}

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.ProductSvcAddr,
		Handler:           otelhttp.NewHandler(newRouter(repo, log), "product-service"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("product-service listening", zap.String("addr", cfg.ProductSvcAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	_ = shutdownTracing(shutdownCtx)
}
