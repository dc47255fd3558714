// @title           Hyperlocal Orders API
// @version         1.0
// @description     Order placement and tracking for hyperlocal delivery.
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	_ "github.com/MikeMC777/hyperlocal-delivery/docs"
	"github.com/MikeMC777/hyperlocal-delivery/internal/auth"
	"github.com/MikeMC777/hyperlocal-delivery/internal/config"
	"github.com/MikeMC777/hyperlocal-delivery/internal/httpx"
	"github.com/MikeMC777/hyperlocal-delivery/internal/logging"
	ord "github.com/MikeMC777/hyperlocal-delivery/internal/order"
	"github.com/MikeMC777/hyperlocal-delivery/internal/pricing"
	"github.com/MikeMC777/hyperlocal-delivery/internal/telemetry"
)

func newRouter(svc *ord.Service, authn auth.Authenticator, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger(log))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/orders", httpx.RequireAuth(authn))
	api.POST("", createOrderHandler(svc))
	api.GET("", listMyOrdersHandler(svc))
	api.GET("/:id", getOrderHandler(svc))
	api.PUT("/:id/status", updateOrderStatusHandler(svc))
	return r
}

// openRepo picks the order store named by STORE_DRIVER. The returned func
// releases the connection.
func openRepo(ctx context.Context, cfg config.Config, log *zap.Logger) (ord.Repository, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("pgxpool: %w", err)
		}
		repo := ord.NewPGRepo(pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return repo, pool.Close, nil
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		repo := ord.NewMongoRepo(client.Database(cfg.MongoDB))
		if err := repo.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return repo, closeFn, nil
	case "memory":
		log.Warn("using in-memory order store; orders are lost on restart")
		return ord.NewMemoryRepo(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

func openSequencer(ctx context.Context, cfg config.Config) (ord.Sequencer, func(), error) {
	if cfg.RedisURL == "" {
		return ord.NewLocalSequencer(time.Now().Unix() % 1000000 * 100), func() {}, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return ord.NewRedisSequencer(rdb, ""), func() { _ = rdb.Close() }, nil
}

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	cfg.Log(log)
	if err := cfg.RequireSecret(); err != nil {
		log.Fatal("auth", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup("order-service", cfg.TracingEnabled, os.Stdout)
	if err != nil {
		log.Fatal("tracing", zap.Error(err))
	}

	bootCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	repo, closeRepo, err := openRepo(bootCtx, cfg, log)
	if err != nil {
		cancel()
		log.Fatal("order store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeRepo()
	seq, closeSeq, err := openSequencer(bootCtx, cfg)
	cancel()
	if err != nil {
		log.Fatal("order number sequence", zap.Error(err))
	}
	defer closeSeq()

	policy, err := pricing.NewPolicy(cfg.FreeDeliveryThreshold, cfg.FlatDeliveryFee, cfg.PricingFile)
	if err != nil {
		log.Fatal("pricing", zap.Error(err))
	}

	opts := ord.Options{
		Pricing:           policy,
		Sequencer:         seq,
		Logger:            log.Named("order"),
		EstimatedDelivery: cfg.EstimatedDelivery,
	}
	if cfg.ValidatePrices {
		opts.Prices = ord.NewExt(cfg.ProductSvcBaseURL)
	}
	svc := ord.NewService(repo, opts)

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := newRouter(svc, auth.NewJWTAuthenticator(cfg.JWTSecret), log)
	srv := &http.Server{
		Addr:              cfg.OrderSvcAddr,
		Handler:           otelhttp.NewHandler(r, "order-service"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.OrderGRPCAddr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", cfg.OrderGRPCAddr), zap.Error(err))
	}
	gs := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		if err := gs.Serve(lis); err != nil {
			log.Error("grpc health server", zap.Error(err))
		}
	}()
	go func() {
		log.Info("order-service listening", zap.String("addr", cfg.OrderSvcAddr), zap.String("grpc", cfg.OrderGRPCAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	gs.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown", zap.Error(err))
	}
}
