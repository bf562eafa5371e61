package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"socialauth/cfg"
	_ "socialauth/cmd/oauth2/docs" // swagger docs
	"socialauth/pkg/cache"
	"socialauth/pkg/idgen"
	"socialauth/pkg/logger"
	"socialauth/pkg/oauth2"
	"socialauth/pkg/telemetry"
)

// @title        Social Login API
// @version      1.0
// @description  OAuth 2.0 login through LINE, Google and Facebook.
// @BasePath     /
func main() {
	// ============
	// config
	// ============
	config, errCfg := cfg.Load()
	if errCfg != nil {
		log.Fatal(errCfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ============
	// logger
	// ============
	zlogger := logger.NewZeroLog(config.AppEnv)

	// ============
	// Otel
	// ============
	shutdownOtel, err := telemetry.Init(ctx, &config.Observability, zlogger)
	if err != nil {
		log.Fatalf("failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(ctx); err != nil {
			zlogger.Error("failed to shutdown OpenTelemetry", logger.Err(err))
		}
	}()

	// ============
	// Session store
	// ============
	store, states, err := newStores(ctx, config, zlogger)
	if err != nil {
		log.Fatal(err)
	}

	// ============
	// Oauth2
	// ============
	ids, err := idgen.NewSnowflakeGenerator(config.SnowflakeNodeID)
	if err != nil {
		log.Fatal(err)
	}

	oauth2mgr, err := oauth2.NewManagerFromConfig(&config.OAuth2, store,
		oauth2.WithLogger(zlogger),
		oauth2.WithIDGenerator(ids),
		oauth2.WithStateStorage(states),
	)
	if err != nil {
		log.Fatal(err)
	}
	if len(oauth2mgr.ListProviders()) == 0 {
		zlogger.Warn("no login provider configured")
	}

	// ============
	// HTTP
	// ============
	if config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(config.Observability.ServiceName))
	r.Use(telemetry.RequestLogger(zlogger))

	if len(config.CORSAllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = config.CORSAllowedOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", telemetry.RequestIDHeader}
		corsConfig.ExposeHeaders = []string{telemetry.RequestIDHeader}
		r.Use(cors.New(corsConfig))
	}

	r.Use(oauth2.NewAmbientSessionMiddleware([]byte(config.Session.Secret), config.AppEnv == "production"))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		html := `<!DOCTYPE html>
<html>
<head>
    <title>API Documentation</title>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
    <script id="api-reference" data-url="/swagger/doc.json"></script>
    <script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>`
		c.String(http.StatusOK, html)
	})

	handler := oauth2.NewHandler(oauth2mgr, oauth2.HandlerConfig{
		PublicBaseURL: config.PublicBaseURL,
		FrontendURL:   config.FrontendURL,
	}, zlogger)
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + config.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlogger.Info("server started", logger.Field{Key: "addr", Value: srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlogger.Error("server stopped", logger.Err(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlogger.Error("failed to shutdown server", logger.Err(err))
	}
}

// newStores picks the AuthSession backend named by SESSION_STORE. Issued login
// states share its cache so every instance sees them.
func newStores(ctx context.Context, config *cfg.Config, log logger.Logger) (oauth2.SessionStore, oauth2.StateStorage, error) {
	switch config.Session.Store {
	case "redis":
		c := cache.NewRedisCache(cache.RedisOptions{
			Addr:     config.Redis.Addr(),
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := cache.Ping(pingCtx, c); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Redis.Addr(), err)
		}
		log.Info("session store: redis", logger.Field{Key: "addr", Value: config.Redis.Addr()})
		return oauth2.NewCacheSessionStore(c), oauth2.NewCacheStateStorage(c), nil
	case "cache":
		log.Info("session store: in-process cache")
		c := cache.NewMemoryCache(time.Minute)
		return oauth2.NewCacheSessionStore(c), oauth2.NewCacheStateStorage(c), nil
	default:
		log.Info("session store: memory")
		return oauth2.NewInMemorySessionStore(), oauth2.NewCacheStateStorage(cache.NewMemoryCache(time.Minute)), nil
	}
}
