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
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/tazhibayda/identity-service/docs"
	"github.com/tazhibayda/identity-service/internal/auth"
	"github.com/tazhibayda/identity-service/internal/clock"
	"github.com/tazhibayda/identity-service/internal/config"
	api "github.com/tazhibayda/identity-service/internal/http"
	"github.com/tazhibayda/identity-service/internal/log"
	"github.com/tazhibayda/identity-service/internal/oauth"
	"github.com/tazhibayda/identity-service/internal/queue"
	"github.com/tazhibayda/identity-service/internal/repo"
	"github.com/tazhibayda/identity-service/internal/repo/memory"
	"github.com/tazhibayda/identity-service/internal/repo/mongo"
	"github.com/tazhibayda/identity-service/internal/repo/postgres"
	"github.com/tazhibayda/identity-service/internal/security"
	"github.com/tazhibayda/identity-service/internal/tokens"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// cachedTokenStore puts the Redis cache in front of the token half of a store.
type cachedTokenStore struct {
	*repo.CachedTokens
	repo.CredentialStore
}

// @title Identity API
// @version 0.1.0
// @description Local (email/password) and external (identity provider) sign-up and sign-in.
// @schemes http https
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	_ = godotenv.Load() // .env is optional

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := log.Must(cfg.Env)
	defer logger.Sync()

	if cfg.DDEnabled {
		tracer.Start(tracer.WithService(cfg.DDService), tracer.WithEnv(cfg.Env))
		defer tracer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if cfg.UserSecretKey == "" {
		logger.Warn("USER_SECRET_KEY is empty, using a random key for this process")
	}
	secrets, err := security.NewSecretGenerator([]byte(cfg.UserSecretKey),
		security.WithBcryptCost(cfg.BcryptCost),
		security.WithMinPasswordLength(cfg.PasswordMinLength),
	)
	if err != nil {
		logger.Fatal("secret generator", zap.Error(err))
	}

	store, err := openStore(ctx, cfg, secrets)
	if err != nil {
		logger.Fatal("store init failed", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer store.Close(context.Background())

	var tokenStore tokens.Store = store
	if cfg.RedisAddr != "" {
		rdb := repo.NewRedis(cfg.RedisAddr)
		if err := rdb.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, token cache disabled", zap.Error(err))
			_ = rdb.Close()
		} else {
			defer rdb.Close()
			cache := repo.NewCachedTokens(store, rdb, cfg.TokenCacheTTL, clock.System{}, logger)
			tokenStore = cachedTokenStore{CachedTokens: cache, CredentialStore: store}
		}
	}

	var pub queue.Publisher = queue.NewNoop()
	if cfg.RabbitURL != "" {
		rp, err := queue.NewRabbit(cfg.RabbitURL, cfg.EventsExchange)
		if err != nil {
			logger.Fatal("rabbit publisher init failed", zap.Error(err))
		}
		pub = rp
	}
	defer pub.Close()

	if cfg.UserInfoURL == "" {
		logger.Warn("no identity provider configured, external sign-in will fail")
	}
	verifier := oauth.NewVerifier(oauth.Options{
		UserInfoURL: cfg.UserInfoURL,
		Timeout:     cfg.ProviderTimeout,
		MaxAttempts: cfg.ProviderMaxAttempts,
		Backoff:     cfg.ProviderBackoff,
		Log:         logger,
	})

	model := auth.NewModel(auth.Deps{
		Store:    store,
		Tokens:   tokens.NewService(tokenStore, secrets, logger),
		Verifier: verifier,
		Policy:   secrets,
		Clock:    clock.System{},
		Events:   pub,
		Log:      logger,
	})

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	docs.SwaggerInfo.BasePath = "/"

	h := api.NewHandler(model, store, logger)
	r := api.NewRouter(h, cfg.DDService)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins(),
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		})(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe() }()

	logger.Info("identity-service listening", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	case err := <-srvErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config, secrets repo.SecretSource) (repo.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return postgres.New(db, secrets), nil
	case config.DriverMongo:
		s, err := mongo.NewStore(ctx, cfg.MongoURI, cfg.MongoDB, secrets)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = s.Close(context.Background())
			return nil, err
		}
		return s, nil
	default:
		return memory.New(secrets), nil
	}
}
