// File: app/app.go
package app

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/config"
	"github.com/miguelbtcode/techmart-backend-sub002/db"
	"github.com/miguelbtcode/techmart-backend-sub002/handler"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/publisher"
	"github.com/miguelbtcode/techmart-backend-sub002/repository"
	"github.com/miguelbtcode/techmart-backend-sub002/router"
	"github.com/miguelbtcode/techmart-backend-sub002/security"
	"github.com/miguelbtcode/techmart-backend-sub002/service"
	"github.com/miguelbtcode/techmart-backend-sub002/worker"
	"github.com/redis/go-redis/v9"
)

// App holds the wired components of one process.
type App struct {
	Handler     http.Handler
	Dispatcher  *worker.OutboxDispatcher
	AuthService *service.AuthService
	UserService *service.UserService
}

// New wires repositories, services, the dispatcher and the HTTP layer over an open database.
func New(cfg config.Config, database *sql.DB, pub publisher.Publisher) (*App, error) {
	clock := common.SystemClock{}
	ids := common.UUIDGenerator{}

	hasher, err := security.NewPasswordHasher(cfg.Password.Algorithm, cfg.Password.BcryptCost)
	if err != nil {
		return nil, err
	}
	policy := cfg.TokenPolicy()
	signer := security.NewTokenSigner(policy.SigningKey, policy.Issuer, policy.AccessTTL)

	dispatcher := worker.NewOutboxDispatcher(repository.NewOutboxRepository(database), pub, clock, cfg.DispatcherPolicy())

	uow := repository.NewUnitOfWorkFactory(database, clock, ids)
	uow.OnCommit(dispatcher.Signal)

	refreshTokens := service.NewRefreshTokenService(clock, ids, policy.RefreshTTL, policy.RefreshBytes)
	authService := service.NewAuthService(uow, refreshTokens, hasher, signer, clock)
	userService := service.NewUserService(uow, refreshTokens, clock)
	outboxService := service.NewOutboxService(repository.NewOutboxRepository(database), clock, dispatcher.Signal)

	r := router.NewRouter(
		handler.NewAuthHandler(authService),
		handler.NewAdminHandler(userService, outboxService),
		handler.NewHealthHandler(database),
		signer,
	)

	return &App{
		Handler:     r,
		Dispatcher:  dispatcher,
		AuthService: authService,
		UserService: userService,
	}, nil
}

func Run() {
	config.LoadConfig(".")
	logger.Init()
	logger.SetLevel(config.AppConfig.Log.Level)
	logger.Log.Info("Logger initialized")
	logger.Log.Info("Configuration loaded successfully")

	database, err := db.Connect()
	if err != nil {
		logger.Log.Fatalf("Error connecting to the database: %v", err)
	}
	defer database.Close()

	if config.AppConfig.Database.RunMigrations {
		if err := db.Migrate(config.AppConfig.Database.MigrationsPath, db.URL()); err != nil {
			logger.Log.Fatalf("Error running database migrations: %v", err)
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var rdb *redis.Client
	if strings.EqualFold(config.AppConfig.Publisher.Driver, "redis") {
		rdb, err = db.ConnectRedis(ctx)
		if err != nil {
			logger.Log.Fatalf("Error connecting to Redis: %v", err)
		}
		defer rdb.Close()
	}

	pub, err := publisher.New(config.AppConfig, rdb)
	if err != nil {
		logger.Log.Fatalf("Error creating event publisher: %v", err)
	}
	defer pub.Close()

	application, err := New(config.AppConfig, database, pub)
	if err != nil {
		logger.Log.Fatalf("Error wiring application: %v", err)
	}

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		application.Dispatcher.Start(ctx)
	}()

	// --- Start the Server with Graceful Shutdown ---
	port := config.AppConfig.Server.Port
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: application.Handler,
	}

	go func() {
		logger.Log.Infof("Server starting on port :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Warn("Shutdown signal received. Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.AppConfig.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	stop()
	workers.Wait()

	logger.Log.Info("Server exited properly")
}
