package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"algopilot/internal/api"
	"algopilot/internal/config"
	"algopilot/internal/engine"
	"algopilot/internal/repository"
	"algopilot/internal/risk"
	"algopilot/internal/service"
	"algopilot/internal/strategy"
	"algopilot/internal/websocket"
	"algopilot/pkg/crypto"
	"algopilot/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(cfg.Logging.LogConfig())
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger.Logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = repository.Migrate(migrateCtx, db)
	cancelMigrate()
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Инициализация репозиториев
	accountRepo := repository.NewBrokerAccountRepository(db)
	strategyRepo := repository.NewStrategyRepository(db)
	runRepo := repository.NewStrategyRunRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	pnlRepo := repository.NewPnlRepository(db)
	riskEventRepo := repository.NewRiskEventRepository(db)
	executionStore := repository.NewExecutionStore(db)

	cipher, err := crypto.NewCipher([]byte(cfg.Security.EncryptionKey))
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	brokerService := service.NewBrokerService(accountRepo, cipher, cfg.Broker.BrokerOptions(logger), logger)

	riskEngine := risk.NewEngine(
		risk.DefaultRules(cfg.Risk, pnlRepo, positionRepo, brokerService),
		riskEventRepo,
		logger,
	)

	// WebSocket hub - получатель событий ядра
	hub := websocket.NewHub(logger)
	go hub.Run()

	processor := engine.NewProcessor(riskEngine, executionStore, orderRepo, brokerService, hub, logger, cfg.Engine.ProcessorConfig())
	supervisor := engine.NewSupervisor(runRepo, strategyRepo, strategy.DefaultRegistry(), processor, brokerService, hub, logger, cfg.Engine.SupervisorConfig())
	syncer := engine.NewOrderSyncer(orderRepo, executionStore, runRepo, brokerService, hub, logger, cfg.Engine.OrderSyncConfig())

	// Запуски, оставшиеся running после падения процесса, помечаются error
	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 30*time.Second)
	orphaned, err := supervisor.RecoverOrphanedRuns(recoverCtx)
	cancelRecover()
	if err != nil {
		return fmt.Errorf("recover runs: %w", err)
	}
	if orphaned > 0 {
		logger.Warn("orphaned runs marked as error", zap.Int("count", orphaned))
	}

	syncCtx, stopSync := context.WithCancel(context.Background())
	defer stopSync()
	go syncer.Run(syncCtx)

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		BrokerService:    brokerService,
		StrategyService:  service.NewStrategyService(strategyRepo, runRepo, accountRepo, strategy.DefaultRegistry(), supervisor, logger),
		OrderService:     service.NewOrderService(orderRepo, syncer),
		PortfolioService: service.NewPortfolioService(tradeRepo, positionRepo, pnlRepo, runRepo),
		RiskService:      service.NewRiskService(riskEventRepo, cfg.Risk, riskEngine.Rules()),
		Hub:              hub,
		WSOrigins:        websocket.NewOriginChecker(cfg.Security.WSOrigins),
		HealthCheck:      db.PingContext,
		APITokenHash:     cfg.Security.APITokenHash,
		CORSOrigins:      cfg.Security.CORSOrigins,
		Logger:           logger,
	}

	// HTTP сервер
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Запуск сервера в отдельной горутине
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr), zap.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 1. Перестаём принимать запросы
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// 2. Останавливаем запуски и дожидаемся фоновой отправки ордеров
	supervisor.StopAll(ctx)
	processor.Wait()

	// 3. Синхронизация и рассылка
	stopSync()
	hub.Stop()

	return nil
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
