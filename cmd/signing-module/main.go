// main.go — точка входа Signing Module.
// SharePoint add-in, отправляющий документы списка на электронную подпись
// провайдеру и загружающий подписанный результат обратно в список.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/signing-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/signing-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/signing-module/internal/config"
	"github.com/bigkaa/goartstore/signing-module/internal/database"
	"github.com/bigkaa/goartstore/signing-module/internal/repository"
	"github.com/bigkaa/goartstore/signing-module/internal/server"
	"github.com/bigkaa/goartstore/signing-module/internal/service"
	"github.com/bigkaa/goartstore/signing-module/internal/session"
	"github.com/bigkaa/goartstore/signing-module/internal/sharepoint"
	"github.com/bigkaa/goartstore/signing-module/internal/signicat"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Signing Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("signicat_env", cfg.SignicatEnv),
	)

	if cfg.SessionSecret == "" {
		logger.Warn("SM_SESSION_SECRET не задан, cookie не переживут рестарт и не читаются другими экземплярами")
	}

	ctx := context.Background()

	// 3. PostgreSQL (опционально): миграции, пул, репозиторий сессий
	var (
		pool        *pgxpool.Pool
		pgDB        *sql.DB
		sessionRepo repository.SigningSessionRepository
	)
	if cfg.DatabaseEnabled() {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		sessionRepo = repository.NewSigningSessionRepository(pool)
	} else {
		logger.Warn("PostgreSQL не настроен (SM_DB_HOST), signing-сессии хранятся в памяти экземпляра")
	}

	// 4. Клиенты внешних сервисов
	spClient, err := sharepoint.NewClient(cfg.SPTimeout, cfg.SPCACertPath, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента SharePoint", slog.String("error", err.Error()))
		os.Exit(1)
	}

	signicatClient, err := signicat.New(cfg.SignicatEndpoint, cfg.SignicatService, cfg.SignicatPassword,
		cfg.SignicatCACertPath, cfg.SignicatTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента Document Service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Аутентификация SharePoint add-in: context token и ACS
	validator, err := sharepoint.NewContextTokenValidator(cfg.SPClientID, cfg.SPClientSecret, cfg.SPJWKSURL,
		spClient.HTTPClient(), cfg.SPTokenLeeway, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора context token", slog.String("error", err.Error()))
		os.Exit(1)
	}
	tokenClient := sharepoint.NewTokenClient(spClient.HTTPClient(), cfg.SPACSURL, cfg.SPClientSecret,
		cfg.SessionCacheSize, logger)

	cookies, err := session.NewCookieManager(cfg.SessionSecret, cfg.CookieSecure, cfg.SessionTTL)
	if err != nil {
		logger.Error("Ошибка создания менеджера cookie", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Сервисный слой
	sessions := service.NewSessionStore(sessionRepo, cfg.SessionCacheSize, cfg.SessionTTL, logger)

	var inspector service.DocumentInspector
	if cfg.ValidatePDF {
		inspector = service.NewPDFInspector()
	}

	signingSvc := service.NewSigningService(validator, tokenClient, spClient, signicatClient, sessions, inspector,
		service.SigningOptions{
			Request: service.RequestOptions{
				Service:  cfg.SignicatService,
				Password: cfg.SignicatPassword,
				Profile:  cfg.SignicatProfile,
				Language: cfg.SignicatLanguage,
			},
			Environment: cfg.SignicatEnv,
			Product:     cfg.SignicatProduct,
			SignText:    cfg.SignText,
			Methods:     cfg.SigningMethods,
		}, logger)

	// 7. Фоновые задачи: очистка истёкших сессий в PostgreSQL
	var sweeper *service.SessionSweeper
	if sessions.Persistent() {
		sweeper = service.NewSessionSweeper(sessions, cfg.SessionCleanupInterval, logger)
		sweeper.Start(ctx)
	}

	// 8. topologymetrics — мониторинг зависимостей (Document Service + PostgreSQL)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:         "signing-module",
		Group:             cfg.DephealthGroup,
		SignatureEndpoint: signicatClient.Endpoint(),
		DB:                pgDB,
		PGConnURL:         cfg.DatabaseURL(),
		CheckInterval:     cfg.DephealthCheckInterval,
		IsEntry:           cfg.DephealthIsEntry,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 9. HTTP-обработчики
	var pgChecker handlers.ReadinessChecker
	if pool != nil {
		pgChecker = database.NewReadinessChecker(pool)
	}
	var depChecker handlers.ReadinessChecker
	if dephealthSvc != nil {
		depChecker = dephealthSvc
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, depChecker)
	homeHandler := handlers.NewHomeHandler(signingSvc, validator, cookies, cfg.PublicURL, logger)

	router := server.NewRouter(homeHandler, healthHandler,
		middleware.SharePointContext(cookies, cfg.SPClientID, cfg.PublicURL, logger),
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	// 10. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, router)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if sweeper != nil {
		sweeper.Stop()
	}

	logger.Info("Signing Module остановлен")
}
