// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Signing Module мониторит:
//   - Document Service провайдера подписи — HTTP checker к SOAP endpoint (critical)
//   - PostgreSQL — SQL checker через существующий pgxpool (только если БД настроена)
//
// SharePoint не мониторится: адрес сайта приходит в каждом запросе от пользователя,
// ошибки обрабатываются в момент вызова.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа (signing-module)
	ServiceID string
	// Group — группа в метриках (SM_DEPHEALTH_GROUP)
	Group string
	// SignatureEndpoint — SOAP endpoint Document Service
	SignatureEndpoint string
	// DB — *sql.DB из pgxpool (nil — PostgreSQL не мониторится)
	DB *sql.DB
	// PGConnURL — URL PostgreSQL для лейблов метрик
	PGConnURL string
	// CheckInterval — интервал проверки (SM_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// IsEntry — лейбл isentry=yes (DEPHEALTH_ISENTRY)
	IsEntry bool
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	cfg DephealthConfig,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	endpoint, err := url.Parse(cfg.SignatureEndpoint)
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("некорректный endpoint Document Service %q", cfg.SignatureEndpoint)
	}

	// SOAP endpoint отвечает на GET (WSDL или 405), проверяется сам путь
	sigDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(cfg.SignatureEndpoint),
		dephealth.WithHTTPHealthPath(endpoint.Path + "?wsdl"),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	}
	if endpoint.Scheme == "https" {
		sigDepOpts = append(sigDepOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	if cfg.IsEntry {
		sigDepOpts = append(sigDepOpts, dephealth.WithLabel("isentry", "yes"))
	}

	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		dephealth.HTTP("signature-service", sigDepOpts...),
	)

	if cfg.DB != nil {
		pgDepOpts := []dephealth.DependencyOption{
			dephealth.FromURL(cfg.PGConnURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		}
		if cfg.IsEntry {
			pgDepOpts = append(pgDepOpts, dephealth.WithLabel("isentry", "yes"))
		}
		// PostgreSQL — connection pool mode через существующий pgxpool
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)), pgDepOpts...))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// CheckReady реализует ReadinessChecker: degraded, если хотя бы одна
// зависимость недоступна. Модуль продолжает принимать запросы:
// ошибки внешних сервисов возвращаются пользователю как 502.
func (ds *DephealthService) CheckReady() (status string, message string) {
	var down []string
	for name, ok := range ds.dh.Health() {
		if !ok {
			down = append(down, name)
		}
	}
	if len(down) > 0 {
		slices.Sort(down)
		return "degraded", "недоступны: " + strings.Join(down, ", ")
	}
	return "ok", ""
}
