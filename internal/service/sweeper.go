// sweeper.go — фоновая очистка истёкших signing-сессий в PostgreSQL.
// Запускается горутиной с тикером SM_SESSION_CLEANUP_INTERVAL.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики очистки.
var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_session_sweep_runs_total",
		Help: "Общее количество запусков очистки signing-сессий.",
	})
	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_session_sweep_deleted_total",
		Help: "Общее количество удалённых истёкших signing-сессий.",
	})
)

// SessionSweeper — фоновая очистка истёкших сессий.
type SessionSweeper struct {
	store    *SessionStore
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionSweeper создаёт сервис очистки.
func NewSessionSweeper(store *SessionStore, interval time.Duration, logger *slog.Logger) *SessionSweeper {
	return &SessionSweeper{
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "session_sweeper")),
	}
}

// Start запускает фоновую горутину очистки.
func (s *SessionSweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Очистка signing-сессий запущена",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает очистку и дожидается завершения горутины.
func (s *SessionSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Очистка signing-сессий остановлена")
}

// run — основной цикл фоновой горутины.
func (s *SessionSweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce удаляет сессии, истёкшие к текущему моменту.
// Возвращает количество удалённых.
func (s *SessionSweeper) RunOnce(ctx context.Context) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	sweepRunsTotal.Inc()

	n, err := s.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("Ошибка очистки signing-сессий", slog.String("error", err.Error()))
		return 0
	}

	sweepDeletedTotal.Add(float64(n))
	if n > 0 {
		s.logger.Info("Истёкшие signing-сессии удалены", slog.Int64("deleted", n))
	}
	return n
}
