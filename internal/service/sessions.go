// sessions.go — хранилище signing-сессий: связь request id провайдера
// с контекстом SharePoint, из которого начата подпись.
// LRU-кэш с TTL перед опциональным PostgreSQL-репозиторием.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/signing-module/internal/domain/model"
	"github.com/bigkaa/goartstore/signing-module/internal/repository"
)

// Ошибки хранилища сессий.
var (
	// ErrSessionNotFound — сессии с таким request id нет (или она истекла).
	ErrSessionNotFound = errors.New("signing-сессия не найдена")
	// ErrSessionFinished — сессия уже завершена.
	ErrSessionFinished = errors.New("signing-сессия уже завершена")
)

// Prometheus-метрики кэша сессий.
var (
	sessionCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_session_cache_hits_total",
		Help: "Общее количество попаданий в кэш signing-сессий.",
	})
	sessionCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_session_cache_misses_total",
		Help: "Общее количество промахов кэша signing-сессий.",
	})
)

// SessionStore — хранилище signing-сессий.
// Без репозитория сессии живут только в памяти экземпляра
// (callback должен прийти на тот же экземпляр).
type SessionStore struct {
	cache  *expirable.LRU[string, *model.SigningSession]
	repo   repository.SigningSessionRepository
	ttl    time.Duration
	logger *slog.Logger

	mu sync.Mutex // check-and-set статуса в режиме без БД
}

// NewSessionStore создаёт хранилище.
// repo — nil, если PostgreSQL не настроен.
// ttl — время жизни сессии (SM_SESSION_TTL).
func NewSessionStore(repo repository.SigningSessionRepository, cacheSize int, ttl time.Duration, logger *slog.Logger) *SessionStore {
	return &SessionStore{
		cache:  expirable.NewLRU[string, *model.SigningSession](cacheSize, nil, ttl),
		repo:   repo,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "session_store")),
	}
}

// TTL возвращает время жизни сессии.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Persistent сообщает, сохраняются ли сессии в PostgreSQL.
func (s *SessionStore) Persistent() bool {
	return s.repo != nil
}

// Save сохраняет новую сессию.
func (s *SessionStore) Save(ctx context.Context, sess *model.SigningSession) error {
	if s.repo != nil {
		if err := s.repo.Save(ctx, sess); err != nil {
			return fmt.Errorf("сохранение signing-сессии: %w", err)
		}
	}
	s.cache.Add(sess.RequestID, cloneSession(sess))
	return nil
}

// Get возвращает сессию по request id.
// Истёкшая сессия считается отсутствующей.
func (s *SessionStore) Get(ctx context.Context, requestID string) (*model.SigningSession, error) {
	if sess, ok := s.cache.Get(requestID); ok {
		sessionCacheHitsTotal.Inc()
		if sess.Expired(time.Now()) {
			s.logExpired(sess)
			return nil, ErrSessionNotFound
		}
		return cloneSession(sess), nil
	}
	sessionCacheMissesTotal.Inc()

	if s.repo == nil {
		return nil, ErrSessionNotFound
	}

	sess, err := s.repo.GetByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("чтение signing-сессии: %w", err)
	}
	if sess.Expired(time.Now()) {
		s.logExpired(sess)
		return nil, ErrSessionNotFound
	}

	s.cache.Add(requestID, cloneSession(sess))
	return sess, nil
}

// Finish переводит pending-сессию в completed после загрузки результата.
// Возвращает ErrSessionFinished, если сессия уже завершена другим callback.
func (s *SessionStore) Finish(
	ctx context.Context,
	requestID string,
	resultFileName *string,
	finishedAt time.Time,
) error {
	if s.repo != nil {
		if err := s.repo.Finish(ctx, requestID, resultFileName, finishedAt); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				s.cache.Remove(requestID)
				return ErrSessionFinished
			}
			return fmt.Errorf("завершение signing-сессии: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.cache.Peek(requestID)
	if !ok {
		if s.repo == nil {
			return ErrSessionNotFound
		}
		return nil
	}
	if sess.Finished() && s.repo == nil {
		return ErrSessionFinished
	}

	updated := cloneSession(sess)
	updated.Status = model.SessionCompleted
	updated.ResultFileName = resultFileName
	updated.FinishedAt = &finishedAt
	s.cache.Add(requestID, updated)
	return nil
}

// DeleteExpired удаляет истёкшие сессии из PostgreSQL.
// Кэш очищается сам по TTL.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if s.repo == nil {
		return 0, nil
	}
	n, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("удаление истёкших signing-сессий: %w", err)
	}
	return n, nil
}

// logExpired пишет в журнал callback для истёкшей сессии: результат
// остаётся у провайдера, и по request id его можно загрузить вручную.
func (s *SessionStore) logExpired(sess *model.SigningSession) {
	s.logger.Warn("Callback для истёкшей signing-сессии, результат не загружен",
		slog.String("request_id", sess.RequestID),
		slog.String("host_url", sess.HostURL),
		slog.String("list_id", sess.ListID),
		slog.String("document", sess.DocumentName),
		slog.Time("expires_at", sess.ExpiresAt),
	)
}

// cloneSession копирует сессию, чтобы вызывающий код не менял запись в кэше.
func cloneSession(sess *model.SigningSession) *model.SigningSession {
	c := *sess
	if sess.ResultFileName != nil {
		name := *sess.ResultFileName
		c.ResultFileName = &name
	}
	if sess.FinishedAt != nil {
		at := *sess.FinishedAt
		c.FinishedAt = &at
	}
	return &c
}
