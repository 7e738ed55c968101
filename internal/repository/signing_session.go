package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/signing-module/internal/domain/model"
)

// sessionColumns — столбцы таблицы signing_sessions для SELECT-запросов.
const sessionColumns = `request_id, task_id, host_url, list_id, list_item_id,
	document_name, source, list_url_dir, method, status, result_file_name,
	created_at, expires_at, finished_at`

// SigningSessionRepository — интерфейс доступа к signing-сессиям.
type SigningSessionRepository interface {
	// Save сохраняет сессию (upsert по request_id).
	Save(ctx context.Context, s *model.SigningSession) error
	// GetByRequestID возвращает сессию или ErrNotFound.
	GetByRequestID(ctx context.Context, requestID string) (*model.SigningSession, error)
	// Finish переводит pending-сессию в completed.
	// Возвращает ErrNotFound, если pending-сессии с таким request_id нет.
	Finish(ctx context.Context, requestID string, resultFileName *string, finishedAt time.Time) error
	// DeleteExpired удаляет сессии с expires_at <= now. Возвращает количество удалённых.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// signingSessionRepo — реализация SigningSessionRepository через pgx.
type signingSessionRepo struct {
	db DBTX
}

// NewSigningSessionRepository создаёт репозиторий signing-сессий.
func NewSigningSessionRepository(db DBTX) SigningSessionRepository {
	return &signingSessionRepo{db: db}
}

// Save сохраняет сессию. Повторное сохранение того же request_id перезаписывает запись.
func (r *signingSessionRepo) Save(ctx context.Context, s *model.SigningSession) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO signing_sessions (
			request_id, task_id, host_url, list_id, list_item_id,
			document_name, source, list_url_dir, method, status, result_file_name,
			created_at, expires_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (request_id) DO UPDATE SET
			task_id = EXCLUDED.task_id,
			host_url = EXCLUDED.host_url,
			list_id = EXCLUDED.list_id,
			list_item_id = EXCLUDED.list_item_id,
			document_name = EXCLUDED.document_name,
			source = EXCLUDED.source,
			list_url_dir = EXCLUDED.list_url_dir,
			method = EXCLUDED.method,
			status = EXCLUDED.status,
			result_file_name = EXCLUDED.result_file_name,
			expires_at = EXCLUDED.expires_at,
			finished_at = EXCLUDED.finished_at`,
		s.RequestID, s.TaskID, s.HostURL, s.ListID, s.ListItemID,
		s.DocumentName, s.Source, s.ListURLDir, s.Method, string(s.Status), s.ResultFileName,
		s.CreatedAt, s.ExpiresAt, s.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения signing-сессии: %w", err)
	}
	return nil
}

// GetByRequestID возвращает сессию по request id провайдера или ErrNotFound.
func (r *signingSessionRepo) GetByRequestID(ctx context.Context, requestID string) (*model.SigningSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM signing_sessions WHERE request_id = $1`, sessionColumns)

	s := &model.SigningSession{}
	var status string
	err := r.db.QueryRow(ctx, query, requestID).Scan(
		&s.RequestID, &s.TaskID, &s.HostURL, &s.ListID, &s.ListItemID,
		&s.DocumentName, &s.Source, &s.ListURLDir, &s.Method, &status, &s.ResultFileName,
		&s.CreatedAt, &s.ExpiresAt, &s.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения signing-сессии: %w", err)
	}
	s.Status = model.SessionStatus(status)
	return s, nil
}

// Finish завершает pending-сессию. Условие status = 'pending' не даёт
// завершить сессию дважды.
func (r *signingSessionRepo) Finish(
	ctx context.Context,
	requestID string,
	resultFileName *string,
	finishedAt time.Time,
) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE signing_sessions
		SET status = $2, result_file_name = $3, finished_at = $4
		WHERE request_id = $1 AND status = 'pending'`,
		requestID, string(model.SessionCompleted), resultFileName, finishedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка завершения signing-сессии: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired удаляет просроченные сессии.
func (r *signingSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM signing_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления просроченных signing-сессий: %w", err)
	}
	return tag.RowsAffected(), nil
}
