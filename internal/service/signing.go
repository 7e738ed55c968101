// signing.go — сценарий подписи документа SharePoint у провайдера:
// Start (документ из списка → заказ → hosted signing page) и
// Complete (статус заказа → подписанный результат → файл в том же списке).
// Координирует SharePoint, ACS, Document Service и хранилище сессий.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/signing-module/internal/domain/model"
	"github.com/bigkaa/goartstore/signing-module/internal/sharepoint"
)

// Ошибки сервисного слоя.
var (
	// ErrInvalidInput — запрос не содержит обязательных параметров.
	ErrInvalidInput = errors.New("некорректные параметры запроса")
	// ErrAuthUnavailable — не удалось получить доступ к SharePoint от имени пользователя.
	ErrAuthUnavailable = errors.New("контекст SharePoint недоступен")
	// ErrNoContextToken — в запросе нет context token (cookie истекла или не выдавалась).
	ErrNoContextToken = errors.New("context token отсутствует")
	// ErrSharePoint — ошибка чтения или записи в SharePoint.
	ErrSharePoint = errors.New("ошибка SharePoint")
	// ErrUnsupportedDocument — документ не является корректным PDF.
	ErrUnsupportedDocument = errors.New("документ не поддерживается")
	// ErrSignatureService — ошибка Document Service или хранилища результатов.
	ErrSignatureService = errors.New("ошибка сервиса подписи")
	// ErrUnknownRequest — callback с неизвестным или истёкшим request id.
	ErrUnknownRequest = errors.New("неизвестный request id")
	// ErrCorrelationMismatch — параметры callback не совпадают с начатой подписью.
	ErrCorrelationMismatch = errors.New("callback не соответствует signing-сессии")
)

// Исходы Complete.
const (
	OutcomeCompleted       = "completed"
	OutcomeNoResult        = "no_result"
	OutcomeAlreadyFinished = "already_finished"
)

// Prometheus-метрики подписи.
var (
	signingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_signing_requests_total",
		Help: "Общее количество запусков подписи по результату.",
	}, []string{"status"})
	signingCompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_signing_completions_total",
		Help: "Общее количество обработанных callback по исходу.",
	}, []string{"outcome"})
	signedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_signed_bytes_total",
		Help: "Общий объём подписанных результатов, загруженных в SharePoint.",
	})
)

// ContextTokenValidator проверяет context token SharePoint.
type ContextTokenValidator interface {
	Validate(ctx context.Context, raw, appAuthority string) (*sharepoint.ContextToken, error)
}

// AccessTokenProvider обменивает context token на access token сайта.
type AccessTokenProvider interface {
	AccessToken(ctx context.Context, token *sharepoint.ContextToken, targetHost string) (string, error)
}

// DocumentLibrary — операции со списком SharePoint.
type DocumentLibrary interface {
	FetchDocument(ctx context.Context, hostURL, accessToken, listID, itemID string) (*sharepoint.Document, error)
	AddFile(ctx context.Context, hostURL, accessToken, listID, folderURL, name string, data []byte) (string, error)
}

// SignatureProvider — операции Document Service.
type SignatureProvider interface {
	CreateRequest(ctx context.Context, req *model.CreateRequestRequest) (*model.CreateRequestResponse, error)
	GetStatus(ctx context.Context, req *model.GetStatusRequest) ([]model.TaskStatus, error)
	DownloadResult(ctx context.Context, resultURI string) (*model.SignedArtifact, error)
}

// SigningOptions — настройки сценария подписи.
type SigningOptions struct {
	// Request — учётные данные, профиль и язык заказа
	Request RequestOptions
	// Environment, Product — части URL hosted signing page
	Environment string
	Product     string
	// SignText — текст согласия
	SignText string
	// Methods — допустимые методы подписи (пустой — любой непустой)
	Methods []string
}

// StartInput — параметры запуска подписи.
type StartInput struct {
	// Context — контекст SharePoint (AppToken — context token из cookie)
	Context model.SigningContext
	// Method — выбранный метод подписи
	Method string
	// AppAuthority — host[:port] модуля, для которого выдан context token
	AppAuthority string
	// BaseURL — внешний адрес модуля для callback URL
	BaseURL string
}

// StartResult — результат запуска подписи.
type StartResult struct {
	RedirectURL  string
	RequestID    string
	TaskID       string
	DocumentName string
}

// CompleteInput — параметры callback провайдера.
type CompleteInput struct {
	RequestID    string
	ListID       string
	DocumentName string
	Source       string
	ListURLDir   string
	// AppToken — context token из cookie
	AppToken string
	// HostURL — сайт SharePoint из cookie
	HostURL string
	// AppAuthority — host[:port] модуля
	AppAuthority string
}

// CompleteResult — результат обработки callback.
type CompleteResult struct {
	// RedirectURL — куда вернуть пользователя (SPSource)
	RedirectURL string
	// Outcome — completed, no_result, already_finished
	Outcome string
	// FileName — имя загруженного файла (для completed)
	FileName string
	// FileURL — server-relative URL загруженного файла
	FileURL string
}

// SigningService — сценарий подписи.
type SigningService struct {
	validator ContextTokenValidator
	tokens    AccessTokenProvider
	library   DocumentLibrary
	provider  SignatureProvider
	sessions  *SessionStore
	inspector DocumentInspector
	opts      SigningOptions
	logger    *slog.Logger
}

// NewSigningService создаёт сервис подписи.
// inspector — nil, если проверка PDF отключена.
func NewSigningService(
	validator ContextTokenValidator,
	tokens AccessTokenProvider,
	library DocumentLibrary,
	provider SignatureProvider,
	sessions *SessionStore,
	inspector DocumentInspector,
	opts SigningOptions,
	logger *slog.Logger,
) *SigningService {
	return &SigningService{
		validator: validator,
		tokens:    tokens,
		library:   library,
		provider:  provider,
		sessions:  sessions,
		inspector: inspector,
		opts:      opts,
		logger:    logger.With(slog.String("component", "signing_service")),
	}
}

// Methods возвращает методы подписи, предлагаемые пользователю.
func (s *SigningService) Methods() []string {
	return slices.Clone(s.opts.Methods)
}

// Start загружает документ из SharePoint, создаёт заказ подписи
// и возвращает адрес hosted signing page.
func (s *SigningService) Start(ctx context.Context, in StartInput) (*StartResult, error) {
	result, status, err := s.start(ctx, in)
	signingRequestsTotal.WithLabelValues(status).Inc()
	return result, err
}

func (s *SigningService) start(ctx context.Context, in StartInput) (*StartResult, string, error) {
	sc := in.Context
	if sc.HostURL == "" || sc.ListID == "" || sc.ListItemID == "" {
		return nil, "invalid", fmt.Errorf("%w: SPHostURL, SPListId и SPListItemId обязательны", ErrInvalidInput)
	}
	if in.Method == "" || (len(s.opts.Methods) > 0 && !slices.Contains(s.opts.Methods, in.Method)) {
		return nil, "invalid", fmt.Errorf("%w: недопустимый метод подписи %q", ErrInvalidInput, in.Method)
	}

	accessToken, err := s.accessToken(ctx, sc.AppToken, sc.HostURL, in.AppAuthority)
	if err != nil {
		return nil, "auth_error", err
	}

	doc, err := s.library.FetchDocument(ctx, sc.HostURL, accessToken, sc.ListID, sc.ListItemID)
	if err != nil {
		return nil, "sharepoint_error", fmt.Errorf("%w: %w", ErrSharePoint, err)
	}

	if s.inspector != nil {
		pages, err := s.inspector.Inspect(doc.Data)
		if err != nil {
			return nil, "unsupported_document", fmt.Errorf("%w: %s: %w", ErrUnsupportedDocument, doc.Name, err)
		}
		s.logger.Debug("Документ проверен", slog.String("document", doc.Name), slog.Int("pages", pages))
	}

	provided := BuildProvidedDocument(sc.ListItemID, doc.Name, doc.Data, s.opts.SignText)
	callback := CallbackURL(in.BaseURL, CallbackParams{
		ListID:       sc.ListID,
		DocumentName: provided.Description,
		Source:       sc.Source,
		ListURLDir:   sc.ListURLDir,
	})
	req := BuildSignatureRequest(s.opts.Request, provided, in.Method, callback)

	resp, err := s.provider.CreateRequest(ctx, req)
	if err != nil {
		return nil, "signature_error", fmt.Errorf("%w: %w", ErrSignatureService, err)
	}
	if len(resp.RequestIDs) == 0 {
		return nil, "signature_error", fmt.Errorf("%w: ответ без request id", ErrSignatureService)
	}

	requestID := resp.RequestIDs[0]
	taskID := req.Requests[0].Tasks[0].ID
	now := time.Now().UTC()

	sess := &model.SigningSession{
		RequestID:    requestID,
		TaskID:       taskID,
		HostURL:      sc.HostURL,
		ListID:       sc.ListID,
		ListItemID:   sc.ListItemID,
		DocumentName: provided.Description,
		Source:       sc.Source,
		ListURLDir:   sc.ListURLDir,
		Method:       in.Method,
		Status:       model.SessionPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.sessions.TTL()),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, "error", err
	}

	s.logger.Info("Заказ подписи создан",
		slog.String("request_id", requestID),
		slog.String("list_id", sc.ListID),
		slog.String("item_id", sc.ListItemID),
		slog.String("document", provided.Description),
		slog.String("method", in.Method),
	)

	return &StartResult{
		RedirectURL:  SigningURL(s.opts.Environment, s.opts.Product, requestID, taskID, resp.Artifact),
		RequestID:    requestID,
		TaskID:       taskID,
		DocumentName: provided.Description,
	}, "ok", nil
}

// Complete обрабатывает возврат пользователя от провайдера.
// Нет результата (отмена или отложенная задача) — пользователь возвращается
// к списку, сессия остаётся pending и следующий callback снова запросит статус.
// Есть результат — он скачивается и загружается в список как
// "<имя> - SIGNED<расширение>".
func (s *SigningService) Complete(ctx context.Context, in CompleteInput) (*CompleteResult, error) {
	result, err := s.complete(ctx, in)
	switch {
	case err == nil:
		signingCompletionsTotal.WithLabelValues(result.Outcome).Inc()
	case errors.Is(err, ErrUnknownRequest), errors.Is(err, ErrCorrelationMismatch), errors.Is(err, ErrInvalidInput):
		signingCompletionsTotal.WithLabelValues("rejected").Inc()
	default:
		signingCompletionsTotal.WithLabelValues("error").Inc()
	}
	return result, err
}

func (s *SigningService) complete(ctx context.Context, in CompleteInput) (*CompleteResult, error) {
	if in.RequestID == "" {
		return nil, fmt.Errorf("%w: rid обязателен", ErrInvalidInput)
	}

	sess, err := s.sessions.Get(ctx, in.RequestID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.logger.Warn("Callback с неизвестным или истёкшим request id",
				slog.String("request_id", in.RequestID),
				slog.String("list_id", in.ListID),
				slog.String("document", in.DocumentName),
			)
			return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, in.RequestID)
		}
		return nil, err
	}

	if err := correlate(sess, in); err != nil {
		s.logger.Warn("Callback не соответствует signing-сессии",
			slog.String("request_id", in.RequestID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if sess.Finished() {
		s.logger.Info("Повторный callback для завершённой сессии",
			slog.String("request_id", sess.RequestID),
			slog.String("status", string(sess.Status)),
		)
		return &CompleteResult{RedirectURL: sess.Source, Outcome: OutcomeAlreadyFinished}, nil
	}

	statuses, err := s.provider.GetStatus(ctx, &model.GetStatusRequest{
		Service:    s.opts.Request.Service,
		Password:   s.opts.Request.Password,
		RequestIDs: []string{sess.RequestID},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignatureService, err)
	}

	resultURI := firstResultURI(statuses)
	if resultURI == "" {
		s.logger.Info("Подписанного результата нет, задача отменена или отложена",
			slog.String("request_id", sess.RequestID),
			slog.String("task_status", firstTaskStatus(statuses)),
		)
		return &CompleteResult{RedirectURL: sess.Source, Outcome: OutcomeNoResult}, nil
	}

	artifact, err := s.provider.DownloadResult(ctx, resultURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignatureService, err)
	}

	accessToken, err := s.accessToken(ctx, in.AppToken, sess.HostURL, in.AppAuthority)
	if err != nil {
		return nil, err
	}

	fileName := SignedFileName(sess.DocumentName, artifact.ContentType)
	fileURL, err := s.library.AddFile(ctx, sess.HostURL, accessToken, sess.ListID, sess.ListURLDir, fileName, artifact.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSharePoint, err)
	}
	signedBytesTotal.Add(float64(len(artifact.Data)))

	s.finish(ctx, sess.RequestID, &fileName)
	s.logger.Info("Подписанный документ загружен",
		slog.String("request_id", sess.RequestID),
		slog.String("file", fileName),
		slog.String("content_type", artifact.ContentType),
		slog.Int("size", len(artifact.Data)),
	)

	return &CompleteResult{
		RedirectURL: sess.Source,
		Outcome:     OutcomeCompleted,
		FileName:    fileName,
		FileURL:     fileURL,
	}, nil
}

// accessToken проверяет context token и получает access token для сайта hostURL.
func (s *SigningService) accessToken(ctx context.Context, rawToken, hostURL, appAuthority string) (string, error) {
	if rawToken == "" {
		return "", fmt.Errorf("%w: %w", ErrAuthUnavailable, ErrNoContextToken)
	}

	host, err := hostOf(hostURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
	}

	token, err := s.validator.Validate(ctx, rawToken, appAuthority)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
	}

	accessToken, err := s.tokens.AccessToken(ctx, token, host)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
	}
	return accessToken, nil
}

// finish фиксирует загрузку результата. Ошибка не прерывает сценарий:
// файл уже в списке.
func (s *SigningService) finish(ctx context.Context, requestID string, fileName *string) {
	err := s.sessions.Finish(ctx, requestID, fileName, time.Now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionFinished):
		s.logger.Warn("Signing-сессия завершена параллельным callback",
			slog.String("request_id", requestID),
		)
	default:
		s.logger.Error("Ошибка завершения signing-сессии",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
	}
}

// correlate сверяет параметры callback с сессией, начатой этим модулем.
func correlate(sess *model.SigningSession, in CompleteInput) error {
	switch {
	case !strings.EqualFold(strings.Trim(sess.ListID, "{}"), strings.Trim(in.ListID, "{}")):
		return fmt.Errorf("%w: SPListId", ErrCorrelationMismatch)
	case sess.DocumentName != in.DocumentName:
		return fmt.Errorf("%w: documentName", ErrCorrelationMismatch)
	case sess.Source != in.Source:
		return fmt.Errorf("%w: SPSource", ErrCorrelationMismatch)
	case sess.ListURLDir != in.ListURLDir:
		return fmt.Errorf("%w: SPListURLDir", ErrCorrelationMismatch)
	case in.HostURL != "" && !sameHostURL(sess.HostURL, in.HostURL):
		return fmt.Errorf("%w: SPHostURL", ErrCorrelationMismatch)
	}
	return nil
}

// firstResultURI возвращает resulturi первого документа первой задачи.
// Пустая строка — результата нет (отмена или отложено).
func firstResultURI(statuses []model.TaskStatus) string {
	if len(statuses) == 0 || len(statuses[0].DocumentStatuses) == 0 {
		return ""
	}
	return statuses[0].DocumentStatuses[0].ResultURI
}

// firstTaskStatus возвращает статус первой задачи для журнала.
func firstTaskStatus(statuses []model.TaskStatus) string {
	if len(statuses) == 0 {
		return ""
	}
	return statuses[0].Status
}

// hostOf возвращает host[:port] сайта SharePoint.
func hostOf(hostURL string) (string, error) {
	u, err := url.Parse(hostURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("некорректный SPHostURL %q", hostURL)
	}
	return u.Host, nil
}

func sameHostURL(a, b string) bool {
	return strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(b, "/"))
}
