// handler.go — обработчики страниц add-in: вход из SharePoint,
// запуск подписи, callback провайдера и ping.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/a-h/templ"

	apierrors "github.com/bigkaa/goartstore/signing-module/internal/api/errors"
	"github.com/bigkaa/goartstore/signing-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/signing-module/internal/domain/model"
	"github.com/bigkaa/goartstore/signing-module/internal/service"
	"github.com/bigkaa/goartstore/signing-module/internal/session"
	"github.com/bigkaa/goartstore/signing-module/internal/sharepoint"
	"github.com/bigkaa/goartstore/signing-module/internal/ui/pages"
)

// SigningService — сценарий подписи (service.SigningService).
type SigningService interface {
	Start(ctx context.Context, in service.StartInput) (*service.StartResult, error)
	Complete(ctx context.Context, in service.CompleteInput) (*service.CompleteResult, error)
	Methods() []string
}

// HomeHandler — обработчик страниц /Home/*.
type HomeHandler struct {
	signing   SigningService
	validator service.ContextTokenValidator
	cookies   *session.CookieManager
	publicURL string
	logger    *slog.Logger
}

// NewHomeHandler создаёт обработчик страниц add-in.
// publicURL — внешний адрес модуля (пустой — из входящего запроса).
func NewHomeHandler(
	signing SigningService,
	validator service.ContextTokenValidator,
	cookies *session.CookieManager,
	publicURL string,
	logger *slog.Logger,
) *HomeHandler {
	return &HomeHandler{
		signing:   signing,
		validator: validator,
		cookies:   cookies,
		publicURL: publicURL,
		logger:    logger.With(slog.String("component", "home_handler")),
	}
}

// Index обрабатывает GET|POST /Home/Index — вход из SharePoint.
// Сохраняет context token и сайт в cookie и показывает форму выбора метода подписи.
// Запрос проходит через фильтр контекста SharePoint.
func (h *HomeHandler) Index(w http.ResponseWriter, r *http.Request) {
	spc := middleware.SPContextFromContext(r.Context())
	if spc == nil {
		apierrors.Unauthorized(w, "Контекст SharePoint не найден")
		return
	}

	params, err := BindContextParams(r.URL.Query())
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	if _, err := h.validator.Validate(r.Context(), spc.Token, h.appAuthority(r)); err != nil {
		h.logger.Warn("Context token отклонён",
			slog.String("host_url", spc.HostURL),
			slog.Bool("from_form", spc.FromForm),
			slog.String("error", err.Error()),
		)
		h.cookies.ClearContextCookies(w)
		apierrors.Unauthorized(w, "Недействительный context token SharePoint")
		return
	}

	if err := h.cookies.SetContextCookies(w, spc.Token, spc.HostURL); err != nil {
		h.logger.Error("Ошибка установки cookie", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось сохранить контекст SharePoint")
		return
	}

	data := pages.IndexData{
		HostURL:    spc.HostURL,
		ListItemID: str(params.SPListItemId),
		ListID:     str(params.SPListId),
		Source:     str(params.SPSource),
		ListURLDir: str(params.SPListURLDir),
		ItemURL:    str(params.SPItemUrl),
		Methods:    h.signing.Methods(),
	}

	h.render(w, r, pages.Index(data), "Index")
}

// Sign обрабатывает GET /Home/Sign — создаёт заказ подписи
// и перенаправляет пользователя на hosted signing page.
func (h *HomeHandler) Sign(w http.ResponseWriter, r *http.Request) {
	spc := middleware.SPContextFromContext(r.Context())
	if spc == nil {
		apierrors.Unauthorized(w, "Контекст SharePoint не найден")
		return
	}

	params, err := BindSignParams(r.URL.Query())
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	result, err := h.signing.Start(r.Context(), service.StartInput{
		Context: model.SigningContext{
			HostURL:    spc.HostURL,
			ListID:     str(params.SPListId),
			ListItemID: str(params.SPListItemId),
			Source:     str(params.SPSource),
			ListURLDir: str(params.SPListURLDir),
			ItemURL:    str(params.SPItemUrl),
			AppToken:   spc.Token,
		},
		Method:       str(params.Method),
		AppAuthority: h.appAuthority(r),
		BaseURL:      middleware.BaseURL(h.publicURL, r),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// Return обрабатывает GET /Home/Return — возврат пользователя от провайдера.
// Подписанный документ загружается в список, пользователь возвращается в SPSource.
func (h *HomeHandler) Return(w http.ResponseWriter, r *http.Request) {
	params, err := BindReturnParams(r.URL.Query())
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	in := service.CompleteInput{
		RequestID:    str(params.Rid),
		ListID:       str(params.SPListId),
		DocumentName: str(params.DocumentName),
		Source:       str(params.SPSource),
		ListURLDir:   str(params.SPListURLDir),
		HostURL:      h.cookies.HostURL(r),
		AppAuthority: h.appAuthority(r),
	}

	data, err := h.cookies.AppToken(r)
	switch {
	case err == nil:
		in.AppToken = data.Token
		if data.HostURL != "" {
			in.HostURL = data.HostURL
		}
	case !errors.Is(err, session.ErrNoAppToken):
		h.logger.Warn("Cookie SPAppToken не читается", slog.String("error", err.Error()))
	}

	result, err := h.signing.Complete(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if result.RedirectURL == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// Ping обрабатывает GET /Home/Ping.
func (h *HomeHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, pages.Ping(), "Ping")
}

// render отправляет HTML-страницу.
func (h *HomeHandler) render(w http.ResponseWriter, r *http.Request, page templ.Component, name string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(r.Context(), w); err != nil {
		h.logger.Error("Ошибка рендеринга страницы",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Ошибка рендеринга страницы", http.StatusInternalServerError)
	}
}

// appAuthority — host[:port] модуля, на который SharePoint выдал context token.
func (h *HomeHandler) appAuthority(r *http.Request) string {
	u, err := url.Parse(middleware.BaseURL(h.publicURL, r))
	if err != nil {
		return r.Host
	}
	return u.Host
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
func (h *HomeHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNoContextToken), errors.Is(err, sharepoint.ErrInvalidContextToken):
		apierrors.Unauthorized(w, "Контекст SharePoint недоступен, откройте приложение из SharePoint заново")
	case errors.Is(err, service.ErrAuthUnavailable), errors.Is(err, service.ErrSharePoint):
		h.logger.Error("Ошибка SharePoint", slog.String("error", err.Error()))
		apierrors.SPUnavailable(w, "SharePoint недоступен")
	case errors.Is(err, service.ErrUnsupportedDocument):
		apierrors.UnsupportedDocument(w, "Документ не является корректным PDF")
	case errors.Is(err, service.ErrSignatureService):
		h.logger.Error("Ошибка сервиса подписи", slog.String("error", err.Error()))
		apierrors.SignatureServiceUnavailable(w, "Сервис подписи недоступен")
	case errors.Is(err, service.ErrUnknownRequest):
		apierrors.NotFound(w, "Запрос подписи не найден или истёк")
	case errors.Is(err, service.ErrCorrelationMismatch):
		apierrors.CorrelationMismatch(w, "Параметры возврата не соответствуют запросу подписи")
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}
