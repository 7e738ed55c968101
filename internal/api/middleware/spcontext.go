// spcontext.go — фильтр контекста SharePoint для страниц add-in.
// Находит context token запроса (поле формы или cookie SPAppToken).
// Если токена нет, отправляет пользователя в SharePoint (appredirect.aspx)
// за новым токеном.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apierrors "github.com/bigkaa/goartstore/signing-module/internal/api/errors"
	"github.com/bigkaa/goartstore/signing-module/internal/session"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeySharePoint — *SPContext текущего запроса.
	ContextKeySharePoint contextKey = "sp_context"
	// ContextKeyRequestID — идентификатор запроса.
	ContextKeyRequestID contextKey = "request_id"
)

// Параметры запроса, которые SharePoint подставляет вместо {StandardTokens}.
var standardTokens = []string{"SPHostURL", "SPLanguage", "SPClientTag", "SPProductNumber", "SPAppWebUrl"}

// Поля, в которых SharePoint передаёт context token.
var tokenParamNames = []string{"AppContext", "AppContextToken", "AccessToken", "SPAppToken"}

// redirectedParam — признак, что пользователь уже возвращён из appredirect.aspx.
const redirectedParam = "SPHasRedirectedToSharePoint"

// SPContext — контекст SharePoint, найденный фильтром.
type SPContext struct {
	// HostURL — сайт SharePoint (SPHostURL)
	HostURL string
	// Token — context token (JWT)
	Token string
	// FromForm — токен пришёл в теле запроса от SharePoint, а не из cookie
	FromForm bool
}

// SharePointContext возвращает middleware фильтра контекста SharePoint.
// clientID — Client ID add-in для appredirect.aspx.
// publicURL — внешний адрес модуля (пустой — из запроса).
func SharePointContext(cookies *session.CookieManager, clientID, publicURL string, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "sp_context"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hostURL := r.URL.Query().Get("SPHostURL")
			if hostURL == "" {
				apierrors.ValidationError(w, "Параметр SPHostURL обязателен")
				return
			}
			if !validSiteURL(hostURL) {
				apierrors.ValidationError(w, "Некорректный SPHostURL")
				return
			}

			spc := &SPContext{HostURL: hostURL}
			if token := tokenFromRequest(r); token != "" {
				spc.Token = token
				spc.FromForm = true
			} else if data, err := cookies.AppToken(r); err == nil {
				if data.Token != "" && sameSite(data.HostURL, hostURL) {
					spc.Token = data.Token
				}
			} else if !errors.Is(err, session.ErrNoAppToken) {
				log.Debug("Cookie SPAppToken не читается", slog.String("error", err.Error()))
			}

			if spc.Token == "" {
				if r.URL.Query().Get(redirectedParam) == "1" {
					apierrors.Unauthorized(w, "SharePoint не передал context token")
					return
				}
				target := AppRedirectURL(hostURL, clientID, BaseURL(publicURL, r)+r.URL.Path, r.URL.Query())
				log.Debug("Нет context token, перенаправление в SharePoint",
					slog.String("host_url", hostURL),
				)
				http.Redirect(w, r, target, http.StatusFound)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySharePoint, spc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SPContextFromContext возвращает контекст SharePoint из контекста запроса.
// Возвращает nil, если фильтр не применялся.
func SPContextFromContext(ctx context.Context) *SPContext {
	spc, _ := ctx.Value(ContextKeySharePoint).(*SPContext)
	return spc
}

// AppRedirectURL строит адрес appredirect.aspx, после которого SharePoint
// вернёт пользователя на pageURL с новым context token.
func AppRedirectURL(hostURL, clientID, pageURL string, query url.Values) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	for _, name := range standardTokens {
		q.Del(name)
	}
	q.Set(redirectedParam, "1")

	redirectURI := pageURL + "?{StandardTokens}&" + q.Encode()

	return strings.TrimRight(hostURL, "/") + "/_layouts/15/appredirect.aspx?client_id=" +
		url.QueryEscape(clientID) + "&redirect_uri=" + url.QueryEscape(redirectURI)
}

// BaseURL возвращает внешний адрес модуля: publicURL, если задан,
// иначе схему и host входящего запроса.
func BaseURL(publicURL string, r *http.Request) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// tokenFromRequest ищет context token в полях формы и query string.
func tokenFromRequest(r *http.Request) string {
	for _, name := range tokenParamNames {
		if v := r.FormValue(name); v != "" {
			return v
		}
	}
	return ""
}

// validSiteURL — абсолютный http(s) URL с host.
func validSiteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "https" || u.Scheme == "http"
}

func sameSite(a, b string) bool {
	return strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(b, "/"))
}
