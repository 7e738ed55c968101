// Пакет sharepoint — интеграция с SharePoint add-in модели:
// проверка context token (JWT), обмен refresh token на access token через ACS,
// чтение файла элемента списка и загрузка подписанного результата (gosip).
package sharepoint

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidContextToken — context token не прошёл проверку.
var ErrInvalidContextToken = errors.New("недействительный context token SharePoint")

// ContextToken — проверенный context token SharePoint.
type ContextToken struct {
	// Raw — исходный JWT.
	Raw string
	// ClientID — client id add-in из audience.
	ClientID string
	// Realm — tenant realm (GUID) из audience.
	Realm string
	// RefreshToken — refresh token для ACS.
	RefreshToken string
	// CacheKey — стабильный ключ пользователя/сайта из appctx.
	CacheKey string
	// SecurityTokenServiceURI — token endpoint ACS из appctx.
	SecurityTokenServiceURI string
	// ExpiresAt — время истечения токена.
	ExpiresAt time.Time
}

// contextTokenClaims — claims context token SharePoint.
type contextTokenClaims struct {
	jwt.RegisteredClaims
	// AppCtxSender — principal SharePoint ("00000003-...@realm").
	AppCtxSender string `json:"appctxsender"`
	// AppCtx — JSON-строка с CacheKey и SecurityTokenServiceUri.
	AppCtx string `json:"appctx"`
	// RefreshToken — refresh token для обмена в ACS.
	RefreshToken string `json:"refreshtoken"`
}

// appContext — содержимое claim appctx.
type appContext struct {
	CacheKey                string `json:"CacheKey"`
	SecurityTokenServiceURI string `json:"SecurityTokenServiceUri"`
}

// ContextTokenValidator проверяет context token: подпись (HS256 — client secret,
// RS256 — JWKS), срок действия и audience "{clientID}/{authority}@{realm}".
type ContextTokenValidator struct {
	clientID   string
	secretKeys []jwt.VerificationKey
	jwks       keyfunc.Keyfunc
	leeway     time.Duration
	logger     *slog.Logger
}

// NewContextTokenValidator создаёт валидатор.
// clientSecret — секрет add-in; декодируется из base64, если возможно.
// jwksURL — опциональный JWKS endpoint для RS256 (пустой — только HS256).
// httpClient — клиент для загрузки JWKS (может быть nil, если jwksURL пуст).
func NewContextTokenValidator(
	clientID, clientSecret, jwksURL string,
	httpClient *http.Client,
	leeway time.Duration,
	logger *slog.Logger,
) (*ContextTokenValidator, error) {
	var jwks keyfunc.Keyfunc
	if jwksURL != "" {
		storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
			Client:                    httpClient,
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           time.Hour,
			RefreshErrorHandler: func(_ context.Context, err error) {
				logger.Error("Ошибка обновления JWKS",
					slog.String("error", err.Error()),
					slog.String("url", jwksURL),
				)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("создание JWKS storage: %w", err)
		}

		jwks, err = keyfunc.New(keyfunc.Options{Storage: storage})
		if err != nil {
			return nil, fmt.Errorf("создание keyfunc: %w", err)
		}
	}

	return NewContextTokenValidatorWithKeyfunc(clientID, clientSecret, jwks, leeway, logger), nil
}

// NewContextTokenValidatorWithKeyfunc создаёт валидатор с готовым keyfunc (nil — только HS256).
// Используется в тестах.
func NewContextTokenValidatorWithKeyfunc(
	clientID, clientSecret string,
	jwks keyfunc.Keyfunc,
	leeway time.Duration,
	logger *slog.Logger,
) *ContextTokenValidator {
	return &ContextTokenValidator{
		clientID:   clientID,
		secretKeys: secretKeys(clientSecret),
		jwks:       jwks,
		leeway:     leeway,
		logger:     logger.With(slog.String("component", "context_token")),
	}
}

// Validate разбирает и проверяет context token.
// appAuthority — host[:port] add-in, для которого выдан токен
// (пустая строка — authority в audience не сравнивается).
func (v *ContextTokenValidator) Validate(ctx context.Context, raw, appAuthority string) (*ContextToken, error) {
	claims := &contextTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, v.keyfunc(ctx),
		jwt.WithValidMethods([]string{"HS256", "RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		v.logger.Debug("Context token не прошёл проверку", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrInvalidContextToken, err)
	}

	clientID, authority, realm, err := v.checkAudience(claims.Audience, appAuthority)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContextToken, err)
	}

	if claims.RefreshToken == "" {
		return nil, fmt.Errorf("%w: отсутствует refreshtoken", ErrInvalidContextToken)
	}

	var appCtx appContext
	if claims.AppCtx != "" {
		if err := json.Unmarshal([]byte(claims.AppCtx), &appCtx); err != nil {
			return nil, fmt.Errorf("%w: некорректный appctx: %w", ErrInvalidContextToken, err)
		}
	}

	token := &ContextToken{
		Raw:                     raw,
		ClientID:                clientID,
		Realm:                   realm,
		RefreshToken:            claims.RefreshToken,
		CacheKey:                appCtx.CacheKey,
		SecurityTokenServiceURI: appCtx.SecurityTokenServiceURI,
	}
	if claims.ExpiresAt != nil {
		token.ExpiresAt = claims.ExpiresAt.Time
	}

	v.logger.Debug("Context token проверен",
		slog.String("realm", realm),
		slog.String("authority", authority),
	)
	return token, nil
}

// keyfunc выбирает ключ по алгоритму: HMAC — секрет add-in, RSA — JWKS.
func (v *ContextTokenValidator) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(v.secretKeys) == 0 {
				return nil, errors.New("client secret не задан")
			}
			return jwt.VerificationKeySet{Keys: v.secretKeys}, nil
		case *jwt.SigningMethodRSA:
			if v.jwks == nil {
				return nil, errors.New("RS256 context token без настроенного JWKS")
			}
			return v.jwks.KeyfuncCtx(ctx)(token)
		default:
			return nil, fmt.Errorf("неподдерживаемый алгоритм %v", token.Header["alg"])
		}
	}
}

// checkAudience разбирает audience "{clientID}/{authority}@{realm}".
// Client id должен совпадать, authority сравнивается, если известна.
func (v *ContextTokenValidator) checkAudience(aud jwt.ClaimStrings, appAuthority string) (clientID, authority, realm string, err error) {
	if len(aud) == 0 {
		return "", "", "", errors.New("отсутствует aud")
	}

	for _, a := range aud {
		clientID, authority, realm = parsePrincipal(a)
		if !strings.EqualFold(clientID, v.clientID) {
			continue
		}
		if appAuthority != "" && authority != "" && !strings.EqualFold(authority, appAuthority) {
			continue
		}
		if realm == "" {
			return "", "", "", fmt.Errorf("audience %q не содержит realm", a)
		}
		return clientID, authority, realm, nil
	}
	return "", "", "", fmt.Errorf("audience %v не соответствует add-in %s", []string(aud), v.clientID)
}

// parsePrincipal разбирает "{id}/{authority}@{realm}" (authority необязательна).
func parsePrincipal(s string) (id, authority, realm string) {
	rest := s
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		realm = rest[at+1:]
		rest = rest[:at]
	}
	if slash := strings.Index(rest, "/"); slash >= 0 {
		authority = rest[slash+1:]
		rest = rest[:slash]
	}
	return rest, authority, realm
}

// secretKeys возвращает ключи HMAC: base64-декодированный секрет (если декодируется)
// и сам секрет как есть.
func secretKeys(secret string) []jwt.VerificationKey {
	if secret == "" {
		return nil
	}
	keys := make([]jwt.VerificationKey, 0, 2)
	if decoded, err := base64.StdEncoding.DecodeString(secret); err == nil && len(decoded) > 0 {
		keys = append(keys, decoded)
	}
	return append(keys, []byte(secret))
}
