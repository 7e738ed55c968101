package sharepoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SharePointPrincipal — principal id SharePoint Online в ACS.
const SharePointPrincipal = "00000003-0000-0ff1-ce00-000000000000"

// accessTokenSkew — запас до истечения, после которого токен запрашивается заново.
const accessTokenSkew = 5 * time.Minute

// accessTokenCacheTTL — верхняя граница жизни записи кэша (токены ACS живут ~12 часов).
const accessTokenCacheTTL = 12 * time.Hour

// accessTokenEntry — закэшированный access token.
type accessTokenEntry struct {
	token     string
	expiresAt time.Time
}

// TokenClient обменивает refresh token из context token на access token
// SharePoint (OAuth2 refresh_token grant к ACS).
type TokenClient struct {
	httpClient   *http.Client
	acsURL       string
	clientSecret string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	cache        *expirable.LRU[string, accessTokenEntry]
	logger       *slog.Logger
}

// NewTokenClient создаёт клиент ACS.
// acsURL — базовый URL ACS; используется, если context token не содержит STS URI.
// cacheSize — размер LRU-кэша access token.
func NewTokenClient(httpClient *http.Client, acsURL, clientSecret string, cacheSize int, logger *slog.Logger) *TokenClient {
	return &TokenClient{
		httpClient:   httpClient,
		acsURL:       strings.TrimRight(acsURL, "/"),
		clientSecret: clientSecret,
		cache:        expirable.NewLRU[string, accessTokenEntry](cacheSize, nil, accessTokenCacheTTL),
		logger:       logger.With(slog.String("component", "acs_client")),
	}
}

// AccessToken возвращает access token для сайта targetHost (host[:port]).
// Токен кэшируется по CacheKey и хосту до accessTokenSkew перед истечением.
func (c *TokenClient) AccessToken(ctx context.Context, token *ContextToken, targetHost string) (string, error) {
	key := cacheKey(token, targetHost)
	if entry, ok := c.cache.Get(key); ok && time.Now().Before(entry.expiresAt) {
		return entry.token, nil
	}

	entry, err := c.requestToken(ctx, token, targetHost)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, entry)
	return entry.token, nil
}

// requestToken выполняет refresh_token grant.
func (c *TokenClient) requestToken(ctx context.Context, token *ContextToken, targetHost string) (accessTokenEntry, error) {
	tokenURL := token.SecurityTokenServiceURI
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("%s/%s/tokens/OAuth/2", c.acsURL, url.PathEscape(token.Realm))
	}

	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {token.ClientID + "@" + token.Realm},
		"client_secret": {c.clientSecret},
		"refresh_token": {token.RefreshToken},
		"resource":      {SharePointPrincipal + "/" + targetHost + "@" + token.Realm},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return accessTokenEntry{}, fmt.Errorf("создание запроса token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G107: URL из проверенного context token или конфигурации
	if err != nil {
		return accessTokenEntry{}, fmt.Errorf("запрос token к ACS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return accessTokenEntry{}, fmt.Errorf("ACS вернул статус %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResp struct {
		Token     string      `json:"access_token"` //nolint:gosec // G117: JSON-маппинг OAuth2 ответа
		ExpiresIn json.Number `json:"expires_in"`
		TokenType string      `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return accessTokenEntry{}, fmt.Errorf("декодирование token response: %w", err)
	}
	if tokenResp.Token == "" {
		return accessTokenEntry{}, fmt.Errorf("пустой access_token в ответе ACS")
	}

	// ACS отдаёт expires_in строкой; при отсутствии считаем час
	expiresIn, err := tokenResp.ExpiresIn.Int64()
	if err != nil || expiresIn <= 0 {
		expiresIn = 3600
	}

	c.logger.Debug("Access token получен от ACS",
		slog.String("host", targetHost),
		slog.Int64("expires_in", expiresIn),
	)

	return accessTokenEntry{
		token:     tokenResp.Token,
		expiresAt: time.Now().Add(time.Duration(expiresIn)*time.Second - accessTokenSkew),
	}, nil
}

// cacheKey — ключ кэша: CacheKey пользователя (или refresh token) и хост сайта.
func cacheKey(token *ContextToken, targetHost string) string {
	id := token.CacheKey
	if id == "" {
		id = token.RefreshToken
	}
	return id + "|" + strings.ToLower(targetHost)
}
