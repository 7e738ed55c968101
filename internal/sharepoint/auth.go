package sharepoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/koltyakov/gosip"
)

// bearerStrategy — имя стратегии аутентификации для gosip.
const bearerStrategy = "addin-bearer"

// BearerAuth — стратегия gosip, подставляющая готовый access token add-in
// (полученный от ACS) в заголовок Authorization.
type BearerAuth struct {
	SiteURL     string    `json:"siteUrl"`
	AccessToken string    `json:"accessToken"` //nolint:gosec // G117: JSON-маппинг конфигурации стратегии
	ExpiresAt   time.Time `json:"expiresAt"`
}

var _ gosip.AuthCnfg = (*BearerAuth)(nil)

// NewBearerAuth создаёт стратегию для сайта siteURL.
func NewBearerAuth(siteURL, accessToken string) *BearerAuth {
	return &BearerAuth{
		SiteURL:     strings.TrimRight(siteURL, "/"),
		AccessToken: accessToken,
	}
}

// ReadConfig читает конфигурацию стратегии из JSON-файла.
func (a *BearerAuth) ReadConfig(privateFile string) error {
	data, err := os.ReadFile(privateFile) //nolint:gosec // G304: путь задаёт вызывающий код
	if err != nil {
		return fmt.Errorf("чтение конфигурации %s: %w", privateFile, err)
	}
	return a.ParseConfig(data)
}

// ParseConfig разбирает конфигурацию стратегии из JSON.
func (a *BearerAuth) ParseConfig(data []byte) error {
	if err := json.Unmarshal(data, a); err != nil {
		return fmt.Errorf("разбор конфигурации стратегии: %w", err)
	}
	a.SiteURL = strings.TrimRight(a.SiteURL, "/")
	return nil
}

// GetAuth возвращает access token и время его истечения (Unix).
func (a *BearerAuth) GetAuth() (string, int64, error) {
	if a.AccessToken == "" {
		return "", 0, errors.New("access token не задан")
	}
	var exp int64
	if !a.ExpiresAt.IsZero() {
		exp = a.ExpiresAt.Unix()
	}
	return a.AccessToken, exp, nil
}

// SetAuth добавляет заголовок Authorization: Bearer.
func (a *BearerAuth) SetAuth(req *http.Request, _ *gosip.SPClient) error {
	token, _, err := a.GetAuth()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// GetSiteURL возвращает URL сайта.
func (a *BearerAuth) GetSiteURL() string {
	return a.SiteURL
}

// GetStrategy возвращает имя стратегии.
func (a *BearerAuth) GetStrategy() string {
	return bearerStrategy
}
