package sharepoint

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/koltyakov/gosip"
	"github.com/koltyakov/gosip/api"
)

// Document — файл элемента списка SharePoint.
type Document struct {
	// Name — отображаемое имя (FileLeafRef)
	Name string
	// ServerRelativeURL — путь файла на сервере (FileRef)
	ServerRelativeURL string
	// Data — содержимое файла
	Data []byte
}

// Client — клиент SharePoint REST API поверх gosip.
// Для каждого вызова создаётся gosip.SPClient со стратегией BearerAuth:
// access token принадлежит пользователю, а не приложению.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient создаёт клиент SharePoint.
// caCertPath — путь к CA-сертификату (пустая строка — системный пул).
func NewClient(timeout time.Duration, caCertPath string, logger *slog.Logger) (*Client, error) {
	httpClient, err := NewHTTPClient(timeout, caCertPath)
	if err != nil {
		return nil, err
	}
	if caCertPath != "" {
		logger.Info("CA-сертификат SharePoint добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "sharepoint_client")),
	}, nil
}

// NewHTTPClient создаёт HTTP-клиент для SharePoint и ACS.
func NewHTTPClient(timeout time.Duration, caCertPath string) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}
	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата SharePoint: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

// HTTPClient возвращает HTTP-клиент (общий с ACS и загрузкой JWKS).
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// FetchDocument загружает имя и содержимое файла элемента itemID списка listID.
func (c *Client) FetchDocument(ctx context.Context, hostURL, accessToken, listID, itemID string) (*Document, error) {
	id, err := strconv.Atoi(strings.TrimSpace(itemID))
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("некорректный идентификатор элемента %q", itemID)
	}

	sp := c.sp(ctx, hostURL, accessToken)
	list := sp.Web().Lists().GetByID(normalizeListID(listID))

	itemResp, err := list.Items().GetByID(id).Select("FileLeafRef,FileRef").Get()
	if err != nil {
		return nil, fmt.Errorf("чтение элемента %d списка %s: %w", id, listID, err)
	}

	var fields struct {
		FileLeafRef string `json:"FileLeafRef"`
		FileRef     string `json:"FileRef"`
	}
	if err := json.Unmarshal(itemResp.Normalized(), &fields); err != nil {
		return nil, fmt.Errorf("разбор элемента %d: %w", id, err)
	}
	if fields.FileRef == "" {
		return nil, fmt.Errorf("элемент %d списка %s не содержит файла", id, listID)
	}

	data, err := sp.Web().GetFile(fields.FileRef).Download()
	if err != nil {
		return nil, fmt.Errorf("скачивание файла %s: %w", fields.FileRef, err)
	}

	c.logger.Debug("Файл элемента загружен",
		slog.String("list_id", listID),
		slog.Int("item_id", id),
		slog.String("file", fields.FileRef),
		slog.Int("size", len(data)),
	)

	return &Document{
		Name:              fields.FileLeafRef,
		ServerRelativeURL: fields.FileRef,
		Data:              data,
	}, nil
}

// AddFile загружает файл name в папку folderURL (server-relative) с перезаписью.
// Пустой folderURL — корневая папка списка listID.
// Возвращает server-relative URL созданного файла.
func (c *Client) AddFile(ctx context.Context, hostURL, accessToken, listID, folderURL, name string, data []byte) (string, error) {
	sp := c.sp(ctx, hostURL, accessToken)

	var folder *api.Folder
	if strings.TrimSpace(folderURL) != "" {
		folder = sp.Web().GetFolder(folderURL)
	} else {
		folder = sp.Web().Lists().GetByID(normalizeListID(listID)).RootFolder()
	}

	resp, err := folder.Files().Add(api.EscapePathURI(name), data, true)
	if err != nil {
		return "", fmt.Errorf("загрузка файла %q: %w", name, err)
	}

	fileURL := resp.Data().ServerRelativeURL
	c.logger.Debug("Файл загружен в SharePoint",
		slog.String("list_id", listID),
		slog.String("file", fileURL),
		slog.Int("size", len(data)),
	)
	return fileURL, nil
}

// sp создаёт gosip API для сайта с access token пользователя.
// Повторы gosip отключены: ошибка сразу возвращается вызывающему.
func (c *Client) sp(ctx context.Context, hostURL, accessToken string) *api.SP {
	client := &gosip.SPClient{
		Client:   *c.httpClient,
		AuthCnfg: NewBearerAuth(hostURL, accessToken),
		RetryPolicies: map[int]int{
			http.StatusUnauthorized:        0,
			http.StatusTooManyRequests:     0,
			http.StatusInternalServerError: 0,
			http.StatusServiceUnavailable:  0,
			http.StatusGatewayTimeout:      0,
		},
		Hooks: &gosip.HookHandlers{
			OnError: func(e *gosip.HookEvent) {
				c.logger.Warn("Ошибка запроса к SharePoint",
					slog.String("method", e.Request.Method),
					slog.String("url", e.Request.URL.Path),
					slog.Int("status", e.StatusCode),
					slog.Duration("duration", e.Duration),
				)
			},
			OnResponse: func(e *gosip.HookEvent) {
				c.logger.Debug("Запрос к SharePoint выполнен",
					slog.String("method", e.Request.Method),
					slog.String("url", e.Request.URL.Path),
					slog.Int("status", e.StatusCode),
					slog.Duration("duration", e.Duration),
				)
			},
		},
	}
	return api.NewSP(client).Conf(&api.RequestConfig{Context: ctx})
}

// StatusCode возвращает HTTP-статус ошибки SharePoint (0 — ошибка не от SharePoint).
func StatusCode(err error) int {
	var spErr *gosip.SPError
	if errors.As(err, &spErr) {
		return spErr.StatusCode
	}
	return 0
}

// normalizeListID убирает фигурные скобки, в которых SharePoint передаёт SPListId.
func normalizeListID(listID string) string {
	return strings.Trim(strings.TrimSpace(listID), "{}")
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
