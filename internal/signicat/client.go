// Пакет signicat — клиент Document Service v3 провайдера электронной подписи:
// SOAP-вызовы createRequest и getStatus через gowsdl soap.Client,
// скачивание подписанного результата
// (SDO) по resulturi с Basic-авторизацией.
// Поддерживает TLS с кастомным CA (SM_SIGNICAT_CA_CERT_PATH).
package signicat

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hooklift/gowsdl/soap"

	"github.com/bigkaa/goartstore/signing-module/internal/domain/model"
)

// soapAction — Document Service v3 не использует SOAPAction, заголовок пустой.
const soapAction = `""`

// Client — клиент Document Service.
type Client struct {
	endpoint   string
	service    string
	password   string
	httpClient *http.Client
	soap       *soap.Client
	logger     *slog.Logger
}

// New создаёт клиент Document Service.
// endpoint — SOAP endpoint (SM_SIGNICAT_ENDPOINT).
// service, password — учётные данные сервиса; используются для Basic-авторизации
// при скачивании результата (в SOAP-вызовах они передаются в теле запроса).
// caCertPath — путь к CA-сертификату (пустая строка — системный пул).
func New(endpoint, service, password, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата Signicat: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат Signicat добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	endpoint = strings.TrimRight(endpoint, "/")
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}

	return &Client{
		endpoint:   endpoint,
		service:    service,
		password:   password,
		httpClient: httpClient,
		soap:       soap.NewClient(endpoint, soap.WithHTTPClient(httpClient)),
		logger:     logger.With(slog.String("component", "signicat_client")),
	}, nil
}

// Endpoint возвращает SOAP endpoint (используется мониторингом зависимостей).
func (c *Client) Endpoint() string {
	return c.endpoint
}

// CreateRequest создаёт заказ подписи. Возвращает request id и artifact token.
func (c *Client) CreateRequest(ctx context.Context, req *model.CreateRequestRequest) (*model.CreateRequestResponse, error) {
	var resp wireCreateRequestResponse
	if err := c.call(ctx, "createRequest", toWireCreateRequest(req), &resp); err != nil {
		return nil, err
	}
	if len(resp.RequestIDs) == 0 {
		return nil, errors.New("createRequest: ответ не содержит requestid")
	}

	c.logger.Debug("Заказ подписи создан",
		slog.String("request_id", resp.RequestIDs[0]),
	)

	return &model.CreateRequestResponse{
		RequestIDs: resp.RequestIDs,
		Artifact:   resp.Artifact,
	}, nil
}

// GetStatus запрашивает статус задач по request id.
func (c *Client) GetStatus(ctx context.Context, req *model.GetStatusRequest) ([]model.TaskStatus, error) {
	var resp wireGetStatusResponse
	wireReq := &wireGetStatusRequest{
		DocNS:      documentNS,
		Service:    req.Service,
		Password:   req.Password,
		RequestIDs: req.RequestIDs,
	}
	if err := c.call(ctx, "getStatus", wireReq, &resp); err != nil {
		return nil, err
	}
	return fromWireTaskStatuses(resp.Tasks), nil
}

// DownloadResult скачивает подписанный результат по resulturi.
// Авторизация — Basic (service, password), как требует хранилище сессий провайдера.
func (c *Client) DownloadResult(ctx context.Context, resultURI string) (*model.SignedArtifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURI, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса DownloadResult: %w", err)
	}
	req.SetBasicAuth(c.service, c.password)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G107: URI из ответа Document Service
	if err != nil {
		return nil, fmt.Errorf("запрос DownloadResult: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("DownloadResult: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение результата подписи: %w", err)
	}

	c.logger.Debug("Результат подписи скачан",
		slog.Int("size", len(data)),
		slog.String("content_type", resp.Header.Get("Content-Type")),
	)

	return &model.SignedArtifact{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// call выполняет SOAP-вызов и разбирает тело ответа в out.
// SOAP Fault возвращается как *FaultError, в том числе при HTTP 500.
func (c *Client) call(ctx context.Context, action string, content, out any) error {
	start := time.Now()
	err := c.soap.CallContextWithFaultDetail(ctx, soapAction, content, out, &faultDetail{})

	c.logger.Debug("SOAP-вызов выполнен",
		slog.String("action", action),
		slog.Bool("ok", err == nil),
		slog.Duration("duration", time.Since(start)),
	)

	if err == nil {
		return nil
	}

	var fault *soap.SOAPFault
	if errors.As(err, &fault) {
		return newFaultError(fault)
	}

	var httpErr *soap.HTTPError
	if errors.As(err, &httpErr) {
		if fe, ok := faultFromBody(httpErr.ResponseBody); ok {
			return fe
		}
		return fmt.Errorf("%s: HTTP %d от Document Service", action, httpErr.StatusCode)
	}

	return fmt.Errorf("%s: запрос к Document Service: %w", action, err)
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
