// Пакет config — загрузка и валидация конфигурации Signing Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DefaultSignText — текст согласия, который подписант видит в hosted signing UI.
const DefaultSignText = "I have read and understood the document which has been presented to me, " +
	"and I agree to its contents with my signature."

// DefaultSessionTTL — время жизни signing-сессии по умолчанию.
// Отложенный заказ подписывается у провайдера в течение нескольких недель,
// callback после истечения сессии уже не загрузит результат.
const DefaultSessionTTL = 30 * 24 * time.Hour

// Config содержит все параметры конфигурации Signing Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Внешний базовый URL модуля для callback URL (пустой — из входящего запроса)
	PublicURL string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration

	// --- SharePoint ---

	// Client ID SharePoint add-in
	SPClientID string
	// Client Secret SharePoint add-in
	SPClientSecret string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	// Базовый URL ACS (используется, если context token не содержит STS URI)
	SPACSURL string
	// URL JWKS для RS256 context tokens (пустой — только HS256)
	SPJWKSURL string
	// Таймаут HTTP-запросов к SharePoint и ACS
	SPTimeout time.Duration
	// Путь к CA-сертификату SharePoint (пустой — системный пул)
	SPCACertPath string
	// Допустимое отклонение времени при проверке context token
	SPTokenLeeway time.Duration

	// --- Signicat Document Service ---

	// Окружение Signicat (preprod, id)
	SignicatEnv string
	// Продукт в URL hosted signing page
	SignicatProduct string
	// Имя сервиса (учётные данные)
	SignicatService string
	// Пароль сервиса (учётные данные)
	SignicatPassword string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	// SOAP endpoint Document Service
	SignicatEndpoint string
	// Таймаут SOAP-запросов и скачивания SDO
	SignicatTimeout time.Duration
	// Путь к CA-сертификату Signicat
	SignicatCACertPath string
	// Профиль и язык запроса
	SignicatProfile  string
	SignicatLanguage string
	// Текст согласия подписанта
	SignText string
	// Методы подписи, предлагаемые на странице выбора
	SigningMethods []string
	// Проверять, что документ — корректный PDF
	ValidatePDF bool

	// --- Сессии ---

	// Ключ шифрования cookie (пустой — случайный при старте)
	SessionSecret string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	// Время жизни cookie и signing-сессии (не меньше срока жизни заказа у провайдера)
	SessionTTL time.Duration
	// Размер in-memory кэша signing-сессий
	SessionCacheSize int
	// Secure flag для cookie
	CookieSecure bool
	// Интервал очистки просроченных сессий
	SessionCleanupInterval time.Duration

	// --- PostgreSQL (опционально) ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	DBSSLMode  string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	DephealthIsEntry       bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("SM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("SM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SM_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("SM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.PublicURL = strings.TrimRight(os.Getenv("SM_PUBLIC_URL"), "/")
	if cfg.PublicURL != "" {
		if err := validateURL(cfg.PublicURL); err != nil {
			return nil, fmt.Errorf("SM_PUBLIC_URL: %w", err)
		}
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("SM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("SM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("SM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("SM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- SharePoint ---

	cfg.SPClientID, err = getEnvRequired("SM_SP_CLIENT_ID")
	if err != nil {
		return nil, err
	}
	cfg.SPClientSecret, err = getEnvRequired("SM_SP_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.SPACSURL = strings.TrimRight(getEnvDefault("SM_SP_ACS_URL", "https://accounts.accesscontrol.windows.net"), "/")
	if err := validateURL(cfg.SPACSURL); err != nil {
		return nil, fmt.Errorf("SM_SP_ACS_URL: %w", err)
	}
	cfg.SPJWKSURL = os.Getenv("SM_SP_JWKS_URL")
	cfg.SPTimeout, err = getEnvDurationPositive("SM_SP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_SP_TIMEOUT: %w", err)
	}
	cfg.SPCACertPath = os.Getenv("SM_SP_CA_CERT_PATH")
	cfg.SPTokenLeeway, err = getEnvDuration("SM_SP_TOKEN_LEEWAY", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SM_SP_TOKEN_LEEWAY: %w", err)
	}

	// --- Signicat ---

	cfg.SignicatEnv = getEnvDefault("SM_SIGNICAT_ENV", "preprod")
	cfg.SignicatProduct = getEnvDefault("SM_SIGNICAT_PRODUCT", "signicat")
	cfg.SignicatService = getEnvDefault("SM_SIGNICAT_SERVICE", "shared")
	cfg.SignicatPassword, err = getEnvRequired("SM_SIGNICAT_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.SignicatEndpoint = getEnvDefault("SM_SIGNICAT_ENDPOINT",
		fmt.Sprintf("https://%s.signicat.com/ws/documentservice-v3", cfg.SignicatEnv))
	if err := validateURL(cfg.SignicatEndpoint); err != nil {
		return nil, fmt.Errorf("SM_SIGNICAT_ENDPOINT: %w", err)
	}
	cfg.SignicatTimeout, err = getEnvDurationPositive("SM_SIGNICAT_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_SIGNICAT_TIMEOUT: %w", err)
	}
	cfg.SignicatCACertPath = os.Getenv("SM_SIGNICAT_CA_CERT_PATH")
	cfg.SignicatProfile = getEnvDefault("SM_SIGNICAT_PROFILE", "slim")
	cfg.SignicatLanguage = getEnvDefault("SM_SIGNICAT_LANGUAGE", "en")
	cfg.SignText = getEnvDefault("SM_SIGN_TEXT", DefaultSignText)
	cfg.SigningMethods = getEnvList("SM_SIGNING_METHODS", []string{"pkisignature", "nbid-sign", "sbid-sign"})
	if len(cfg.SigningMethods) == 0 {
		return nil, fmt.Errorf("SM_SIGNING_METHODS: список методов подписи пуст")
	}
	cfg.ValidatePDF, err = getEnvBool("SM_VALIDATE_PDF", false)
	if err != nil {
		return nil, fmt.Errorf("SM_VALIDATE_PDF: %w", err)
	}

	// --- Сессии ---

	cfg.SessionSecret = os.Getenv("SM_SESSION_SECRET")
	cfg.SessionTTL, err = getEnvDurationPositive("SM_SESSION_TTL", DefaultSessionTTL)
	if err != nil {
		return nil, fmt.Errorf("SM_SESSION_TTL: %w", err)
	}
	cfg.SessionCacheSize, err = getEnvInt("SM_SESSION_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("SM_SESSION_CACHE_SIZE: %w", err)
	}
	if cfg.SessionCacheSize < 1 {
		return nil, fmt.Errorf("SM_SESSION_CACHE_SIZE: значение должно быть >= 1")
	}
	cfg.CookieSecure, err = getEnvBool("SM_COOKIE_SECURE", true)
	if err != nil {
		return nil, fmt.Errorf("SM_COOKIE_SECURE: %w", err)
	}
	cfg.SessionCleanupInterval, err = getEnvDurationPositive("SM_SESSION_CLEANUP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SM_SESSION_CLEANUP_INTERVAL: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = os.Getenv("SM_DB_HOST")
	if cfg.DBHost != "" {
		cfg.DBPort, err = getEnvInt("SM_DB_PORT", 5432)
		if err != nil {
			return nil, fmt.Errorf("SM_DB_PORT: %w", err)
		}
		cfg.DBName, err = getEnvRequired("SM_DB_NAME")
		if err != nil {
			return nil, err
		}
		cfg.DBUser, err = getEnvRequired("SM_DB_USER")
		if err != nil {
			return nil, err
		}
		cfg.DBPassword, err = getEnvRequired("SM_DB_PASSWORD")
		if err != nil {
			return nil, err
		}
		cfg.DBSSLMode = getEnvDefault("SM_DB_SSL_MODE", "disable")
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("SM_DEPHEALTH_GROUP", "signing")
	cfg.DephealthCheckInterval, err = getEnvDurationPositive("SM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseEnabled сообщает, настроено ли хранение сессий в PostgreSQL.
func (c *Config) DatabaseEnabled() bool {
	return c.DBHost != ""
}

// DatabaseDSN возвращает DSN для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword),
		c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationPositive — как getEnvDuration, но значение должно быть > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// getEnvList разбирает список через запятую, пустые элементы отбрасываются.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var result []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// validateURL проверяет, что значение — абсолютный http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q должен начинаться с http:// или https://", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q не содержит хост", raw)
	}
	return nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
