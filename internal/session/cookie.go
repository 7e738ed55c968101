// Пакет session — cookie, переносящие контекст SharePoint между
// входом в add-in и callback провайдера подписи.
// Context token шифруется AES-256-GCM, URL сайта хранится открыто.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Имена cookie.
const (
	AppTokenCookieName = "SPAppToken"
	HostURLCookieName  = "SPHostURL"
)

// ErrNoAppToken — cookie с context token отсутствует.
var ErrNoAppToken = errors.New("cookie SPAppToken отсутствует")

// AppTokenData — содержимое зашифрованного cookie SPAppToken.
type AppTokenData struct {
	// Token — context token SharePoint (JWT) в исходном виде.
	Token string `json:"token"`
	// HostURL — сайт, для которого выдан токен.
	HostURL string `json:"host_url"`
	// IssuedAt — время сохранения cookie (Unix timestamp).
	IssuedAt int64 `json:"issued_at"`
}

// CookieManager шифрует context token в cookie и читает его обратно.
type CookieManager struct {
	gcm    cipher.AEAD
	secure bool
	ttl    time.Duration
}

// NewCookieManager создаёт менеджер cookie.
// key — 32-байтовый ключ в base64 или произвольная строка (хешируется SHA-256).
// Если key пустой — генерируется случайный ключ (непостоянный между рестартами).
func NewCookieManager(key string, secure bool, ttl time.Duration) (*CookieManager, error) {
	var keyBytes []byte

	if key == "" {
		keyBytes = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
			return nil, fmt.Errorf("ошибка генерации ключа cookie: %w", err)
		}
	} else {
		var err error
		keyBytes, err = base64.StdEncoding.DecodeString(key)
		if err != nil || len(keyBytes) != 32 {
			h := sha256.Sum256([]byte(key))
			keyBytes = h[:]
		}
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	return &CookieManager{gcm: gcm, secure: secure, ttl: ttl}, nil
}

// Encrypt шифрует AppTokenData и возвращает base64-строку (nonce prepended).
func (cm *CookieManager) Encrypt(data *AppTokenData) (string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации cookie: %w", err)
	}

	nonce := make([]byte, cm.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	ciphertext := cm.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// Decrypt дешифрует base64-строку обратно в AppTokenData.
func (cm *CookieManager) Decrypt(encrypted string) (*AppTokenData, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования base64: %w", err)
	}

	nonceSize := cm.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("зашифрованные данные слишком короткие")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := cm.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка дешифрования cookie: %w", err)
	}

	var data AppTokenData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("ошибка десериализации cookie: %w", err)
	}
	return &data, nil
}

// SetContextCookies устанавливает оба cookie: SPAppToken (зашифрованный)
// и SPHostURL. Вызывается на каждый вход в add-in.
func (cm *CookieManager) SetContextCookies(w http.ResponseWriter, appToken, hostURL string) error {
	encrypted, err := cm.Encrypt(&AppTokenData{
		Token:    appToken,
		HostURL:  hostURL,
		IssuedAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	maxAge := int(cm.ttl.Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     AppTokenCookieName,
		Value:    encrypted,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cm.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     HostURLCookieName,
		Value:    hostURL,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cm.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// AppToken извлекает и дешифрует context token из cookie запроса.
// Возвращает ErrNoAppToken, если cookie отсутствует.
func (cm *CookieManager) AppToken(r *http.Request) (*AppTokenData, error) {
	cookie, err := r.Cookie(AppTokenCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return nil, ErrNoAppToken
		}
		return nil, err
	}
	if cookie.Value == "" {
		return nil, ErrNoAppToken
	}
	return cm.Decrypt(cookie.Value)
}

// HostURL возвращает значение cookie SPHostURL (пустая строка, если его нет).
func (cm *CookieManager) HostURL(r *http.Request) string {
	cookie, err := r.Cookie(HostURLCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ClearContextCookies удаляет оба cookie.
func (cm *CookieManager) ClearContextCookies(w http.ResponseWriter) {
	for _, name := range []string{AppTokenCookieName, HostURLCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cm.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
