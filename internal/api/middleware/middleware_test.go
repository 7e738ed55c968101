package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/signing-module/internal/session"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const testSite = "https://contoso.sharepoint.com/sites/legal"

func newCookies(t *testing.T) *session.CookieManager {
	t.Helper()
	cm, err := session.NewCookieManager("test-secret", false, time.Hour)
	if err != nil {
		t.Fatalf("NewCookieManager: %v", err)
	}
	return cm
}

// captureSP — обработчик, сохраняющий SPContext запроса.
func captureSP(got **SPContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = SPContextFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

// cookieFor возвращает cookie SPAppToken, выданные для hostURL.
func cookieFor(t *testing.T, cm *session.CookieManager, token, hostURL string) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := cm.SetContextCookies(rec, token, hostURL); err != nil {
		t.Fatalf("SetContextCookies: %v", err)
	}
	return rec.Result().Cookies()
}

func TestSharePointContext_FormToken(t *testing.T) {
	cm := newCookies(t)
	var got *SPContext
	h := SharePointContext(cm, "client-1", "", testLogger())(captureSP(&got))

	form := url.Values{"SPAppToken": {"jwt-from-form"}}
	req := httptest.NewRequest(http.MethodPost, "/Home/Index?SPHostURL="+url.QueryEscape(testSite),
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200", rec.Code)
	}
	if got == nil || got.Token != "jwt-from-form" || !got.FromForm {
		t.Errorf("SPContext = %+v", got)
	}
	if got.HostURL != testSite {
		t.Errorf("HostURL = %q, ожидался %q", got.HostURL, testSite)
	}
}

func TestSharePointContext_CookieToken(t *testing.T) {
	cm := newCookies(t)
	var got *SPContext
	h := SharePointContext(cm, "client-1", "", testLogger())(captureSP(&got))

	req := httptest.NewRequest(http.MethodGet, "/Home/Sign?SPHostURL="+url.QueryEscape(testSite+"/"), nil)
	for _, c := range cookieFor(t, cm, "jwt-from-cookie", testSite) {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200", rec.Code)
	}
	if got == nil || got.Token != "jwt-from-cookie" || got.FromForm {
		t.Errorf("SPContext = %+v", got)
	}
}

func TestSharePointContext_Redirect(t *testing.T) {
	cm := newCookies(t)
	var got *SPContext
	h := SharePointContext(cm, "client-1", "https://signing.example.com", testLogger())(captureSP(&got))

	// Cookie выдан для другого сайта — не используется
	req := httptest.NewRequest(http.MethodGet,
		"/Home/Sign?SPHostURL="+url.QueryEscape(testSite)+"&SPListId=L1&SPListItemId=7&Method=pkisignature", nil)
	for _, c := range cookieFor(t, cm, "jwt-other", "https://other.sharepoint.com") {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("статус = %d, ожидался 302", rec.Code)
	}
	if got != nil {
		t.Error("обработчик не должен вызываться")
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	if loc.Host != "contoso.sharepoint.com" || loc.Path != "/sites/legal/_layouts/15/appredirect.aspx" {
		t.Errorf("Location = %q", loc.String())
	}
	if loc.Query().Get("client_id") != "client-1" {
		t.Errorf("client_id = %q", loc.Query().Get("client_id"))
	}

	redirectURI := loc.Query().Get("redirect_uri")
	if !strings.HasPrefix(redirectURI, "https://signing.example.com/Home/Sign?{StandardTokens}&") {
		t.Fatalf("redirect_uri = %q", redirectURI)
	}
	back, err := url.ParseQuery(redirectURI[strings.Index(redirectURI, "&")+1:])
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if back.Get("SPHostURL") != "" {
		t.Error("SPHostURL должен подставляться SharePoint через {StandardTokens}")
	}
	if back.Get("SPListId") != "L1" || back.Get("Method") != "pkisignature" || back.Get(redirectedParam) != "1" {
		t.Errorf("параметры redirect_uri = %v", back)
	}
}

func TestSharePointContext_Errors(t *testing.T) {
	cm := newCookies(t)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"нет SPHostURL", "/Home/Index", http.StatusBadRequest},
		{"javascript URL", "/Home/Index?SPHostURL=" + url.QueryEscape("javascript:alert(1)"), http.StatusBadRequest},
		{"относительный URL", "/Home/Index?SPHostURL=%2Fsites%2Flegal", http.StatusBadRequest},
		{"повторный возврат без токена", "/Home/Index?SPHostURL=" + url.QueryEscape(testSite) + "&" + redirectedParam + "=1", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *SPContext
			h := SharePointContext(cm, "client-1", "", testLogger())(captureSP(&got))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.want)
			}
			if got != nil {
				t.Error("обработчик не должен вызываться")
			}
		})
	}
}

func TestBaseURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/Home/Index", nil)
	req.Host = "signing.local:8040"

	if got := BaseURL("", req); got != "http://signing.local:8040" {
		t.Errorf("BaseURL = %q", got)
	}
	req.Header.Set("X-Forwarded-Proto", "https")
	if got := BaseURL("", req); got != "https://signing.local:8040" {
		t.Errorf("BaseURL за прокси = %q", got)
	}
	if got := BaseURL("https://signing.example.com/", req); got != "https://signing.example.com" {
		t.Errorf("BaseURL с publicURL = %q", got)
	}
}

func TestRequestLogger_RequestID(t *testing.T) {
	var seen string
	h := RequestLogger(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/Home/Ping", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("request id = %q, заголовок %q", seen, rec.Header().Get(RequestIDHeader))
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("статус = %d, ожидался 418", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/Home/Ping", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "upstream-id" {
		t.Errorf("request id = %q, ожидался upstream-id", seen)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/Home/Sign":          "/Home/Sign",
		"/Home/Return":        "/Home/Return",
		"/metrics":            "/metrics",
		"/wp-admin/login.php": "other",
		"/Home/Sign/extra":    "other",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, ожидался %q", in, got, want)
		}
	}
}
