package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/signing-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/signing-module/internal/service"
	"github.com/bigkaa/goartstore/signing-module/internal/session"
	"github.com/bigkaa/goartstore/signing-module/internal/sharepoint"
)

const testSite = "https://contoso.sharepoint.com/sites/legal"

// mockSigning — SigningService с функциями-заглушками.
type mockSigning struct {
	startFn    func(in service.StartInput) (*service.StartResult, error)
	completeFn func(in service.CompleteInput) (*service.CompleteResult, error)
}

func (m *mockSigning) Start(_ context.Context, in service.StartInput) (*service.StartResult, error) {
	return m.startFn(in)
}

func (m *mockSigning) Complete(_ context.Context, in service.CompleteInput) (*service.CompleteResult, error) {
	return m.completeFn(in)
}

func (m *mockSigning) Methods() []string {
	return []string{"pkisignature", "nbid-sign"}
}

// mockValidator принимает только токен "valid-token".
type mockValidator struct {
	authorities []string
}

func (m *mockValidator) Validate(_ context.Context, raw, appAuthority string) (*sharepoint.ContextToken, error) {
	m.authorities = append(m.authorities, appAuthority)
	if raw != "valid-token" {
		return nil, sharepoint.ErrInvalidContextToken
	}
	return &sharepoint.ContextToken{Raw: raw}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type handlerEnv struct {
	handler   *HomeHandler
	signing   *mockSigning
	validator *mockValidator
	cookies   *session.CookieManager
	router    http.Handler
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	cookies, err := session.NewCookieManager("handler-secret", false, time.Hour)
	if err != nil {
		t.Fatalf("NewCookieManager: %v", err)
	}
	env := &handlerEnv{
		signing:   &mockSigning{},
		validator: &mockValidator{},
		cookies:   cookies,
	}
	env.handler = NewHomeHandler(env.signing, env.validator, cookies, "https://signing.example.com", testLogger())

	spFilter := middleware.SharePointContext(cookies, "client-1", "https://signing.example.com", testLogger())
	mux := http.NewServeMux()
	mux.Handle("/Home/Index", spFilter(http.HandlerFunc(env.handler.Index)))
	mux.Handle("/Home/Sign", spFilter(http.HandlerFunc(env.handler.Sign)))
	mux.HandleFunc("/Home/Return", env.handler.Return)
	mux.HandleFunc("/Home/Ping", env.handler.Ping)
	env.router = mux
	return env
}

func (env *handlerEnv) contextCookies(t *testing.T, token string) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := env.cookies.SetContextCookies(rec, token, testSite); err != nil {
		t.Fatalf("SetContextCookies: %v", err)
	}
	return rec.Result().Cookies()
}

func (env *handlerEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func indexQuery() string {
	q := url.Values{
		"SPHostURL":    {testSite},
		"SPListItemId": {"7"},
		"SPListId":     {"L1"},
		"SPSource":     {testSite + "/Docs/Forms/AllItems.aspx"},
		"SPListURLDir": {"/sites/legal/Docs"},
		"SPItemUrl":    {"/sites/legal/Docs/Contract.pdf"},
	}
	return q.Encode()
}

func TestIndex_SetsCookiesAndRendersForm(t *testing.T) {
	env := newHandlerEnv(t)

	form := url.Values{"SPAppToken": {"valid-token"}}
	req := httptest.NewRequest(http.MethodPost, "/Home/Index?"+indexQuery(), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	if c := cookies[session.HostURLCookieName]; c == nil || c.Value != testSite {
		t.Errorf("cookie SPHostURL = %+v", c)
	}
	appCookie := cookies[session.AppTokenCookieName]
	if appCookie == nil || !appCookie.HttpOnly {
		t.Fatalf("cookie SPAppToken = %+v", appCookie)
	}
	data, err := env.cookies.Decrypt(appCookie.Value)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if data.Token != "valid-token" {
		t.Errorf("token в cookie = %q", data.Token)
	}

	body := rec.Body.String()
	for _, want := range []string{`name="SPListId" value="L1"`, `name="SPListItemId" value="7"`, `value="pkisignature"`} {
		if !strings.Contains(body, want) {
			t.Errorf("страница не содержит %q", want)
		}
	}
	if env.validator.authorities[0] != "signing.example.com" {
		t.Errorf("appAuthority = %q", env.validator.authorities[0])
	}
}

func TestIndex_InvalidToken(t *testing.T) {
	env := newHandlerEnv(t)

	form := url.Values{"SPAppToken": {"forged"}}
	req := httptest.NewRequest(http.MethodPost, "/Home/Index?"+indexQuery(), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("статус = %d, ожидался 401", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.AppTokenCookieName && c.MaxAge >= 0 {
			t.Error("недействительный токен не должен сохраняться в cookie")
		}
	}
}

func TestSign_Redirect(t *testing.T) {
	env := newHandlerEnv(t)

	var got service.StartInput
	env.signing.startFn = func(in service.StartInput) (*service.StartResult, error) {
		got = in
		return &service.StartResult{RedirectURL: "https://preprod.signicat.com/std/docaction/signicat?request_id=req-1"}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/Home/Sign?"+indexQuery()+"&Method=pkisignature", nil)
	for _, c := range env.contextCookies(t, "valid-token") {
		req.AddCookie(c)
	}
	rec := env.do(req)

	if rec.Code != http.StatusFound {
		t.Fatalf("статус = %d, ожидался 302: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "https://preprod.signicat.com/") {
		t.Errorf("Location = %q", loc)
	}
	if got.Method != "pkisignature" || got.Context.ListID != "L1" || got.Context.ListItemID != "7" {
		t.Errorf("StartInput = %+v", got)
	}
	if got.Context.AppToken != "valid-token" || got.Context.HostURL != testSite {
		t.Errorf("контекст SharePoint = %+v", got.Context)
	}
	if got.BaseURL != "https://signing.example.com" || got.AppAuthority != "signing.example.com" {
		t.Errorf("BaseURL/AppAuthority = %q/%q", got.BaseURL, got.AppAuthority)
	}
}

func TestSign_NoTokenRedirectsToSharePoint(t *testing.T) {
	env := newHandlerEnv(t)
	env.signing.startFn = func(service.StartInput) (*service.StartResult, error) {
		t.Fatal("Start не должен вызываться")
		return nil, nil
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/Home/Sign?"+indexQuery()+"&Method=pkisignature", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("статус = %d, ожидался 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, testSite+"/_layouts/15/appredirect.aspx?client_id=client-1") {
		t.Errorf("Location = %q", loc)
	}
}

func TestSign_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{fmt.Errorf("%w: метод", service.ErrInvalidInput), http.StatusBadRequest, "VALIDATION_ERROR"},
		{fmt.Errorf("%w: %w", service.ErrAuthUnavailable, service.ErrNoContextToken), http.StatusUnauthorized, "UNAUTHORIZED"},
		{fmt.Errorf("%w: %w", service.ErrAuthUnavailable, sharepoint.ErrInvalidContextToken), http.StatusUnauthorized, "UNAUTHORIZED"},
		{fmt.Errorf("%w: acs down", service.ErrAuthUnavailable), http.StatusBadGateway, "SP_UNAVAILABLE"},
		{fmt.Errorf("%w: 503", service.ErrSharePoint), http.StatusBadGateway, "SP_UNAVAILABLE"},
		{fmt.Errorf("%w: docx", service.ErrUnsupportedDocument), http.StatusUnprocessableEntity, "UNSUPPORTED_DOCUMENT"},
		{fmt.Errorf("%w: fault", service.ErrSignatureService), http.StatusBadGateway, "SIGNATURE_SERVICE_UNAVAILABLE"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			env := newHandlerEnv(t)
			env.signing.startFn = func(service.StartInput) (*service.StartResult, error) {
				return nil, tt.err
			}

			req := httptest.NewRequest(http.MethodGet, "/Home/Sign?"+indexQuery()+"&Method=pkisignature", nil)
			for _, c := range env.contextCookies(t, "valid-token") {
				req.AddCookie(c)
			}
			rec := env.do(req)

			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.want)
			}
			if !strings.Contains(rec.Body.String(), tt.code) {
				t.Errorf("тело = %s, ожидался код %s", rec.Body.String(), tt.code)
			}
		})
	}
}

func returnURL() string {
	q := url.Values{
		"rid":          {"req-1"},
		"SPListId":     {"L1"},
		"documentName": {"Contract.pdf"},
		"SPSource":     {testSite + "/Docs/Forms/AllItems.aspx"},
		"SPListURLDir": {"/sites/legal/Docs"},
	}
	return "/Home/Return?" + q.Encode()
}

func TestReturn_Completed(t *testing.T) {
	env := newHandlerEnv(t)

	var got service.CompleteInput
	env.signing.completeFn = func(in service.CompleteInput) (*service.CompleteResult, error) {
		got = in
		return &service.CompleteResult{RedirectURL: in.Source, Outcome: service.OutcomeCompleted}, nil
	}

	req := httptest.NewRequest(http.MethodGet, returnURL(), nil)
	for _, c := range env.contextCookies(t, "valid-token") {
		req.AddCookie(c)
	}
	rec := env.do(req)

	if rec.Code != http.StatusFound {
		t.Fatalf("статус = %d, ожидался 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != testSite+"/Docs/Forms/AllItems.aspx" {
		t.Errorf("Location = %q", loc)
	}
	if got.RequestID != "req-1" || got.DocumentName != "Contract.pdf" || got.ListURLDir != "/sites/legal/Docs" {
		t.Errorf("CompleteInput = %+v", got)
	}
	if got.AppToken != "valid-token" || got.HostURL != testSite {
		t.Errorf("cookie в CompleteInput: token=%q host=%q", got.AppToken, got.HostURL)
	}
}

func TestReturn_WithoutCookies(t *testing.T) {
	env := newHandlerEnv(t)

	var got service.CompleteInput
	env.signing.completeFn = func(in service.CompleteInput) (*service.CompleteResult, error) {
		got = in
		return &service.CompleteResult{RedirectURL: in.Source, Outcome: service.OutcomeNoResult}, nil
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, returnURL(), nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("статус = %d, ожидался 302", rec.Code)
	}
	if got.AppToken != "" || got.HostURL != "" {
		t.Errorf("CompleteInput без cookie = %+v", got)
	}
}

func TestReturn_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: req-x", service.ErrUnknownRequest), http.StatusNotFound},
		{fmt.Errorf("%w: SPSource", service.ErrCorrelationMismatch), http.StatusForbidden},
		{fmt.Errorf("%w: rid", service.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: 401", service.ErrSignatureService), http.StatusBadGateway},
	}

	for _, tt := range tests {
		env := newHandlerEnv(t)
		env.signing.completeFn = func(service.CompleteInput) (*service.CompleteResult, error) {
			return nil, tt.err
		}
		rec := env.do(httptest.NewRequest(http.MethodGet, returnURL(), nil))
		if rec.Code != tt.want {
			t.Errorf("%v: статус = %d, ожидался %d", tt.err, rec.Code, tt.want)
		}
		if rec.Header().Get("Location") != "" {
			t.Errorf("%v: редирект при ошибке", tt.err)
		}
	}
}

func TestReturn_DuplicateParameter(t *testing.T) {
	env := newHandlerEnv(t)
	env.signing.completeFn = func(service.CompleteInput) (*service.CompleteResult, error) {
		t.Fatal("Complete не должен вызываться")
		return nil, nil
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/Home/Return?rid=a&rid=b", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, ожидался 400", rec.Code)
	}
}

func TestPing(t *testing.T) {
	env := newHandlerEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/Home/Ping", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Pong") {
		t.Errorf("Ping: статус %d, тело %q", rec.Code, rec.Body.String())
	}
}
