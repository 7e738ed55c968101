package sharepoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
)

// newACSServer создаёт mock ACS, выдающий access token "at-<n>".
func newACSServer(t *testing.T, path string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != path {
			t.Errorf("неожиданный запрос %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, ожидался refresh_token", got)
		}
		if got := r.PostForm.Get("client_id"); got != testClientID+"@"+testRealm {
			t.Errorf("client_id = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "refresh-1" {
			t.Errorf("refresh_token = %q", got)
		}
		resource := r.PostForm.Get("resource")
		n := hits.Add(1)

		w.Header().Set("Content-Type", "application/json")
		// expires_in приходит строкой, как в ACS
		_, _ = w.Write([]byte(`{"token_type":"Bearer","access_token":"at-` +
			strconv.Itoa(int(n)) + `","expires_in":"3599","resource":"` + resource + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testContextToken(stsURI string) *ContextToken {
	return &ContextToken{
		ClientID:                testClientID,
		Realm:                   testRealm,
		RefreshToken:            "refresh-1",
		CacheKey:                "cache-key-1",
		SecurityTokenServiceURI: stsURI,
	}
}

func TestAccessToken_ExchangeAndCache(t *testing.T) {
	var hits atomic.Int32
	var resource atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		resource.Store(r.PostForm.Get("resource"))
		hits.Add(1)
		_, _ = w.Write([]byte(`{"token_type":"Bearer","access_token":"at-1","expires_in":"3599"}`))
	}))
	defer srv.Close()

	c := NewTokenClient(srv.Client(), "https://unused.test", "secret", 10, testLogger())
	token := testContextToken(srv.URL + "/sts")

	for i := 0; i < 3; i++ {
		got, err := c.AccessToken(context.Background(), token, "contoso.sharepoint.com")
		if err != nil {
			t.Fatalf("AccessToken: %v", err)
		}
		if got != "at-1" {
			t.Errorf("AccessToken = %q, ожидался at-1", got)
		}
	}

	if n := hits.Load(); n != 1 {
		t.Errorf("запросов к ACS = %d, ожидался 1 (кэш)", n)
	}
	wantResource := SharePointPrincipal + "/contoso.sharepoint.com@" + testRealm
	if got := resource.Load(); got != wantResource {
		t.Errorf("resource = %v, ожидался %q", got, wantResource)
	}
}

func TestAccessToken_CachePerHost(t *testing.T) {
	var hits atomic.Int32
	srv := newACSServer(t, "/sts", &hits)

	c := NewTokenClient(srv.Client(), "", "secret", 10, testLogger())
	token := testContextToken(srv.URL + "/sts")

	first, err := c.AccessToken(context.Background(), token, "a.sharepoint.com")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	second, err := c.AccessToken(context.Background(), token, "B.sharepoint.com")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if first == second {
		t.Errorf("токены для разных хостов совпадают: %q", first)
	}

	// Регистр хоста не влияет на ключ кэша
	if _, err := c.AccessToken(context.Background(), token, "b.sharepoint.com"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("запросов к ACS = %d, ожидалось 2", n)
	}
}

func TestAccessToken_DefaultACSURL(t *testing.T) {
	var hits atomic.Int32
	srv := newACSServer(t, "/"+testRealm+"/tokens/OAuth/2", &hits)

	c := NewTokenClient(srv.Client(), srv.URL+"/", "secret", 10, testLogger())
	if _, err := c.AccessToken(context.Background(), testContextToken(""), "contoso.sharepoint.com"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("запросов к ACS = %d, ожидался 1", n)
	}
}

func TestAccessToken_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"статус 400", http.StatusBadRequest, `{"error":"invalid_grant"}`},
		{"пустой токен", http.StatusOK, `{"token_type":"Bearer","access_token":""}`},
		{"невалидный JSON", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewTokenClient(srv.Client(), "", "secret", 10, testLogger())
			if _, err := c.AccessToken(context.Background(), testContextToken(srv.URL), "contoso.sharepoint.com"); err == nil {
				t.Error("ожидалась ошибка")
			}
		})
	}
}
