package handler

import (
	"context"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"

	"github.com/alexedwards/scs/v2"

	"github.com/hitoshi/reviewlab/internal/auth"
	"github.com/hitoshi/reviewlab/internal/i18n"
	"github.com/hitoshi/reviewlab/internal/identity"
	"github.com/hitoshi/reviewlab/internal/identity/identitytest"
	"github.com/hitoshi/reviewlab/internal/metrics"
	"github.com/hitoshi/reviewlab/internal/middleware"
	"github.com/hitoshi/reviewlab/internal/model"
	"github.com/hitoshi/reviewlab/internal/place"
	"github.com/hitoshi/reviewlab/internal/repository"
	"github.com/hitoshi/reviewlab/internal/security"
)

// --- モック定義 ---

type mockPlaceService struct {
	listFn          func(ctx context.Context, owner *model.Identity, query string) ([]model.Place, error)
	addFn           func(ctx context.Context, owner *model.Identity) (*model.Place, error)
	updateFieldFn   func(ctx context.Context, owner *model.Identity, id int, field model.PlaceField, value string) (*model.Place, error)
	requestReviewFn func(ctx context.Context, owner *model.Identity) ([]model.Place, error)
	mutations       int
}

func (m *mockPlaceService) List(ctx context.Context, owner *model.Identity, query string) ([]model.Place, error) {
	if m.listFn != nil {
		return m.listFn(ctx, owner, query)
	}
	return model.SeedPlaces(), nil
}

func (m *mockPlaceService) Add(ctx context.Context, owner *model.Identity) (*model.Place, error) {
	m.mutations++
	if m.addFn != nil {
		return m.addFn(ctx, owner)
	}
	return &model.Place{ID: 3}, nil
}

func (m *mockPlaceService) UpdateField(ctx context.Context, owner *model.Identity, id int, field model.PlaceField, value string) (*model.Place, error) {
	m.mutations++
	if m.updateFieldFn != nil {
		return m.updateFieldFn(ctx, owner, id, field, value)
	}
	return &model.Place{ID: id}, nil
}

func (m *mockPlaceService) RequestReview(ctx context.Context, owner *model.Identity) ([]model.Place, error) {
	m.mutations++
	if m.requestReviewFn != nil {
		return m.requestReviewFn(ctx, owner)
	}
	return model.SeedPlaces(), nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

// --- テスト用アプリケーション ---

// csrfTokenRX はページからCSRFトークンを取り出す。
var csrfTokenRX = regexp.MustCompile(`<input type="hidden" name="csrf_token" value="(.+)">`)

func extractCSRFToken(t *testing.T, body string) string {
	t.Helper()

	matches := csrfTokenRX.FindStringSubmatch(body)
	if len(matches) < 2 {
		t.Fatal("no csrf token found in body")
	}
	return html.UnescapeString(matches[1])
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestBundle(t *testing.T) *i18n.Bundle {
	t.Helper()
	bundle, err := i18n.LoadEmbedded("ko")
	if err != nil {
		t.Fatalf("failed to load locales: %v", err)
	}
	return bundle
}

// testApp はルーターの依存関係。テストごとに必要な項目を上書きする。
type testApp struct {
	idp  *identitytest.Server
	deps *RouterDeps
}

// newTestApp はIdPのテストサーバーに接続したルーターの依存関係を組み立てる。
// 業者サービスはインメモリの実装を使う。
func newTestApp(t *testing.T) *testApp {
	t.Helper()

	idp := identitytest.NewServer(t)
	logger := discardLogger()

	idpCfg := idp.Config()
	idpCfg.Logger = logger
	factory := identity.NewFactory(idpCfg, identity.CookieOptions{})

	sessions := scs.New()
	sessions.Cookie.Secure = false

	placeService := place.NewService(
		repository.NewMemoryPlaceRepo(),
		security.NewTextSanitizer(),
		metrics.NopCollector{},
		logger,
	)

	return &testApp{
		idp: idp,
		deps: &RouterDeps{
			Logger:       logger,
			Identity:     factory,
			IdentityURL:  idp.URL,
			Sessions:     sessions,
			Bundle:       newTestBundle(t),
			AuthService:  auth.NewService("http://localhost/auth/callback", metrics.NopCollector{}, logger),
			PlaceService: placeService,
			Metrics:      metrics.NopCollector{},
		},
	}
}

// unconfigured はIdPの接続設定が無い状態にする。
func (a *testApp) unconfigured() *testApp {
	a.deps.Identity = identity.NewFactory(identity.Config{}, identity.CookieOptions{})
	return a
}

// withoutJWTSecret はトークンの署名鍵を持たない構成にする。利用者はIdPへの照会で確認する。
func (a *testApp) withoutJWTSecret() *testApp {
	cfg := a.idp.Config()
	cfg.JWTSecret = ""
	cfg.Logger = discardLogger()
	a.deps.Identity = identity.NewFactory(cfg, identity.CookieOptions{})
	return a
}

func (a *testApp) withRateLimiter(t *testing.T, cfg middleware.RateLimiterConfig) *testApp {
	t.Helper()
	rl := middleware.NewRateLimiter(cfg, discardLogger())
	t.Cleanup(rl.Stop)
	a.deps.RateLimiter = rl
	return a
}

func (a *testApp) server(t *testing.T) *testServer {
	t.Helper()
	h, err := NewRouter(a.deps)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return newTestServer(t, h)
}

// testServer はCookieJarを持ち、リダイレクトを追わないテストサーバー。
type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T, h http.Handler) *testServer {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	ts.Client().Jar = jar
	ts.Client().CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &testServer{ts}
}

// addCookie はテストサーバー宛てのCookieをJarに追加する。
func (ts *testServer) addCookie(t *testing.T, c *http.Cookie) {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	c.Path = "/"
	ts.Client().Jar.SetCookies(u, []*http.Cookie{c})
}

// cookie はJarに保存されたCookieの値を返す。
func (ts *testServer) cookie(t *testing.T, name string) (string, bool) {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range ts.Client().Jar.Cookies(u) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

func (ts *testServer) get(t *testing.T, urlPath string) (int, http.Header, string) {
	t.Helper()

	rs, err := ts.Client().Get(ts.URL + urlPath)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Body.Close()

	body, err := io.ReadAll(rs.Body)
	if err != nil {
		t.Fatal(err)
	}
	return rs.StatusCode, rs.Header, string(body)
}

func (ts *testServer) postForm(t *testing.T, urlPath string, form url.Values) (int, http.Header, string) {
	t.Helper()

	rs, err := ts.Client().PostForm(ts.URL+urlPath, form)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Body.Close()

	body, err := io.ReadAll(rs.Body)
	if err != nil {
		t.Fatal(err)
	}
	return rs.StatusCode, rs.Header, string(body)
}

// csrfForm はトップページからCSRFトークンを取得し、フォームに設定する。
func (ts *testServer) csrfForm(t *testing.T, values url.Values) url.Values {
	t.Helper()
	_, _, body := ts.get(t, "/")
	if values == nil {
		values = url.Values{}
	}
	values.Set("csrf_token", extractCSRFToken(t, body))
	return values
}
