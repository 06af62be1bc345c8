package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/form/v4"
	"github.com/justinas/alice"
	"github.com/justinas/nosurf"

	"github.com/hitoshi/reviewlab/internal/i18n"
	"github.com/hitoshi/reviewlab/internal/identity"
	"github.com/hitoshi/reviewlab/internal/metrics"
	"github.com/hitoshi/reviewlab/internal/middleware"
	"github.com/hitoshi/reviewlab/internal/session"
	"github.com/hitoshi/reviewlab/ui"
)

// compile-time interface check
var _ middleware.SessionRefresher = (*identity.Client)(nil)

// HealthChecker はヘルスチェックで疎通確認する依存（DB接続など）。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// IdP
	Identity    *identity.Factory
	IdentityURL string

	// 画面
	Sessions     *scs.SessionManager
	Bundle       *i18n.Bundle
	CookieSecure bool

	// サービス
	AuthService  AuthServiceInterface
	PlaceService PlaceServiceInterface

	// 運用
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
	RateLimiter    *middleware.RateLimiter
	HealthChecker  HealthChecker
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したハンドラーを返す。
//
// ミドルウェアの実行順序:
//
//	standard: RealIP → Recovery → Logging → SecurityHeaders → Gatekeeper
//	dynamic:  LoadAndSave(scs) → CSRF(nosurf) → Locale → Session → UserAnnotation
//
// 静的ファイル・ヘルスチェック・メトリクスはdynamicを通さない。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.NopCollector{}
	}

	// 1. 画面と各ハンドラーの構築
	flash := NewFlash(deps.Sessions)
	views, err := NewViews(flash, deps.Bundle, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build templates: %w", err)
	}
	decoder := form.NewDecoder()

	authHandler := NewAuthHandler(deps.AuthService, flash, deps.Bundle, decoder, logger)
	callbackHandler := NewCallbackHandler(ContextRedirectClient, views, logger)
	placeHandler := NewPlaceHandler(deps.PlaceService, views, flash, decoder, logger)

	// 2. ミドルウェアチェーン
	standard := alice.New(
		chimw.RealIP,
		middleware.NewRecoveryMiddleware(logger),
		middleware.NewLoggingMiddleware(logger, recorder),
		middleware.NewSecurityHeadersMiddleware(deps.IdentityURL),
		middleware.NewGatekeeperMiddleware(middleware.GatekeeperConfig{
			Configured: deps.Identity.Configured(),
			Build: func(w http.ResponseWriter, r *http.Request) (middleware.SessionRefresher, error) {
				c, err := deps.Identity.ForRequest(w, r)
				if err != nil {
					return nil, err
				}
				return c, nil
			},
			Recorder: recorder,
			Logger:   logger,
		}),
	)

	dynamic := alice.New(
		deps.Sessions.LoadAndSave,
		noSurf(deps.CookieSecure, logger),
		NewLocaleMiddleware(deps.Bundle, deps.CookieSecure),
		session.Middleware(deps.Identity.ForRequest, logger),
		middleware.NewUserAnnotationMiddleware(),
	)

	credential := dynamic
	if deps.RateLimiter != nil {
		credential = dynamic.Append(deps.RateLimiter.Middleware(http.HandlerFunc(authHandler.RateLimited)))
	}

	// 3. ルーティング
	r := chi.NewRouter()

	r.Handle("/static/*", http.FileServerFS(ui.Files))
	r.Get("/health", healthHandler(deps.HealthChecker, logger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Method(http.MethodGet, "/", dynamic.ThenFunc(placeHandler.Home))
	r.Method(http.MethodPost, "/places", dynamic.ThenFunc(placeHandler.Add))
	r.Method(http.MethodPost, "/places/{id}", dynamic.ThenFunc(placeHandler.Update))
	r.Method(http.MethodPost, "/reviews", dynamic.ThenFunc(placeHandler.RequestReview))

	r.Route("/auth", func(r chi.Router) {
		r.Method(http.MethodPost, "/signin", credential.ThenFunc(authHandler.SignIn))
		r.Method(http.MethodPost, "/signup", credential.ThenFunc(authHandler.SignUp))
		r.Method(http.MethodPost, "/oauth/{provider}", credential.ThenFunc(authHandler.SocialLogin))
		r.Method(http.MethodGet, "/callback", dynamic.ThenFunc(callbackHandler.Callback))
		r.Method(http.MethodPost, "/signout", dynamic.ThenFunc(authHandler.SignOut))
		r.Method(http.MethodGet, "/me", dynamic.ThenFunc(authHandler.Me))
	})

	return standard.Then(r), nil
}

// noSurf はHTMLフォームのCSRF対策ミドルウェアを返す。
func noSurf(secure bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		csrfHandler := nosurf.New(next)
		csrfHandler.SetBaseCookie(http.Cookie{
			HttpOnly: true,
			Path:     "/",
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
		csrfHandler.SetFailureHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Warn("csrf token rejected",
				slog.String("path", r.URL.Path),
				slog.String("reason", fmt.Sprint(nosurf.Reason(r))),
			)
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		}))
		return csrfHandler
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler はサーバーと依存先の疎通を返す。
// GET /health
func healthHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				logger.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
