package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/hitoshi/reviewlab/internal/identity"
	"github.com/hitoshi/reviewlab/internal/middleware"
	"github.com/hitoshi/reviewlab/internal/model"
)

// RedirectClient はOAuth・メール確認の戻りを処理するIdPクライアントの操作。
type RedirectClient interface {
	OnAuthStateChange(fn identity.Listener) identity.Subscription
	HandleRedirect(ctx context.Context, u *url.URL) error
}

// compile-time interface check
var _ RedirectClient = (*identity.Client)(nil)

// RedirectClientFunc はリクエストに束縛したRedirectClientを返す。
type RedirectClientFunc func(r *http.Request) (RedirectClient, error)

// ContextRedirectClient はsession.Middlewareがcontextに格納したクライアントを返す。
func ContextRedirectClient(r *http.Request) (RedirectClient, error) {
	c, ok := identity.FromContext(r.Context())
	if !ok {
		return nil, identity.ErrNotConfigured
	}
	return c, nil
}

// CallbackHandler はIdPからの戻り（/auth/callback）を処理する。
type CallbackHandler struct {
	newClient RedirectClientFunc
	views     *Views
	logger    *slog.Logger
}

// NewCallbackHandler はCallbackHandlerを生成する。
func NewCallbackHandler(newClient RedirectClientFunc, views *Views, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{newClient: newClient, views: views, logger: logger}
}

// Callback はリダイレクトのパラメータをクライアントに処理させ、
// SIGNED_INが通知された場合のみトップページへ遷移する。
// 通知が無い場合は空のページを表示する。
// GET /auth/callback
func (h *CallbackHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.RequestIDFromContext(ctx)

	// 1. クライアント生成
	client, err := h.newClient(r)
	if err != nil {
		h.logger.Error("identity client unavailable on callback",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		h.renderEmpty(w, r)
		return
	}

	// 2. 変更通知の購読（戻る時に解除する）
	var signedIn atomic.Bool
	sub := client.OnAuthStateChange(func(event model.AuthChangeEvent, _ *model.Session) {
		if event == model.AuthEventSignedIn {
			signedIn.Store(true)
		}
	})
	defer sub.Unsubscribe()

	// 3. リダイレクトのパラメータを処理
	if err := client.HandleRedirect(ctx, r.URL); err != nil {
		h.logger.Warn("failed to complete auth redirect",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
	}

	// 4. サインイン済みならトップページへ
	if signedIn.Load() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderEmpty(w, r)
}

func (h *CallbackHandler) renderEmpty(w http.ResponseWriter, r *http.Request) {
	// 通知を消費しないよう共通の値は組み立てない
	data := &templateData{Loc: localizerFor(r, h.views.bundle), Bare: true}
	h.views.render(w, r, http.StatusOK, pageCallback, data)
}
