package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/form/v4"

	"github.com/hitoshi/reviewlab/internal/auth"
	"github.com/hitoshi/reviewlab/internal/i18n"
	"github.com/hitoshi/reviewlab/internal/identity"
	"github.com/hitoshi/reviewlab/internal/middleware"
	"github.com/hitoshi/reviewlab/internal/model"
	"github.com/hitoshi/reviewlab/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, newClient auth.ClientFunc, tr auth.Translator, creds auth.Credentials) auth.Result
	SignUp(ctx context.Context, newClient auth.ClientFunc, tr auth.Translator, creds auth.Credentials) auth.Result
	StartSocialLogin(ctx context.Context, newClient auth.ClientFunc, tr auth.Translator, provider model.Provider) auth.Result
}

// compile-time interface check
var _ AuthServiceInterface = (*auth.Service)(nil)

// credentialForm は認証モーダルのフォーム。
type credentialForm struct {
	Email           string `form:"email"`
	Password        string `form:"password"`
	ConfirmPassword string `form:"confirm_password"`
	ReturnTo        string `form:"return_to"`
}

// AuthHandler は認証モーダルとセッション参照のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	flash   *Flash
	bundle  *i18n.Bundle
	decoder *form.Decoder
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, flash *Flash, bundle *i18n.Bundle, decoder *form.Decoder, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		flash:   flash,
		bundle:  bundle,
		decoder: decoder,
		logger:  logger,
	}
}

// SignIn はメールアドレスとパスワードでログインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	h.submitCredentials(w, r, tabSignIn, h.service.SignIn)
}

// SignUp は会員登録する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.submitCredentials(w, r, tabSignUp, h.service.SignUp)
}

type credentialOp func(ctx context.Context, newClient auth.ClientFunc, tr auth.Translator, creds auth.Credentials) auth.Result

func (h *AuthHandler) submitCredentials(w http.ResponseWriter, r *http.Request, tab string, op credentialOp) {
	ctx := r.Context()
	loc := localizerFor(r, h.bundle)

	// 1. フォームのデコード
	var f credentialForm
	if err := decodePostForm(h.decoder, r, &f); err != nil {
		h.logger.Warn("invalid credential form", slog.String("error", err.Error()))
		h.flash.AddToast(ctx, Toast{Kind: string(auth.NoticeError), Message: loc.T("auth.error.form_invalid")})
		h.flash.OpenModal(ctx, ModalState{Tab: tab})
		seeOther(w, r, "/")
		return
	}

	// 2. IdP呼び出し
	result := op(ctx, requestClient(r), loc, auth.Credentials{
		Email:           f.Email,
		Password:        f.Password,
		ConfirmPassword: f.ConfirmPassword,
	})

	// 3. 結果の反映（失敗時はメールアドレスを保ったままモーダルを開く）
	h.finish(w, r, result, ModalState{Tab: tab, Email: f.Email}, f.ReturnTo)
}

// SocialLogin はソーシャルログインを開始し、IdPの認可URLへリダイレクトする。
// POST /auth/oauth/{provider}
func (h *AuthHandler) SocialLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loc := localizerFor(r, h.bundle)

	provider, err := model.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.logger.Warn("unsupported provider requested", slog.String("error", err.Error()))
		h.flash.AddToast(ctx, Toast{Kind: string(auth.NoticeError), Message: loc.T("auth.error.unsupported_provider")})
		h.flash.OpenModal(ctx, ModalState{Tab: tabSignIn})
		seeOther(w, r, "/")
		return
	}

	result := h.service.StartSocialLogin(ctx, requestClient(r), loc, provider)
	h.finish(w, r, result, ModalState{Tab: tabSignIn}, r.PostFormValue("return_to"))
}

func (h *AuthHandler) finish(w http.ResponseWriter, r *http.Request, result auth.Result, onFailure ModalState, returnTo string) {
	ctx := r.Context()

	if result.Notice != nil {
		h.flash.AddToast(ctx, toastFromNotice(result.Notice))
	}
	if !result.OK {
		h.flash.OpenModal(ctx, onFailure)
	}
	if result.OK && result.RedirectURL != "" {
		seeOther(w, r, result.RedirectURL)
		return
	}
	seeOther(w, r, returnPath(returnTo))
}

// SignOut はセッションを破棄する。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loc := localizerFor(r, h.bundle)

	if client, ok := identity.FromContext(ctx); ok {
		if err := client.SignOut(ctx); err != nil {
			// IdPへの失効要求が失敗してもトップページへ戻す
			h.logger.Error("failed to sign out", slog.String("error", err.Error()))
			h.flash.AddToast(ctx, Toast{Kind: string(auth.NoticeError), Message: loc.T("auth.error.signout_failed")})
			seeOther(w, r, "/")
			return
		}
	}

	h.flash.AddToast(ctx, Toast{Kind: string(auth.NoticeSuccess), Message: loc.T("auth.success.signout")})
	seeOther(w, r, "/")
}

// RateLimited は認証フォームの送信がレート制限を超えた場合の応答。
func (h *AuthHandler) RateLimited(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loc := localizerFor(r, h.bundle)

	h.flash.AddToast(ctx, Toast{Kind: string(auth.NoticeError), Message: loc.T("auth.error.rate_limited")})
	h.flash.OpenModal(ctx, ModalState{Tab: tabSignIn, Email: r.PostFormValue("email")})
	seeOther(w, r, "/")
}

type meUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type meResponse struct {
	User    *meUser `json:"user"`
	Loading bool    `json:"loading"`
}

// Me はセッションストアの現在の値を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	state, err := session.Current(r.Context())
	if err != nil {
		h.logger.Error("failed to read session state",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewSessionNotMountedError())
		return
	}

	resp := meResponse{Loading: state.Loading}
	if state.Identity != nil {
		resp.User = &meUser{ID: state.Identity.ID, Email: state.Identity.Email}
	}
	writeJSON(w, http.StatusOK, resp)
}
