package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/reviewlab/internal/model"
)

// SignInWithPassword はメールアドレスとパスワードでサインインする。
// 成功時はセッションを保存しSIGNED_INを通知する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	var payload sessionPayload
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}},
		map[string]string{"email": email, "password": password}, "", &payload)
	if err != nil {
		return nil, err
	}
	return c.establish(&payload)
}

// SignUp はメールアドレスとパスワードでユーザーを登録する。
// メール確認が必要な設定ではセッションは発行されず、nil, nilを返す。
// 確認メールのリンクはredirectToへ戻る（PKCEフロー）。
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) (*model.Session, error) {
	verifier, err := c.beginPKCE()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	body := map[string]any{
		"email":                 email,
		"password":              password,
		"data":                  map[string]any{},
		"code_challenge":        codeChallenge(verifier),
		"code_challenge_method": codeChallengeMethod,
	}

	var payload sessionPayload
	if err := c.do(ctx, http.MethodPost, "/signup", query, body, "", &payload); err != nil {
		return nil, err
	}

	if payload.AccessToken == "" {
		c.logger.Info("sign up requires email confirmation")
		return nil, nil
	}
	return c.establish(&payload)
}

// OAuthOptions はソーシャルログイン開始時のオプション。
type OAuthOptions struct {
	RedirectTo  string
	QueryParams map[string]string
}

// SignInWithOAuth はソーシャルログインの認可URLを生成する。
// PKCEのverifierを保存し、呼び出し側は返したURLへリダイレクトする。
func (c *Client) SignInWithOAuth(provider model.Provider, opts OAuthOptions) (string, error) {
	if !provider.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	verifier, err := c.beginPKCE()
	if err != nil {
		return "", err
	}

	query := url.Values{
		"provider":              {provider.String()},
		"code_challenge":        {codeChallenge(verifier)},
		"code_challenge_method": {codeChallengeMethod},
	}
	if opts.RedirectTo != "" {
		query.Set("redirect_to", opts.RedirectTo)
	}
	for k, v := range opts.QueryParams {
		query.Set(k, v)
	}

	return c.baseURL + "/authorize?" + query.Encode(), nil
}

// ExchangeCodeForSession は認可コードとPKCEのverifierをセッションに交換する。
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*model.Session, error) {
	verifier, ok := c.storage.Get(c.verifierKey())
	if !ok || verifier == "" {
		return nil, &AuthError{
			Status:  http.StatusBadRequest,
			Code:    "pkce_verifier_missing",
			Message: "PKCE code verifier not found in storage",
		}
	}

	var payload sessionPayload
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"pkce"}},
		map[string]string{"auth_code": code, "code_verifier": verifier}, "", &payload)
	c.storage.Remove(c.verifierKey())
	if err != nil {
		return nil, err
	}
	return c.establish(&payload)
}

// VerifyOTP はメール確認リンクのtoken_hashを検証しセッションを確立する。
func (c *Client) VerifyOTP(ctx context.Context, tokenHash, otpType string) (*model.Session, error) {
	var payload sessionPayload
	err := c.do(ctx, http.MethodPost, "/verify", nil,
		map[string]string{"type": otpType, "token_hash": tokenHash}, "", &payload)
	if err != nil {
		return nil, err
	}
	return c.establish(&payload)
}

// HandleRedirect はIdPからのリダイレクトURLのパラメータを処理する。
//   - error: IdPが返したエラーをAuthErrorとして返す
//   - code: PKCEの認可コードを交換する
//   - token_hash, type: メール確認リンクを検証する
//
// いずれも含まない場合は何もしない。
func (c *Client) HandleRedirect(ctx context.Context, u *url.URL) error {
	q := u.Query()

	if e := q.Get("error"); e != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = e
		}
		return &AuthError{Status: http.StatusBadRequest, Code: q.Get("error_code"), Message: msg}
	}

	if code := q.Get("code"); code != "" {
		_, err := c.ExchangeCodeForSession(ctx, code)
		return err
	}

	if tokenHash, otpType := q.Get("token_hash"), q.Get("type"); tokenHash != "" && otpType != "" {
		_, err := c.VerifyOTP(ctx, tokenHash, otpType)
		return err
	}

	return nil
}

// establish はトークン応答を保存し、SIGNED_INを通知する。
func (c *Client) establish(payload *sessionPayload) (*model.Session, error) {
	session, err := c.sessionFromPayload(payload)
	if err != nil {
		return nil, err
	}
	if err := c.saveSession(session); err != nil {
		return nil, err
	}

	c.logger.Info("signed in", slog.String("user_id", principalID(session)))
	c.notify(model.AuthEventSignedIn, session)
	return session, nil
}

// beginPKCE はcode_verifierを生成して保存する。
func (c *Client) beginPKCE() (string, error) {
	verifier, err := newCodeVerifier()
	if err != nil {
		return "", err
	}
	c.storage.Set(c.verifierKey(), verifier)
	return verifier, nil
}

func principalID(s *model.Session) string {
	if u := s.Principal(); u != nil {
		return u.ID
	}
	return ""
}
