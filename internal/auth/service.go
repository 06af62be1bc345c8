// Package auth はログイン・会員登録・ソーシャルログインの操作と、
// IdPのエラーを利用者向けメッセージへ変換する処理を提供する。
//
// Serviceは共有の認証状態を直接変更しない。サインインの結果はIdPクライアントの
// 変更通知を通じてセッションストアへ反映される。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hitoshi/reviewlab/internal/identity"
	"github.com/hitoshi/reviewlab/internal/model"
)

// 操作名（メトリクスのラベル）
const (
	OpSignIn = "signin"
	OpSignUp = "signup"
	OpSocial = "social"
)

// 結果ラベル
const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeInvalid  = "invalid"
	outcomeError    = "error"
)

// IdPのエラーメッセージ（完全一致で判定する）
const (
	msgEmailNotConfirmed  = "Email not confirmed"
	msgInvalidCredentials = "Invalid login credentials"
	msgAlreadyRegistered  = "User already registered"
)

// Authenticator はServiceが使うIdPクライアントの操作。
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password, redirectTo string) (*model.Session, error)
	SignInWithOAuth(provider model.Provider, opts identity.OAuthOptions) (string, error)
}

// ClientFunc はリクエストに束縛したAuthenticatorを返す。
type ClientFunc func() (Authenticator, error)

// Translator はメッセージキーを表示言語の文字列に変換する。
type Translator interface {
	T(key string, args ...any) string
}

// AttemptRecorder は認証操作の結果を記録する。
type AttemptRecorder interface {
	RecordAuthAttempt(operation, outcome string)
}

// Credentials はフォームから受け取った認証情報。
type Credentials struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// NoticeKind は通知の種類。
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice は画面に一時表示する通知。
type Notice struct {
	Kind        NoticeKind
	Message     string
	Description string
}

// Result は操作の結果。OKがtrueの場合モーダルを閉じる。
// RedirectURLはソーシャルログインの遷移先。
type Result struct {
	OK          bool
	Notice      *Notice
	RedirectURL string
}

// Service は認証モーダルの操作を提供する。
type Service struct {
	callbackURL string
	recorder    AttemptRecorder
	logger      *slog.Logger
}

// NewService はServiceを生成する。callbackURLはOAuth・メール確認の戻り先。
func NewService(callbackURL string, recorder AttemptRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{callbackURL: callbackURL, recorder: recorder, logger: logger}
}

// SignIn はメールアドレスとパスワードでログインする。
func (s *Service) SignIn(ctx context.Context, newClient ClientFunc, tr Translator, creds Credentials) Result {
	// 1. クライアント生成
	client, err := newClient()
	if err != nil {
		return s.initFailed(OpSignIn, tr, err)
	}

	// 2. 入力チェック
	if creds.Email == "" || creds.Password == "" {
		s.record(OpSignIn, outcomeInvalid)
		return failure(tr.T("auth.error.form_invalid"))
	}

	// 3. IdP呼び出し
	if _, err := client.SignInWithPassword(ctx, creds.Email, creds.Password); err != nil {
		authErr := asAuthError(err)
		if authErr == nil {
			s.logger.Error("sign in failed", slog.String("error", err.Error()))
			s.record(OpSignIn, outcomeError)
			return failure(tr.T("auth.error.signin_unexpected"))
		}

		s.record(OpSignIn, outcomeRejected)
		switch authErr.Message {
		case msgEmailNotConfirmed:
			return failure(tr.T("auth.error.email_not_confirmed"))
		case msgInvalidCredentials:
			return failure(tr.T("auth.error.invalid_credentials"))
		default:
			return failure(authErr.Message)
		}
	}

	s.record(OpSignIn, outcomeSuccess)
	return Result{OK: true, Notice: &Notice{Kind: NoticeSuccess, Message: tr.T("auth.success.signin")}}
}

// SignUp は会員登録する。パスワードと確認用パスワードが一致しない場合はIdPを呼び出さない。
func (s *Service) SignUp(ctx context.Context, newClient ClientFunc, tr Translator, creds Credentials) Result {
	// 1. クライアント生成
	client, err := newClient()
	if err != nil {
		return s.initFailed(OpSignUp, tr, err)
	}

	// 2. 入力チェック
	if creds.Password != creds.ConfirmPassword {
		s.record(OpSignUp, outcomeInvalid)
		return failure(tr.T("auth.error.password_mismatch"))
	}
	if creds.Email == "" || creds.Password == "" {
		s.record(OpSignUp, outcomeInvalid)
		return failure(tr.T("auth.error.form_invalid"))
	}

	// 3. IdP呼び出し（確認メールのリンクはコールバックへ戻る）
	if _, err := client.SignUp(ctx, creds.Email, creds.Password, s.callbackURL); err != nil {
		authErr := asAuthError(err)
		if authErr == nil {
			s.logger.Error("sign up failed", slog.String("error", err.Error()))
			s.record(OpSignUp, outcomeError)
			return failure(tr.T("auth.error.signup_unexpected"))
		}

		s.record(OpSignUp, outcomeRejected)
		if authErr.Message == msgAlreadyRegistered {
			return failure(tr.T("auth.error.already_registered"))
		}
		return failure(authErr.Message)
	}

	s.record(OpSignUp, outcomeSuccess)
	return Result{OK: true, Notice: &Notice{
		Kind:        NoticeSuccess,
		Message:     tr.T("auth.success.signup"),
		Description: tr.T("auth.success.signup_detail"),
	}}
}

// StartSocialLogin はソーシャルログインを開始し、IdPの認可URLを返す。
func (s *Service) StartSocialLogin(ctx context.Context, newClient ClientFunc, tr Translator, provider model.Provider) Result {
	client, err := newClient()
	if err != nil {
		return s.initFailed(OpSocial, tr, err)
	}

	s.logger.InfoContext(ctx, "social login attempt", slog.String("provider", provider.String()))

	redirectURL, err := client.SignInWithOAuth(provider, identity.OAuthOptions{
		RedirectTo: s.callbackURL,
		QueryParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
	})
	if err != nil {
		s.logger.Error("social login failed",
			slog.String("provider", provider.String()),
			slog.String("error", err.Error()),
		)

		if errors.Is(err, identity.ErrUnsupportedProvider) {
			s.record(OpSocial, outcomeInvalid)
			return failure(tr.T("auth.error.unsupported_provider"))
		}

		authErr := asAuthError(err)
		if authErr == nil {
			s.record(OpSocial, outcomeError)
			return failure(tr.T("auth.error.social_unexpected"))
		}

		s.record(OpSocial, outcomeRejected)
		if strings.Contains(authErr.Message, "component") {
			return failure(tr.T("auth.error.component_init"))
		}
		return failure(tr.T("auth.error.social_failed", authErr.Message))
	}

	s.record(OpSocial, outcomeSuccess)
	return Result{OK: true, RedirectURL: redirectURL}
}

func (s *Service) initFailed(op string, tr Translator, err error) Result {
	if errors.Is(err, identity.ErrNotConfigured) {
		s.logger.Warn("identity client unavailable", slog.String("operation", op))
	} else {
		s.logger.Error("identity client could not be created",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
	s.record(op, outcomeError)
	return failure(tr.T("auth.error.init_failed"))
}

func (s *Service) record(op, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordAuthAttempt(op, outcome)
	}
}

func failure(message string) Result {
	return Result{Notice: &Notice{Kind: NoticeError, Message: message}}
}

// asAuthError はIdPが拒否したエラーであれば取り出す。それ以外はnil。
func asAuthError(err error) *identity.AuthError {
	var authErr *identity.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return nil
}
