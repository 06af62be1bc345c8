package identity

import (
	"context"
	"log/slog"
	"net/http"
)

// Factory はリクエストごとにCookieへ束縛したClientを生成する。
// 共有状態を持たないため、1つのFactoryをアプリケーション全体で使う。
type Factory struct {
	base    Config
	cookies CookieOptions
}

// NewFactory はFactoryを生成する。baseのStorageは無視される。
func NewFactory(base Config, cookies CookieOptions) *Factory {
	base.Storage = nil
	return &Factory{base: base, cookies: cookies}
}

// Configured はIdPの設定が揃っているかを返す。
func (f *Factory) Configured() bool {
	return f.base.URL != "" && f.base.AnonKey != ""
}

// ForRequest はリクエストのCookieを保存先とするClientを生成する。
// 未設定の場合はErrNotConfiguredを返す。
func (f *Factory) ForRequest(w http.ResponseWriter, r *http.Request) (*Client, error) {
	cfg := f.base
	cfg.Storage = NewCookieStorage(w, r, f.cookies)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return NewClient(cfg)
}

type contextKey struct{}

// NewContext はリクエストスコープのClientをcontextに格納する。
func NewContext(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext はcontextからClientを取得する。
func FromContext(ctx context.Context) (*Client, bool) {
	c, ok := ctx.Value(contextKey{}).(*Client)
	return c, ok && c != nil
}
