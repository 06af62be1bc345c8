// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Identity provider
	SupabaseURL       string        `env:"SUPABASE_URL"`
	SupabaseAnonKey   string        `env:"SUPABASE_ANON_KEY"`
	SupabaseJWTSecret string        `env:"SUPABASE_JWT_SECRET"`
	IdentityTimeout   time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"10s"`

	// Database（未設定の場合はインメモリ保存）
	DatabaseURL string `env:"DATABASE_URL"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Cookie / flash session
	CookieDomain    string        `env:"COOKIE_DOMAIN"`
	CookieSecure    bool          `env:"-"`
	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"12h"`

	// Rate Limit（req/min/IP）
	RateLimitCredential int `env:"RATE_LIMIT_CREDENTIAL" envDefault:"10"`

	// Locale / Logging
	DefaultLocale string `env:"DEFAULT_LOCALE" envDefault:"ko"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// IdP設定の欠落はエラーにしない（認証機能は匿名状態に縮退する）。
// 値の形式が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("BASE_URL must be an absolute URL: %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CookieSecure = base.Scheme == "https"

	if cfg.RateLimitCredential <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_CREDENTIAL must be positive: %d", cfg.RateLimitCredential)
	}

	return cfg, nil
}

// IdentityConfigured はIdPへの接続に必要な2つの値が揃っているかを返す。
func (c *Config) IdentityConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// CallbackURL はOAuth・メール確認のリダイレクト先を返す。
func (c *Config) CallbackURL() string {
	return c.BaseURL + "/auth/callback"
}
