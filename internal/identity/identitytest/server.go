// Package identitytest はIdP（GoTrue互換API）のテスト用サーバーとトークン生成を提供する。
package identitytest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/reviewlab/internal/identity"
	"github.com/hitoshi/reviewlab/internal/model"
)

const (
	// AnonKey はテストサーバーが受け付ける匿名キー。
	AnonKey = "test-anon-key"
	// JWTSecret はテストトークンの署名鍵。
	JWTSecret = "test-jwt-secret"
)

// Endpoint キー（"METHOD /path" または "METHOD /path?grant_type=x"）
const (
	PasswordGrant = "POST /auth/v1/token?grant_type=password"
	RefreshGrant  = "POST /auth/v1/token?grant_type=refresh_token"
	PKCEGrant     = "POST /auth/v1/token?grant_type=pkce"
	Signup        = "POST /auth/v1/signup"
	Verify        = "POST /auth/v1/verify"
	Logout        = "POST /auth/v1/logout"
	User          = "GET /auth/v1/user"
)

// Server はGoTrue互換のテストサーバー。登録されていないエンドポイントへの要求はテスト失敗にする。
type Server struct {
	*httptest.Server

	t        testing.TB
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string]int
	bodies   map[string]map[string]any
}

// NewServer はテストサーバーを起動する。テスト終了時に停止する。
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		t:        t,
		handlers: map[string]http.HandlerFunc{},
		calls:    map[string]int{},
		bodies:   map[string]map[string]any{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	key := r.Method + " " + r.URL.Path
	if gt := r.URL.Query().Get("grant_type"); gt != "" {
		key += "?grant_type=" + gt
	}

	s.mu.Lock()
	s.calls[key]++
	s.bodies[key] = body
	h, ok := s.handlers[key]
	s.mu.Unlock()

	if !ok {
		s.t.Errorf("unexpected identity request: %s", key)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(w, r)
}

// On はエンドポイントの応答を登録する。bodyがnilの場合は空の応答を返す。
func (s *Server) On(key string, status int, body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if body != nil {
			json.NewEncoder(w).Encode(body)
		}
	}
}

// Calls はエンドポイントへの要求回数を返す。
func (s *Server) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

// LastBody はエンドポイントが最後に受け取ったJSONボディを返す。
func (s *Server) LastBody(key string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodies[key]
}

// Config はこのサーバーに接続するidentity.Configを返す。
func (s *Server) Config() identity.Config {
	return identity.Config{
		URL:        s.URL,
		AnonKey:    AnonKey,
		JWTSecret:  JWTSecret,
		HTTPClient: s.Client(),
	}
}

// CookieName はこのサーバーに対応するセッションCookie名を返す。
func (s *Server) CookieName(t testing.TB) string {
	t.Helper()
	c, err := identity.NewClient(s.Config())
	if err != nil {
		t.Fatalf("failed to build identity client: %v", err)
	}
	return c.StorageKey()
}

// MintToken はテスト用のアクセストークンをJWTSecretで署名する。
func MintToken(t testing.TB, sub, email string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"role":  "authenticated",
		"exp":   exp.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(JWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// TokenBody はトークンエンドポイントの成功応答を組み立てる。
func TokenBody(t testing.TB, sub, email string, exp time.Time) map[string]any {
	t.Helper()
	return map[string]any{
		"access_token":  MintToken(t, sub, email, exp),
		"refresh_token": "refresh-" + sub,
		"token_type":    "bearer",
		"expires_in":    int(time.Until(exp).Seconds()),
		"expires_at":    exp.Unix(),
		"user":          map[string]any{"id": sub, "email": email},
	}
}

// UserBody は GET /user の成功応答を組み立てる。
func UserBody(sub, email string) map[string]any {
	return map[string]any{"id": sub, "email": email, "aud": "authenticated"}
}

// ErrorBody はGoTrueのエラー応答を組み立てる。
func ErrorBody(code, msg string) map[string]any {
	return map[string]any{"error_code": code, "msg": msg}
}

// SessionCookie はサインイン済みのセッションCookieを組み立てる。
func (s *Server) SessionCookie(t testing.TB, sub, email string, exp time.Time) *http.Cookie {
	t.Helper()
	value, err := identity.EncodeSession(&model.Session{
		AccessToken:  MintToken(t, sub, email, exp),
		RefreshToken: "refresh-" + sub,
		TokenType:    "bearer",
		ExpiresAt:    exp,
		User:         &model.Identity{ID: sub, Email: email},
	})
	if err != nil {
		t.Fatalf("failed to encode session: %v", err)
	}
	return &http.Cookie{Name: s.CookieName(t), Value: value}
}
