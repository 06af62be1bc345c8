// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/hitoshi/reviewlab/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// requestInfoContextKey はリクエストログに載せる情報を格納するためのキー。
var requestInfoContextKey = contextKey("request_info")

// requestInfo はリクエストログに載せる値。
// 内側のミドルウェアが後から書き込むため、ポインタで共有する。
type requestInfo struct {
	mu        sync.Mutex
	requestID string
	userID    string
}

func withRequestInfo(ctx context.Context, info *requestInfo) context.Context {
	return context.WithValue(ctx, requestInfoContextKey, info)
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoContextKey).(*requestInfo)
	return info
}

// RequestIDFromContext はロギングミドルウェアが払い出したリクエストIDを返す。
// ロギングミドルウェアの外側では空文字を返す。
func RequestIDFromContext(ctx context.Context) string {
	info := requestInfoFrom(ctx)
	if info == nil {
		return ""
	}
	return info.requestID
}

// SetUserID はリクエストログに載せるユーザーIDを設定する。
// ロギングミドルウェアの外側では何もしない。
func SetUserID(ctx context.Context, userID string) {
	info := requestInfoFrom(ctx)
	if info == nil {
		return
	}
	info.mu.Lock()
	info.userID = userID
	info.mu.Unlock()
}

func (i *requestInfo) user() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.userID
}

// NewUserAnnotationMiddleware はセッションストアの利用者IDをリクエストログに載せるミドルウェアを返す。
// session.Middlewareの内側に配置する。
func NewUserAnnotationMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if state, err := session.Current(r.Context()); err == nil && state.Identity != nil {
				SetUserID(r.Context(), state.Identity.ID)
			}
			next.ServeHTTP(w, r)
		})
	}
}
