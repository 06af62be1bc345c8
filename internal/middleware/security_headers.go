package middleware

import (
	"net/http"
	"strings"
)

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// formTargetsにはフォーム送信後のリダイレクト先として許可するオリジン（IdPのURLなど）を渡す。
func NewSecurityHeadersMiddleware(formTargets ...string) func(next http.Handler) http.Handler {
	formAction := strings.TrimSpace("'self' " + strings.Join(formTargets, " "))
	csp := strings.Join([]string{
		"default-src 'self'",
		"img-src 'self' data:",
		"style-src 'self'",
		"script-src 'self'",
		"frame-ancestors 'none'",
		"form-action " + formAction,
	}, "; ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			w.Header().Set("Content-Security-Policy", csp)
			next.ServeHTTP(w, r)
		})
	}
}
