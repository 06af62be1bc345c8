// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/form/v4"

	"github.com/hitoshi/reviewlab/internal/auth"
	"github.com/hitoshi/reviewlab/internal/i18n"
	"github.com/hitoshi/reviewlab/internal/identity"
)

type localizerKey struct{}

// NewLocaleMiddleware は表示言語を決定し、Localizerをcontextに格納する。
// クエリパラメータで指定された言語はCookieに保存する。
func NewLocaleMiddleware(bundle *i18n.Bundle, secureCookie bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tag, persist := bundle.ResolveTag(r)
			if persist {
				i18n.SetLanguageCookie(w, tag, secureCookie)
			}
			ctx := context.WithValue(r.Context(), localizerKey{}, bundle.Localizer(tag))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// localizerFor はcontextのLocalizerを返す。
// ミドルウェアを経由していない場合はリクエストから決定する。
func localizerFor(r *http.Request, bundle *i18n.Bundle) *i18n.Localizer {
	if loc, ok := r.Context().Value(localizerKey{}).(*i18n.Localizer); ok {
		return loc
	}
	tag, _ := bundle.ResolveTag(r)
	return bundle.Localizer(tag)
}

// decodePostForm はPOSTフォームをdstへデコードする。
func decodePostForm(decoder *form.Decoder, r *http.Request, dst any) error {
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("failed to parse form: %w", err)
	}

	if err := decoder.Decode(dst, r.PostForm); err != nil {
		// dstがnilやポインタでない場合はプログラムの誤り
		var invalidDecoderError *form.InvalidDecoderError
		if errors.As(err, &invalidDecoderError) {
			panic(err)
		}
		return fmt.Errorf("form decoding error: %w", err)
	}

	return nil
}

// requestClient はリクエストスコープのIdPクライアントを返すauth.ClientFuncを生成する。
func requestClient(r *http.Request) auth.ClientFunc {
	return func() (auth.Authenticator, error) {
		c, ok := identity.FromContext(r.Context())
		if !ok {
			return nil, identity.ErrNotConfigured
		}
		return c, nil
	}
}

// returnPath はフォームで受け取った戻り先を検証する。
// 同一オリジンの絶対パス以外はトップページにする。
func returnPath(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return "/"
	}
	return u.RequestURI()
}

// homePath は検索語を保ったトップページのパスを返す。
func homePath(query, fragment string) string {
	path := "/"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	if fragment != "" {
		path += "#" + fragment
	}
	return path
}

// seeOther はPOST後のリダイレクト（303）を返す。
func seeOther(w http.ResponseWriter, r *http.Request, location string) {
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
