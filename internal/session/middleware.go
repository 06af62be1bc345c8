package session

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/reviewlab/internal/identity"
)

// ClientBuilder はリクエストに束縛したIdPクライアントを生成する。
type ClientBuilder func(w http.ResponseWriter, r *http.Request) (*identity.Client, error)

// Middleware はリクエストごとにStoreをマウントするミドルウェアを返す。
// 生成したクライアントはidentity.NewContextで後続のハンドラーにも渡すため、
// ハンドラーでのサインイン・サインアウトはこのStoreの購読にも通知される。
// ハンドラーが戻るとStoreを閉じる。
func Middleware(build ClientBuilder, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			client, buildErr := build(w, r)
			if buildErr == nil {
				ctx = identity.NewContext(ctx, client)
			}

			store := Open(ctx, func() (AuthClient, error) {
				if buildErr != nil {
					return nil, buildErr
				}
				return client, nil
			}, logger)
			defer store.Close()

			next.ServeHTTP(w, r.WithContext(NewContext(ctx, store)))
		})
	}
}
