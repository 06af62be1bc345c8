package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/reviewlab/internal/identity"
	"github.com/hitoshi/reviewlab/internal/metrics"
	"github.com/hitoshi/reviewlab/internal/model"
)

// gatekeeperExcludedPrefixes は静的アセットのパス接頭辞。これらのリクエストでは認証状態を確認しない。
var gatekeeperExcludedPrefixes = []string{
	"/_next/static",
	"/_next/image",
	"/favicon.ico",
	"/static/",
}

// SessionRefresher はゲートキーパーが使うIdPクライアントの操作。
// GetSessionは失効間近のアクセストークンを更新し、Cookieへ書き戻す。
type SessionRefresher interface {
	GetSession(ctx context.Context) (*model.Session, error)
}

// RefresherBuilder はリクエストとレスポンスのCookieに束縛したSessionRefresherを生成する。
type RefresherBuilder func(w http.ResponseWriter, r *http.Request) (SessionRefresher, error)

// GatekeeperRecorder はゲートキーパーの判定結果を記録する。
type GatekeeperRecorder interface {
	RecordGatekeeper(result string)
}

// GatekeeperConfig はゲートキーパーの設定を保持する。
type GatekeeperConfig struct {
	// Configured はIdPの接続設定が存在するかを示す。falseの場合は素通しする。
	Configured bool
	// Build はリクエストに束縛したクライアントを生成する。
	Build    RefresherBuilder
	Recorder GatekeeperRecorder
	Logger   *slog.Logger
}

// NewGatekeeperMiddleware は静的アセット以外の全リクエストで認証状態を確認し、
// 必要に応じてアクセストークンを更新するミドルウェアを返す。
// 更新後のCookieはレスポンスに書き込まれ、同じリクエストのCookieヘッダーにも反映されるため、
// 後続のハンドラーは更新後のセッションを読む。
// 失敗はログとメトリクスに記録するのみで、リクエストを遮断・リダイレクトしない。
func NewGatekeeperMiddleware(cfg GatekeeperConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. 静的アセットは対象外
			if isExcludedPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// 2. 接続設定がなければ素通し
			if !cfg.Configured {
				cfg.Recorder.RecordGatekeeper(metrics.GateSkipped)
				next.ServeHTTP(w, r)
				return
			}

			// 3. リクエストに束縛したクライアントでセッションを確認（更新を含む）
			refresh(w, r, cfg)

			next.ServeHTTP(w, r)
		})
	}
}

func refresh(w http.ResponseWriter, r *http.Request, cfg GatekeeperConfig) {
	client, err := cfg.Build(w, r)
	if err != nil {
		if errors.Is(err, identity.ErrNotConfigured) {
			cfg.Recorder.RecordGatekeeper(metrics.GateSkipped)
			return
		}
		cfg.Recorder.RecordGatekeeper(metrics.GateFailed)
		cfg.Logger.Warn("gatekeeper client construction failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		return
	}

	if _, err := client.GetSession(r.Context()); err != nil {
		cfg.Recorder.RecordGatekeeper(metrics.GateFailed)
		cfg.Logger.Warn("gatekeeper session check failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		return
	}

	cfg.Recorder.RecordGatekeeper(metrics.GateChecked)
}

func isExcludedPath(path string) bool {
	for _, prefix := range gatekeeperExcludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
