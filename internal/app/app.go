package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hitoshi/reviewlab/internal/auth"
	"github.com/hitoshi/reviewlab/internal/config"
	"github.com/hitoshi/reviewlab/internal/database"
	"github.com/hitoshi/reviewlab/internal/handler"
	"github.com/hitoshi/reviewlab/internal/i18n"
	"github.com/hitoshi/reviewlab/internal/identity"
	"github.com/hitoshi/reviewlab/internal/logger"
	"github.com/hitoshi/reviewlab/internal/metrics"
	"github.com/hitoshi/reviewlab/internal/middleware"
	"github.com/hitoshi/reviewlab/internal/place"
	"github.com/hitoshi/reviewlab/internal/repository"
	"github.com/hitoshi/reviewlab/internal/security"
)

const (
	// flashCookieName はトースト・モーダル状態を保持するscsセッションのCookie名。
	flashCookieName = "rl_flash"
	// dbConnectTimeout は起動時のDB疎通確認の期限。
	dbConnectTimeout = 10 * time.Second
	// shutdownTimeout はグレースフルシャットダウンの期限。
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMを受信するとコンテキストをキャンセルする。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, w, args)
}

func run(ctx context.Context, w io.Writer, args []string) error {
	// nilだとcobraがos.Argsを読むため空スライスにする
	if args == nil {
		args = []string{}
	}

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runCommand はサブコマンドに応じたモードで起動する。
func runCommand(cmd *cobra.Command, w io.Writer, command Command) error {
	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if command == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(command)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("identity_configured", cfg.IdentityConfigured()),
	)

	switch command {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cmd.Context(), cfg)
	}
}

// runServe はWebサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. 翻訳
	bundle, err := i18n.LoadEmbedded(cfg.DefaultLocale)
	if err != nil {
		return fmt.Errorf("failed to load locales: %w", err)
	}

	// 3. IdPクライアントファクトリ
	if !cfg.IdentityConfigured() {
		log.Warn("identity provider is not configured; all visitors stay anonymous")
	}
	factory := identity.NewFactory(identity.Config{
		URL:        cfg.SupabaseURL,
		AnonKey:    cfg.SupabaseAnonKey,
		JWTSecret:  cfg.SupabaseJWTSecret,
		HTTPClient: &http.Client{Timeout: cfg.IdentityTimeout},
		Logger:     log,
		Observer:   collector,
	}, identity.CookieOptions{
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
	})

	// 4. 業者リポジトリ（DATABASE_URL未設定ならインメモリ）
	var (
		placeRepo repository.PlaceRepository
		db        *sql.DB
	)
	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
		db, err = database.Connect(connectCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		log.Info("database connection established")
		placeRepo = repository.NewPostgresPlaceRepo(db)
	} else {
		log.Info("DATABASE_URL is not set; place records are kept in memory")
		placeRepo = repository.NewMemoryPlaceRepo()
	}

	// 5. ドメインサービス
	placeService := place.NewService(placeRepo, security.NewTextSanitizer(), collector, log)
	authService := auth.NewService(cfg.CallbackURL(), collector, log)

	// 6. フラッシュ用セッション
	sessions := scs.New()
	sessions.Lifetime = cfg.SessionLifetime
	sessions.Cookie.Name = flashCookieName
	sessions.Cookie.Domain = cfg.CookieDomain
	sessions.Cookie.Secure = cfg.CookieSecure
	sessions.Cookie.SameSite = http.SameSiteLaxMode

	// 7. 認証系エンドポイントのレート制限
	rateLimiter := middleware.NewRateLimiter(
		middleware.CredentialRateLimiterConfig(cfg.RateLimitCredential), log,
	)
	defer rateLimiter.Stop()

	// 8. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:         log,
		Identity:       factory,
		IdentityURL:    cfg.SupabaseURL,
		Sessions:       sessions,
		Bundle:         bundle,
		CookieSecure:   cfg.CookieSecure,
		AuthService:    authService,
		PlaceService:   placeService,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
		RateLimiter:    rateLimiter,
	}
	if db != nil {
		deps.HealthChecker = db
	}

	router, err := handler.NewRouter(deps)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         net.JoinHostPort("", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelError),
	}

	log.Info("web server starting", slog.String("addr", server.Addr))

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down web server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-serveErr

	log.Info("web server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
