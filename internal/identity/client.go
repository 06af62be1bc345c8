// Package identity はSupabase Auth（GoTrue）互換のIdPクライアントを提供する。
//
// Clientは1つのSessionStorageに束縛され、サインイン・リフレッシュ・サインアウトの結果を
// 保存先へ書き込み、登録されたリスナーへ認証状態の変更を通知する。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/reviewlab/internal/model"
)

// RefreshMargin はアクセストークンの期限前にリフレッシュを行う猶予。
const RefreshMargin = 10 * time.Second

const (
	authPathPrefix   = "/auth/v1"
	clientInfoHeader = "reviewlab-go/1.0"
	maxResponseBytes = 1 << 20
)

// ErrNotConfigured はIdPのURLまたは匿名キーが未設定であることを示す。
// 呼び出し側は匿名状態に縮退させる。
var ErrNotConfigured = errors.New("identity provider is not configured")

// ErrUnsupportedProvider は列挙外のソーシャルプロバイダーが指定されたことを示す。
var ErrUnsupportedProvider = errors.New("unsupported social login provider")

// AuthError はIdPが返したエラー応答。
type AuthError struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	return e.Message
}

// Observer はクライアント内部のイベントを観測する。メトリクス収集に使う。
type Observer interface {
	ObserveAuthEvent(event model.AuthChangeEvent)
	ObserveRefresh(outcome string)
}

// リフレッシュ結果
const (
	RefreshSucceeded = "success"
	RefreshRejected  = "rejected"
	RefreshFailed    = "error"
)

// Listener は認証状態の変更通知を受け取る。sessionはサインアウト時nil。
type Listener func(event model.AuthChangeEvent, session *model.Session)

// Subscription はOnAuthStateChangeの登録を解除するハンドル。
type Subscription interface {
	Unsubscribe()
}

// Config はClientの設定。
type Config struct {
	URL        string
	AnonKey    string
	JWTSecret  string
	HTTPClient *http.Client
	Storage    SessionStorage
	Logger     *slog.Logger
	Observer   Observer
	Now        func() time.Time
}

// Client はIdPのREST APIクライアント。
type Client struct {
	baseURL    string
	anonKey    string
	jwtSecret  string
	storageKey string
	httpClient *http.Client
	storage    SessionStorage
	logger     *slog.Logger
	observer   Observer
	now        func() time.Time

	mu        sync.Mutex
	listeners []listenerEntry
	// IdPへの照会またはIdPの応答で確認済みのアクセストークンとその利用者
	verifiedToken string
	verifiedUser  model.Identity
}

type listenerEntry struct {
	id string
	fn Listener
}

// NewClient はClientを生成する。URLまたは匿名キーが空の場合はErrNotConfiguredを返す。
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, ErrNotConfigured
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid identity provider url %q: %w", cfg.URL, ErrNotConfigured)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/") + authPathPrefix,
		anonKey:    cfg.AnonKey,
		jwtSecret:  cfg.JWTSecret,
		storageKey: StorageKey(u),
		httpClient: cfg.HTTPClient,
		storage:    cfg.Storage,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
		now:        cfg.Now,
	}, nil
}

// StorageKey はプロジェクトURLからセッションCookie名（sb-<ref>-auth-token）を求める。
func StorageKey(u *url.URL) string {
	ref := strings.Split(u.Hostname(), ".")[0]
	return "sb-" + ref + "-auth-token"
}

// StorageKey はこのクライアントのセッション保存キーを返す。
func (c *Client) StorageKey() string {
	return c.storageKey
}

func (c *Client) verifierKey() string {
	return c.storageKey + "-code-verifier"
}

// GetSession は保存済みセッションを返す。セッションが無ければnil, nil。
// アクセストークンが期限間近であればリフレッシュし、結果を保存・通知する。
// IdPがリフレッシュを拒否した場合はセッションを削除しSIGNED_OUTを通知する。
// 署名鍵が無い場合は GET /user で利用者を照会し、その応答の利用者だけを返す。
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	session, trusted := c.loadSession()
	if session == nil {
		return nil, nil
	}

	if session.ExpiresWithin(c.now(), RefreshMargin) {
		return c.refreshStored(ctx, session)
	}

	if trusted {
		return session, nil
	}

	user, err := c.fetchUser(ctx, session.AccessToken)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) && authErr.Status >= 400 && authErr.Status < 500 {
			c.logger.Warn("discarding session rejected by identity provider",
				slog.Int("status", authErr.Status),
			)
			c.storage.Remove(c.storageKey)
		}
		return nil, fmt.Errorf("failed to verify session: %w", err)
	}

	session.User = user
	c.markVerified(session)
	return session, nil
}

// refreshStored は保存済みセッションをリフレッシュし、結果を保存・通知する。
// リフレッシュ後のセッションはIdPの応答なので照会済みとして扱う。
func (c *Client) refreshStored(ctx context.Context, session *model.Session) (*model.Session, error) {
	refreshed, err := c.refresh(ctx, session.RefreshToken)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) && authErr.Status >= 400 && authErr.Status < 500 {
			c.observeRefresh(RefreshRejected)
			c.storage.Remove(c.storageKey)
			c.notify(model.AuthEventSignedOut, nil)
		} else {
			c.observeRefresh(RefreshFailed)
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	c.observeRefresh(RefreshSucceeded)
	if err := c.saveSession(refreshed); err != nil {
		return nil, err
	}
	c.notify(model.AuthEventTokenRefreshed, refreshed)
	return refreshed, nil
}

// fetchUser はアクセストークンの持ち主をIdPに照会する。
func (c *Client) fetchUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	var user userPayload
	if err := c.do(ctx, http.MethodGet, "/user", nil, nil, accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, errors.New("identity provider returned no user id")
	}
	return &model.Identity{ID: user.ID, Email: user.Email}, nil
}

// refresh はリフレッシュトークンで新しいセッションを取得する。
func (c *Client) refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	if refreshToken == "" {
		return nil, &AuthError{Status: http.StatusBadRequest, Code: "refresh_token_not_found", Message: "Refresh Token Not Found"}
	}

	var payload sessionPayload
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}},
		map[string]string{"refresh_token": refreshToken}, "", &payload)
	if err != nil {
		return nil, err
	}
	return c.sessionFromPayload(&payload)
}

// SignOut はIdP側のセッションを失効させ、保存済みセッションを削除してSIGNED_OUTを通知する。
// 既に失効済み（401/403/404）の場合もローカルのセッションは削除する。
func (c *Client) SignOut(ctx context.Context) error {
	session, _ := c.loadSession()
	if session != nil {
		err := c.do(ctx, http.MethodPost, "/logout", url.Values{"scope": {"global"}}, nil, session.AccessToken, nil)
		if err != nil {
			var authErr *AuthError
			ignorable := errors.As(err, &authErr) &&
				(authErr.Status == http.StatusUnauthorized ||
					authErr.Status == http.StatusForbidden ||
					authErr.Status == http.StatusNotFound)
			if !ignorable {
				return fmt.Errorf("failed to sign out: %w", err)
			}
		}
	}

	c.storage.Remove(c.storageKey)
	c.storage.Remove(c.verifierKey())
	c.notify(model.AuthEventSignedOut, nil)
	return nil
}

// OnAuthStateChange はリスナーを登録し、保存済みセッションでINITIAL_SESSIONを即時に通知する。
// 通知は呼び出し元のgoroutineで同期的に行う。戻り値のUnsubscribeで登録を解除する。
func (c *Client) OnAuthStateChange(fn Listener) Subscription {
	id := uuid.NewString()

	c.mu.Lock()
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: fn})
	c.mu.Unlock()

	c.logger.Debug("auth listener registered", slog.String("listener_id", id))
	fn(model.AuthEventInitialSession, c.trustedSession())

	return &subscription{client: c, id: id}
}

type subscription struct {
	client *Client
	id     string
	once   sync.Once
}

// Unsubscribe は登録を解除する。2回目以降の呼び出しは何もしない。
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.removeListener(s.id)
	})
}

func (c *Client) removeListener(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			c.logger.Debug("auth listener released", slog.String("listener_id", id))
			return
		}
	}
}

// ListenerCount は登録中のリスナー数を返す。
func (c *Client) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// notify は登録中のリスナーへ通知する。リスナーはロック外で呼び出す。
func (c *Client) notify(event model.AuthChangeEvent, session *model.Session) {
	c.mu.Lock()
	targets := make([]listenerEntry, len(c.listeners))
	copy(targets, c.listeners)
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.ObserveAuthEvent(event)
	}
	c.logger.Debug("auth state changed",
		slog.String("event", string(event)),
		slog.Int("listeners", len(targets)),
	)

	for _, l := range targets {
		l.fn(event, session)
	}
}

func (c *Client) observeRefresh(outcome string) {
	if c.observer != nil {
		c.observer.ObserveRefresh(outcome)
	}
}

// loadSession は保存先からセッションを読み出す。
// 壊れた値や署名検証に失敗したトークンは削除し、nilを返す。
// trustedは利用者が確認済みかどうか。署名鍵があればクレームの利用者を採用する。
// 署名鍵が無ければ、このClientがIdPで確認したトークンの場合のみtrue。
func (c *Client) loadSession() (session *model.Session, trusted bool) {
	raw, ok := c.storage.Get(c.storageKey)
	if !ok {
		return nil, false
	}

	payload, err := decodeSession(raw)
	if err != nil {
		c.logger.Warn("discarding malformed session", slog.String("error", err.Error()))
		c.storage.Remove(c.storageKey)
		return nil, false
	}

	if c.jwtSecret == "" {
		// 署名を検証できないクレームは期限の補完にだけ使う
		claims, _ := parseAccessToken(payload.AccessToken, "")
		session = payload.toSession(c.now(), claims)
		if user, ok := c.verifiedIdentity(session.AccessToken); ok {
			session.User = user
			return session, true
		}
		return session, false
	}

	claims, err := parseAccessToken(payload.AccessToken, c.jwtSecret)
	if err == nil && claims.Subject == "" {
		err = errors.New("access token has no subject")
	}
	if err != nil {
		c.logger.Warn("discarding session with unverifiable token", slog.String("error", err.Error()))
		c.storage.Remove(c.storageKey)
		return nil, false
	}

	session = payload.toSession(c.now(), claims)
	session.User = identityFromClaims(claims, session.User)
	return session, true
}

// identityFromClaims は署名済みクレームの利用者を返す。
// クレームにメールアドレスが無い場合のみ、同じIDの保存値から補う。
func identityFromClaims(claims *accessClaims, stored *model.Identity) *model.Identity {
	id := &model.Identity{ID: claims.Subject, Email: claims.Email}
	if id.Email == "" && stored != nil && stored.ID == id.ID {
		id.Email = stored.Email
	}
	return id
}

// trustedSession は利用者を確認済みの保存セッションを返す。未確認ならnil。
func (c *Client) trustedSession() *model.Session {
	session, trusted := c.loadSession()
	if !trusted {
		return nil
	}
	return session
}

func (c *Client) markVerified(s *model.Session) {
	if s.User == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifiedToken = s.AccessToken
	c.verifiedUser = *s.User
}

// verifiedIdentity は確認済みトークンであれば、確認時の利用者を返す。
func (c *Client) verifiedIdentity(accessToken string) (*model.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if accessToken == "" || c.verifiedToken != accessToken {
		return nil, false
	}
	user := c.verifiedUser
	return &user, true
}

// saveSession はセッションを保存先に書き込む。
func (c *Client) saveSession(s *model.Session) error {
	value, err := EncodeSession(s)
	if err != nil {
		return err
	}
	c.storage.Set(c.storageKey, value)
	c.markVerified(s)
	return nil
}

// sessionFromPayload はトークン応答をSessionに変換する。
func (c *Client) sessionFromPayload(p *sessionPayload) (*model.Session, error) {
	if p.AccessToken == "" {
		return nil, errors.New("empty access token in response")
	}
	claims, err := parseAccessToken(p.AccessToken, c.jwtSecret)
	if err != nil {
		if c.jwtSecret != "" {
			return nil, err
		}
		claims = nil
	}
	return p.toSession(c.now(), claims), nil
}

// do はGoTrueのエンドポイントを呼び出す。
// accessTokenが空の場合は匿名キーをBearerとして送る。
// 2xx以外の応答はAuthErrorとして返す。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, accessToken string, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if accessToken == "" {
		accessToken = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Client-Info", clientInfoHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAuthError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// parseAuthError はGoTrueのエラー応答を解釈する。
// 新形式（code, error_code, msg）と旧形式（error, error_description）の両方に対応する。
func parseAuthError(status int, body []byte) *AuthError {
	authErr := &AuthError{Status: status}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil {
		authErr.Message = firstString(fields, "msg", "message", "error_description", "error")
		authErr.Code = firstString(fields, "error_code")
		if authErr.Code == "" {
			if _, hasDesc := fields["error_description"]; hasDesc {
				authErr.Code = firstString(fields, "error")
			}
		}
	}

	if authErr.Message == "" {
		authErr.Message = http.StatusText(status)
	}
	return authErr
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
