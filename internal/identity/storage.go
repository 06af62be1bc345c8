package identity

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// SessionStorage はクライアントがセッションを保存する先を抽象化する。
// サーバーではリクエストのCookie、テストではメモリを使う。
type SessionStorage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// MemoryStorage はプロセス内マップに保存するSessionStorage。
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStorage は空のMemoryStorageを生成する。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Get は保存値を返す。
func (s *MemoryStorage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set は値を保存する。
func (s *MemoryStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Remove は値を削除する。
func (s *MemoryStorage) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// CookieOptions はセッションCookieの属性。
type CookieOptions struct {
	Domain string
	Path   string
	Secure bool
	MaxAge time.Duration
}

// defaultCookieMaxAge はセッションCookieの既定の有効期間（400日、ブラウザ上限）。
const defaultCookieMaxAge = 400 * 24 * time.Hour

// CookieStorage はリクエストのCookieを読み、変更をレスポンスへ書き出すSessionStorage。
// 書き込んだ値はリクエストのCookieヘッダにも反映するため、
// 同じリクエストの後続ハンドラーは更新後のセッションを読める。
type CookieStorage struct {
	mu   sync.Mutex
	w    http.ResponseWriter
	r    *http.Request
	opts CookieOptions
}

// NewCookieStorage はリクエスト・レスポンスに束縛したCookieStorageを生成する。
func NewCookieStorage(w http.ResponseWriter, r *http.Request, opts CookieOptions) *CookieStorage {
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = defaultCookieMaxAge
	}
	return &CookieStorage{w: w, r: r, opts: opts}
}

// Get はリクエストのCookie値を返す。
func (s *CookieStorage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.r.Cookie(key)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Set はレスポンスにSet-Cookieを追加し、リクエストにも反映する。
func (s *CookieStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	http.SetCookie(s.w, s.cookie(key, value, int(s.opts.MaxAge.Seconds())))
	s.mirror(key, value, false)
}

// Remove は期限切れのSet-Cookieを追加し、リクエストからも取り除く。
func (s *CookieStorage) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	http.SetCookie(s.w, s.cookie(key, "", -1))
	s.mirror(key, "", true)
}

func (s *CookieStorage) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.opts.Path,
		Domain:   s.opts.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// mirror はリクエストのCookieヘッダを書き換える。
func (s *CookieStorage) mirror(key, value string, remove bool) {
	cookies := s.r.Cookies()
	parts := make([]string, 0, len(cookies)+1)
	for _, c := range cookies {
		if c.Name == key {
			continue
		}
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	if !remove {
		parts = append(parts, (&http.Cookie{Name: key, Value: value}).String())
	}

	if len(parts) == 0 {
		s.r.Header.Del("Cookie")
		return
	}
	s.r.Header.Set("Cookie", strings.Join(parts, "; "))
}

// compile-time interface check
var (
	_ SessionStorage = (*MemoryStorage)(nil)
	_ SessionStorage = (*CookieStorage)(nil)
)
