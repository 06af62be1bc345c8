// Package i18n は利用者向けメッセージのロケールカタログを提供する。
// メッセージはlocales/*.yamlに定義し、golang.org/x/textのカタログに登録する。
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

const (
	// LangParam は表示言語を切り替えるクエリパラメータ名。
	LangParam = "lang"
	// LangCookieName は選択された表示言語を保持するCookie名。
	LangCookieName = "rl_lang"
)

//go:embed locales/*.yaml
var embeddedLocales embed.FS

type localeFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Bundle はロケールごとのメッセージカタログを保持する。
// 生成後は読み取り専用のため、複数goroutineから共有してよい。
type Bundle struct {
	builder    *catalog.Builder
	fallback   language.Tag
	supported  []language.Tag
	matcher    language.Matcher
	messageSet map[language.Tag]map[string]string
}

// LoadEmbedded は埋め込みのロケールファイルからBundleを生成する。
// defaultLocaleは一致するロケールが無い場合のフォールバックになる。
func LoadEmbedded(defaultLocale string) (*Bundle, error) {
	return LoadFromFS(embeddedLocales, defaultLocale)
}

// LoadFromFS は指定のファイルシステムのlocales/*.yamlを読み込む。
func LoadFromFS(fsys fs.FS, defaultLocale string) (*Bundle, error) {
	fallback, err := language.Parse(defaultLocale)
	if err != nil {
		return nil, fmt.Errorf("parse default locale %q: %w", defaultLocale, err)
	}

	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale files: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no locale files found")
	}
	sort.Strings(paths)

	b := &Bundle{
		builder:    catalog.NewBuilder(catalog.Fallback(fallback)),
		fallback:   fallback,
		messageSet: make(map[language.Tag]map[string]string),
	}

	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", path, err)
		}

		var file localeFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", path, err)
		}
		if err := b.add(path, file); err != nil {
			return nil, err
		}
	}

	if _, ok := b.messageSet[fallback]; !ok {
		return nil, fmt.Errorf("default locale %s is not defined in locale files", fallback)
	}

	// フォールバックを先頭に置くと、Matcherの不一致時にフォールバックが選ばれる
	sort.SliceStable(b.supported, func(i, j int) bool {
		return b.supported[i] == fallback && b.supported[j] != fallback
	})
	b.matcher = language.NewMatcher(b.supported)

	return b, nil
}

func (b *Bundle) add(path string, file localeFile) error {
	locale := strings.TrimSpace(file.Locale)
	if locale == "" {
		return fmt.Errorf("locale %s: locale is required", path)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return fmt.Errorf("locale %s: %w", path, err)
	}
	if _, exists := b.messageSet[tag]; exists {
		return fmt.Errorf("locale %s: %s already defined", path, tag)
	}
	if len(file.Messages) == 0 {
		return fmt.Errorf("locale %s: messages map is required", path)
	}

	messages := make(map[string]string, len(file.Messages))
	for key, value := range file.Messages {
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("locale %s: message key cannot be blank", path)
		}
		if err := b.builder.SetString(tag, key, value); err != nil {
			return fmt.Errorf("locale %s: set %q: %w", path, key, err)
		}
		messages[key] = value
	}

	b.messageSet[tag] = messages
	b.supported = append(b.supported, tag)
	return nil
}

// Default はフォールバックロケールを返す。
func (b *Bundle) Default() language.Tag {
	return b.fallback
}

// Supported は登録済みロケールを返す。先頭がフォールバック。
func (b *Bundle) Supported() []language.Tag {
	out := make([]language.Tag, len(b.supported))
	copy(out, b.supported)
	return out
}

// Has はロケールにキーが定義されているかを返す。
func (b *Bundle) Has(tag language.Tag, key string) bool {
	_, ok := b.messageSet[b.Match(tag)][key]
	return ok
}

// Keys はロケールに定義されたキーをソートして返す。
func (b *Bundle) Keys(tag language.Tag) []string {
	messages := b.messageSet[b.Match(tag)]
	keys := make([]string, 0, len(messages))
	for key := range messages {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Match は任意の言語タグを登録済みロケールのいずれかに丸める。
func (b *Bundle) Match(tags ...language.Tag) language.Tag {
	if len(tags) == 0 {
		return b.fallback
	}
	_, index, confidence := b.matcher.Match(tags...)
	if confidence == language.No {
		return b.fallback
	}
	return b.supported[index]
}

// Localizer は1つのロケールに束縛されたメッセージプリンタ。
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// Localizer は指定ロケールのLocalizerを返す。
func (b *Bundle) Localizer(tag language.Tag) *Localizer {
	matched := b.Match(tag)
	return &Localizer{
		tag:     matched,
		printer: message.NewPrinter(matched, message.Catalog(b.builder)),
	}
}

// T はキーに対応するメッセージを書式化して返す。
// 未定義のキーはキー文字列をそのまま書式として扱う。
func (l *Localizer) T(key string, args ...any) string {
	return l.printer.Sprintf(key, args...)
}

// Lang はHTMLのlang属性に使うロケール名を返す。
func (l *Localizer) Lang() string {
	return l.tag.String()
}

// ResolveTag はリクエストから表示言語を決定する。
// 優先順位はクエリパラメータ、Cookie、Accept-Languageヘッダの順。
// 戻り値のboolはクエリパラメータで指定されCookieへ保存すべきかを示す。
func (b *Bundle) ResolveTag(r *http.Request) (language.Tag, bool) {
	if r == nil {
		return b.fallback, false
	}

	if value := strings.TrimSpace(r.URL.Query().Get(LangParam)); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return b.Match(tag), true
		}
	}

	if cookie, err := r.Cookie(LangCookieName); err == nil {
		if tag, err := language.Parse(cookie.Value); err == nil {
			return b.Match(tag), false
		}
	}

	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil {
			return b.Match(tags...), false
		}
	}

	return b.fallback, false
}

// SetLanguageCookie は選択された表示言語をCookieに保存する。
func SetLanguageCookie(w http.ResponseWriter, tag language.Tag, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     LangCookieName,
		Value:    tag.String(),
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
