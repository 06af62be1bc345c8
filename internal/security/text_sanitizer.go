// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は業者データのテキスト項目からHTMLを取り除き、
// 利用者が入力したマークアップが画面やレビュー生成の入力に混入しないようにする。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxTextLength はテキスト項目の最大文字数（rune単位）。
const MaxTextLength = 500

// TextSanitizerService はテキスト項目のサニタイズ機能のインターフェースを定義する。
type TextSanitizerService interface {
	// SanitizeText は全てのHTMLタグを除去したプレーンテキストを返す。
	// script, styleは内容ごと除去する。前後の空白を取り除き、MaxTextLengthで切り詰める。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はテキストからHTMLを除去する。
// StrictPolicyの出力はエスケープ済みのため、テンプレートでの二重エスケープを避けるため元に戻す。
func (s *textSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	text := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
	if utf8.RuneCountInString(text) > MaxTextLength {
		text = string([]rune(text)[:MaxTextLength])
	}
	return text
}

// compile-time interface check
var _ TextSanitizerService = (*textSanitizer)(nil)
