// Package security は外部から取り込むデータの安全性を確保する機能を提供する。
//
// ニュース本文はLLMのプロンプトと保存済みブリーフィングにそのまま流れるため、
// 取り込み時点でHTMLを全て除去したプレーンテキストにそろえる。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はニュースの見出し・要約からHTMLを除去する。
type TextSanitizer interface {
	// Clean はタグを全て取り除き、実体参照を戻し、連続する空白を1つにまとめる。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す。
	Clean(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyを使うTextSanitizerの実装。
// Policyはスレッドセーフなので共有してよい。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はHTMLを除去したプレーンテキストを返す。
func (s *textSanitizer) Clean(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyは&などを実体参照にエスケープするため、最後に戻す
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}
