// Package ui は画面テンプレートと静的ファイルを埋め込む。
package ui

import "embed"

//go:embed html static
var Files embed.FS
