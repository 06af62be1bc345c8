// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, place, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeSessionNotMounted = "SESSION_NOT_MOUNTED"
)

// 業者データ操作のエラー。ハンドラーで利用者向けメッセージに変換する。
var (
	ErrPlaceNotFound     = errors.New("place not found")
	ErrInvalidPlaceCount = errors.New("place count must be a non-negative integer")
	ErrInvalidPlaceURL   = errors.New("place url is not allowed")
	ErrPlaceTextTooLong  = errors.New("place text is too long")
	ErrDuplicatePlaceID  = errors.New("place id already exists")
	ErrAuthRequired      = errors.New("authentication required")
)

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "요청이 너무 많습니다.",
		Category: "system",
		Action:   "잠시 후 다시 시도해주세요.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "내부 오류가 발생했습니다.",
		Category: "system",
		Action:   "잠시 후 다시 시도해주세요.",
	}
}

// NewSessionNotMountedError はセッションストアがマウントされていない状態での
// 読み取りを示すエラーを生成する。構成ミスであり利用者の操作では解消しない。
func NewSessionNotMountedError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotMounted,
		Message:  "세션 정보를 불러올 수 없습니다.",
		Category: "system",
		Action:   "관리자에게 문의해주세요.",
	}
}
