// Package model はドメインモデルを定義する。
package model

import "time"

// Identity はサインイン中のプリンシパルを表す。
// IdPが所有する値のスナップショットであり、変更通知のたびに丸ごと置き換える。
type Identity struct {
	ID    string
	Email string
}

// SameAs は2つのIdentityが同一ユーザーを指すかを判定する。
// どちらもnilの場合も同一とみなす。
func (i *Identity) SameAs(other *Identity) bool {
	if i == nil || other == nil {
		return i == nil && other == nil
	}
	return i.ID == other.ID
}

// Session はIdPが発行した認証済みセッションを表す。
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         *Identity
}

// Principal はセッションのユーザーを返す。セッションがnilの場合はnilを返す。
func (s *Session) Principal() *Identity {
	if s == nil {
		return nil
	}
	return s.User
}

// ExpiresWithin はセッションのアクセストークンが指定時間内に失効するかを判定する。
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// AuthChangeEvent はIdPが発行する認証状態の変更通知の種類。
type AuthChangeEvent string

const (
	// AuthEventInitialSession は購読開始時点のセッションを通知する。
	AuthEventInitialSession AuthChangeEvent = "INITIAL_SESSION"
	// AuthEventSignedIn はサインイン完了を通知する。
	AuthEventSignedIn AuthChangeEvent = "SIGNED_IN"
	// AuthEventSignedOut はサインアウトまたはセッション破棄を通知する。
	AuthEventSignedOut AuthChangeEvent = "SIGNED_OUT"
	// AuthEventTokenRefreshed はアクセストークンの更新を通知する。
	AuthEventTokenRefreshed AuthChangeEvent = "TOKEN_REFRESHED"
	// AuthEventUserUpdated はユーザー情報の更新を通知する。
	AuthEventUserUpdated AuthChangeEvent = "USER_UPDATED"
)
