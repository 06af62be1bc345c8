// Package session はリクエストスコープのセッションストアを提供する。
//
// Storeはリクエストの開始時にマウントされ、IdPクライアントから現在のセッションを読み込み、
// 認証状態の変更通知を購読する。ハンドラーはSnapshotで（ユーザー, loading）を同期的に読み取る。
// リクエストの終了時にCloseで購読を解除する。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/reviewlab/internal/identity"
	"github.com/hitoshi/reviewlab/internal/model"
)

// AuthClient はStoreが必要とするIdPクライアントの操作。
type AuthClient interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnAuthStateChange(fn identity.Listener) identity.Subscription
}

// ClientFunc はIdPクライアントを生成する。設定が無い場合はエラーを返す。
type ClientFunc func() (AuthClient, error)

// State はStoreが公開する値。Identityがnilの場合は未ログイン。
type State struct {
	Identity *model.Identity
	Loading  bool
}

// Authenticated はサインイン済みかを返す。
func (s State) Authenticated() bool {
	return s.Identity != nil
}

// Store は現在のユーザーとloadingフラグを保持する。
type Store struct {
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	sub    identity.Subscription
	closed bool
}

func newStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger: logger,
		state:  State{Loading: true},
	}
}

// Open はStoreをマウントする。
//  1. クライアントを生成できなければ未ログイン・loading=falseで確定し、購読しない
//  2. 現在のセッションを取得し、ユーザーを設定してloading=falseにする
//  3. 認証状態の変更通知を購読する
//
// いずれの失敗もログに記録するのみで、呼び出し側へは返さない。
func Open(ctx context.Context, newClient ClientFunc, logger *slog.Logger) *Store {
	s := newStore(logger)

	// 1. クライアント生成
	client, err := newClient()
	if err != nil {
		if errors.Is(err, identity.ErrNotConfigured) {
			s.logger.Debug("identity client unavailable", slog.String("error", err.Error()))
		} else {
			s.logger.Warn("identity client could not be created", slog.String("error", err.Error()))
		}
		s.resolve(nil)
		return s
	}

	// 2. 現在のセッション
	session, err := client.GetSession(ctx)
	if err != nil {
		s.logger.Error("session initialization failed", slog.String("error", err.Error()))
		session = nil
	}
	s.resolve(session.Principal())

	// 3. 変更通知の購読
	sub := client.OnAuthStateChange(s.handleChange)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return s
	}
	s.sub = sub
	s.mu.Unlock()

	return s
}

// resolve は初期セッションの結果を反映する。
func (s *Store) resolve(user *model.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Identity = user
	s.state.Loading = false
}

// handleChange は変更通知を反映する。
// ユーザーIDが変わらない通知ではIdentityを置き換えない。
func (s *Store) handleChange(event model.AuthChangeEvent, session *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	next := session.Principal()
	if !s.state.Identity.SameAs(next) {
		s.state.Identity = next
		s.logger.Debug("session identity changed", slog.String("event", string(event)))
	}
	s.state.Loading = false
}

// Snapshot は現在の値を返す。
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close は購読を解除する。以降の通知は値を変更しない。複数回呼んでもよい。
func (s *Store) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.closed = true
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}
