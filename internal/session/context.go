package session

import (
	"context"
	"errors"
)

// ErrNoProvider はStoreがマウントされていないcontextから読み取ろうとしたことを示す。
// 構成ミスであり、利用者向けのエラーではない。
var ErrNoProvider = errors.New("session store is not mounted: read must happen inside session.Middleware")

type contextKey struct{}

// NewContext はStoreをcontextに格納する。
func NewContext(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext はcontextからStoreを取得する。マウントされていなければErrNoProviderを返す。
func FromContext(ctx context.Context) (*Store, error) {
	s, ok := ctx.Value(contextKey{}).(*Store)
	if !ok || s == nil {
		return nil, ErrNoProvider
	}
	return s, nil
}

// Current はcontextのStoreの値を返す。
func Current(ctx context.Context) (State, error) {
	s, err := FromContext(ctx)
	if err != nil {
		return State{}, err
	}
	return s.Snapshot(), nil
}

// MustFromContext はFromContextと同じだが、未マウントの場合はpanicする。
func MustFromContext(ctx context.Context) *Store {
	s, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return s
}
