package handler

import (
	"context"
	"encoding/gob"

	"github.com/alexedwards/scs/v2"

	"github.com/hitoshi/reviewlab/internal/auth"
)

// scsのキー
const (
	flashToastsKey = "flash_toasts"
	flashModalKey  = "flash_modal"
)

// モーダルのタブ
const (
	tabSignIn = "signin"
	tabSignUp = "signup"
)

func init() {
	// scsはgobで値を保存するため、独自型を登録する
	gob.Register([]Toast{})
	gob.Register(ModalState{})
}

// Toast は次の画面表示で一度だけ表示する通知。
type Toast struct {
	Kind        string
	Message     string
	Description string
}

// toastFromNotice はauth.NoticeをToastに変換する。
func toastFromNotice(n *auth.Notice) Toast {
	return Toast{Kind: string(n.Kind), Message: n.Message, Description: n.Description}
}

// ModalState は次の画面表示で認証モーダルを開くかどうかと、その初期値。
type ModalState struct {
	Open  bool
	Tab   string
	Email string
}

// TabOrDefault は表示するタブを返す。未指定の場合はログインタブ。
func (m ModalState) TabOrDefault() string {
	if m.Tab == tabSignUp {
		return tabSignUp
	}
	return tabSignIn
}

// Flash はリダイレクトをまたいで通知とモーダル状態を引き継ぐ。
type Flash struct {
	sessions *scs.SessionManager
}

// NewFlash はFlashを生成する。
func NewFlash(sessions *scs.SessionManager) *Flash {
	return &Flash{sessions: sessions}
}

// AddToast は通知を追加する。
func (f *Flash) AddToast(ctx context.Context, t Toast) {
	toasts, _ := f.sessions.Get(ctx, flashToastsKey).([]Toast)
	f.sessions.Put(ctx, flashToastsKey, append(toasts, t))
}

// PopToasts は保存された通知を取り出して削除する。
func (f *Flash) PopToasts(ctx context.Context) []Toast {
	toasts, _ := f.sessions.Pop(ctx, flashToastsKey).([]Toast)
	return toasts
}

// OpenModal は次の画面表示でモーダルを開く。
func (f *Flash) OpenModal(ctx context.Context, m ModalState) {
	m.Open = true
	f.sessions.Put(ctx, flashModalKey, m)
}

// PopModal は保存されたモーダル状態を取り出して削除する。
func (f *Flash) PopModal(ctx context.Context) ModalState {
	m, _ := f.sessions.Pop(ctx, flashModalKey).(ModalState)
	return m
}
