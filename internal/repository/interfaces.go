// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/reviewlab/internal/model"
)

// PlaceRepository は業者データの永続化インターフェース。
// すべての操作は所有者（サインイン中のIdentity ID）単位で分離される。
type PlaceRepository interface {
	// ListByOwner は所有者の業者をID昇順で返す。存在しない場合は空スライスを返す。
	ListByOwner(ctx context.Context, ownerID string) ([]model.Place, error)

	// FindByID は指定IDの業者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, ownerID string, id int) (*model.Place, error)

	// Create は業者を作成する。IDが既に使われている場合はmodel.ErrDuplicatePlaceIDを返す。
	Create(ctx context.Context, ownerID string, place model.Place) error

	// Update は業者を上書き保存する。対象がない場合はmodel.ErrPlaceNotFoundを返す。
	Update(ctx context.Context, ownerID string, place model.Place) error

	// Seed は初期データを投入する。既存のIDは上書きしない。
	Seed(ctx context.Context, ownerID string, places []model.Place) error
}
