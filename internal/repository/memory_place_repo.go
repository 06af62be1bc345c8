package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/hitoshi/reviewlab/internal/model"
)

// MemoryPlaceRepo はプロセス内メモリに業者データを保持するリポジトリ。
// DATABASE_URL未設定時に使用する。再起動でデータは失われる。
type MemoryPlaceRepo struct {
	mu     sync.RWMutex
	places map[string]map[int]model.Place
}

// compile-time interface check
var _ PlaceRepository = (*MemoryPlaceRepo)(nil)

// NewMemoryPlaceRepo はMemoryPlaceRepoを生成する。
func NewMemoryPlaceRepo() *MemoryPlaceRepo {
	return &MemoryPlaceRepo{places: make(map[string]map[int]model.Place)}
}

// ListByOwner は所有者の業者をID昇順で返す。
func (r *MemoryPlaceRepo) ListByOwner(_ context.Context, ownerID string) ([]model.Place, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := r.places[ownerID]
	result := make([]model.Place, 0, len(owned))
	for _, p := range owned {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// FindByID は指定IDの業者を取得する。見つからない場合はnilを返す。
func (r *MemoryPlaceRepo) FindByID(_ context.Context, ownerID string, id int) (*model.Place, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.places[ownerID][id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Create は業者を作成する。
func (r *MemoryPlaceRepo) Create(_ context.Context, ownerID string, place model.Place) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.ownedLocked(ownerID)
	if _, exists := owned[place.ID]; exists {
		return model.ErrDuplicatePlaceID
	}
	owned[place.ID] = place
	return nil
}

// Update は業者を上書き保存する。
func (r *MemoryPlaceRepo) Update(_ context.Context, ownerID string, place model.Place) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.places[ownerID]
	if _, exists := owned[place.ID]; !exists {
		return model.ErrPlaceNotFound
	}
	owned[place.ID] = place
	return nil
}

// Seed は初期データを投入する。既存のIDはそのまま残す。
func (r *MemoryPlaceRepo) Seed(_ context.Context, ownerID string, places []model.Place) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.ownedLocked(ownerID)
	for _, p := range places {
		if _, exists := owned[p.ID]; !exists {
			owned[p.ID] = p
		}
	}
	return nil
}

func (r *MemoryPlaceRepo) ownedLocked(ownerID string) map[int]model.Place {
	owned, ok := r.places[ownerID]
	if !ok {
		owned = make(map[int]model.Place)
		r.places[ownerID] = owned
	}
	return owned
}
