package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/reviewlab/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation pq.ErrorCode = "23505"

// PostgresPlaceRepo はPostgreSQLを使用した業者リポジトリ。
type PostgresPlaceRepo struct {
	db *sql.DB
}

// compile-time interface check
var _ PlaceRepository = (*PostgresPlaceRepo)(nil)

// NewPostgresPlaceRepo はPostgresPlaceRepoを生成する。
func NewPostgresPlaceRepo(db *sql.DB) *PostgresPlaceRepo {
	return &PostgresPlaceRepo{db: db}
}

// ListByOwner は所有者の業者をID昇順で返す。
func (r *PostgresPlaceRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Place, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, visit_count, keyword, description, place_url
		 FROM places WHERE owner_id = $1 ORDER BY id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("業者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	places := make([]model.Place, 0)
	for rows.Next() {
		var p model.Place
		if err := rows.Scan(&p.ID, &p.Name, &p.Count, &p.Keyword, &p.Description, &p.PlaceURL); err != nil {
			return nil, fmt.Errorf("業者のスキャンに失敗しました: %w", err)
		}
		places = append(places, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("業者一覧の走査に失敗しました: %w", err)
	}

	return places, nil
}

// FindByID は指定IDの業者を取得する。見つからない場合はnilを返す。
func (r *PostgresPlaceRepo) FindByID(ctx context.Context, ownerID string, id int) (*model.Place, error) {
	p := &model.Place{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, visit_count, keyword, description, place_url
		 FROM places WHERE owner_id = $1 AND id = $2`,
		ownerID, id,
	).Scan(&p.ID, &p.Name, &p.Count, &p.Keyword, &p.Description, &p.PlaceURL)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("業者の取得に失敗しました: %w", err)
	}

	return p, nil
}

// Create は業者を作成する。
func (r *PostgresPlaceRepo) Create(ctx context.Context, ownerID string, place model.Place) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO places (owner_id, id, name, visit_count, keyword, description, place_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		ownerID, place.ID, place.Name, place.Count, place.Keyword, place.Description, place.PlaceURL,
	)
	if isUniqueViolation(err) {
		return model.ErrDuplicatePlaceID
	}
	if err != nil {
		return fmt.Errorf("業者の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は業者を上書き保存する。
func (r *PostgresPlaceRepo) Update(ctx context.Context, ownerID string, place model.Place) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE places
		 SET name = $3, visit_count = $4, keyword = $5, description = $6, place_url = $7, updated_at = NOW()
		 WHERE owner_id = $1 AND id = $2`,
		ownerID, place.ID, place.Name, place.Count, place.Keyword, place.Description, place.PlaceURL,
	)
	if err != nil {
		return fmt.Errorf("業者の更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.ErrPlaceNotFound
	}
	return nil
}

// Seed は初期データを同一トランザクションで投入する。既存のIDは上書きしない。
func (r *PostgresPlaceRepo) Seed(ctx context.Context, ownerID string, places []model.Place) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	for _, p := range places {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO places (owner_id, id, name, visit_count, keyword, description, place_url, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			 ON CONFLICT (owner_id, id) DO NOTHING`,
			ownerID, p.ID, p.Name, p.Count, p.Keyword, p.Description, p.PlaceURL,
		)
		if err != nil {
			return fmt.Errorf("初期データの投入に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
