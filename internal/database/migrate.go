// Package database は業者テーブル（places）を保持するPostgreSQLへの接続とスキーマ管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// placesSchema は places テーブルのスキーマ定義。バイナリに埋め込んで配布する。
//
//go:embed migrations/*.sql
var placesSchema embed.FS

// NewMigrator は埋め込みのplacesスキーマを対象にしたmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(placesSchema, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load places schema: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open places schema migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションを適用し、適用後のスキーマバージョンを返す。
// 途中で失敗したバージョン（dirty）が残っている場合はエラーにする。
func RunMigrations(databaseURL string) (uint, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to apply places schema: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read places schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("places schema version %d is dirty", version)
	}

	return version, nil
}
