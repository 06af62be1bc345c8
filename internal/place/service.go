// Package place は業者データ（レビュー生成の入力）の一覧・追加・編集と
// レビュー生成要求のドメインロジックを提供する。
package place

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/reviewlab/internal/model"
	"github.com/hitoshi/reviewlab/internal/repository"
	"github.com/hitoshi/reviewlab/internal/security"
)

// 操作名（メトリクスのラベル）
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpReview = "review"
)

// maxCreateAttempts は同時追加でIDが衝突した場合の再試行回数。
const maxCreateAttempts = 3

// 保存先の列の上限。インメモリ保存でも同じ値で検証する。
const (
	MaxShortTextLength = 200           // name, keyword（VARCHAR(200)、rune単位）
	MaxCount           = math.MaxInt32 // visit_count（INTEGER）
)

// MutationRecorder は業者データの変更操作を記録する。
type MutationRecorder interface {
	RecordPlaceMutation(operation string)
}

// Service は業者データのサービス層。
// 未ログインの利用者には初期データを読み取り専用で返し、
// サインイン中の利用者には本人のデータのみを返す。
type Service struct {
	repo      repository.PlaceRepository
	sanitizer security.TextSanitizerService
	recorder  MutationRecorder
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.PlaceRepository,
	sanitizer security.TextSanitizerService,
	recorder MutationRecorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger,
	}
}

// List は業者一覧を返す。queryが空でなければ業者名またはキーワードに
// 大文字小文字を区別せず部分一致するものに絞り込む。
// ownerがnilの場合は初期データを返す。
func (s *Service) List(ctx context.Context, owner *model.Identity, query string) ([]model.Place, error) {
	if owner == nil {
		return Filter(model.SeedPlaces(), query), nil
	}

	places, err := s.owned(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	return Filter(places, query), nil
}

// Add は空の業者を1件追加する。IDは既存の最大ID+1。
func (s *Service) Add(ctx context.Context, owner *model.Identity) (*model.Place, error) {
	if owner == nil {
		return nil, model.ErrAuthRequired
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		// 1. 現在の一覧から次のIDを決める
		places, err := s.owned(ctx, owner.ID)
		if err != nil {
			return nil, err
		}
		newPlace := model.Place{ID: NextID(places)}

		// 2. 作成（同時追加で衝突した場合は読み直して再試行）
		err = s.repo.Create(ctx, owner.ID, newPlace)
		if errors.Is(err, model.ErrDuplicatePlaceID) {
			s.logger.Debug("place id collided, retrying",
				slog.String("owner_id", owner.ID),
				slog.Int("place_id", newPlace.ID),
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("業者の追加に失敗しました: %w", err)
		}

		s.recorder.RecordPlaceMutation(OpAdd)
		return &newPlace, nil
	}

	return nil, fmt.Errorf("業者の追加に失敗しました: %w", model.ErrDuplicatePlaceID)
}

// UpdateField は業者の1項目を更新し、更新後の業者を返す。
// 発行数は0以上の整数、業者URLは許可されたURLのみ受け付ける。
// テキスト項目はHTMLを除去して保存する。
func (s *Service) UpdateField(ctx context.Context, owner *model.Identity, id int, field model.PlaceField, value string) (*model.Place, error) {
	if owner == nil {
		return nil, model.ErrAuthRequired
	}

	// 1. 対象の取得（初回アクセスの場合は初期データを投入してから探す）
	if _, err := s.owned(ctx, owner.ID); err != nil {
		return nil, err
	}
	current, err := s.repo.FindByID(ctx, owner.ID, id)
	if err != nil {
		return nil, fmt.Errorf("業者の取得に失敗しました: %w", err)
	}
	if current == nil {
		return nil, model.ErrPlaceNotFound
	}

	// 2. 値の検証と正規化
	updated := *current
	switch field {
	case model.PlaceFieldCount:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 || n > MaxCount {
			return nil, model.ErrInvalidPlaceCount
		}
		updated.Count = n
	case model.PlaceFieldPlaceURL:
		raw := strings.TrimSpace(value)
		if err := security.ValidatePlaceURL(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidPlaceURL, err)
		}
		updated.PlaceURL = raw
	case model.PlaceFieldName:
		name, err := s.shortText(value)
		if err != nil {
			return nil, err
		}
		updated.Name = name
	case model.PlaceFieldKeyword:
		keyword, err := s.shortText(value)
		if err != nil {
			return nil, err
		}
		updated.Keyword = keyword
	case model.PlaceFieldDescription:
		updated.Description = s.sanitizer.SanitizeText(value)
	default:
		return nil, fmt.Errorf("unknown place field: %q", field)
	}

	// 3. 保存
	if err := s.repo.Update(ctx, owner.ID, updated); err != nil {
		if errors.Is(err, model.ErrPlaceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("業者の更新に失敗しました: %w", err)
	}

	s.recorder.RecordPlaceMutation(OpUpdate)
	return &updated, nil
}

// shortText はサニタイズ後の値がMaxShortTextLength以内であることを確認する。
func (s *Service) shortText(value string) (string, error) {
	text := s.sanitizer.SanitizeText(value)
	if n := utf8.RuneCountInString(text); n > MaxShortTextLength {
		return "", fmt.Errorf("%w: %d characters", model.ErrPlaceTextTooLong, n)
	}
	return text, nil
}

// RequestReview はレビュー生成を要求する。現時点では対象の業者を記録するのみ。
// 記録した業者を返す。
func (s *Service) RequestReview(ctx context.Context, owner *model.Identity) ([]model.Place, error) {
	if owner == nil {
		return nil, model.ErrAuthRequired
	}

	places, err := s.owned(ctx, owner.ID)
	if err != nil {
		return nil, err
	}

	attrs := make([]any, 0, len(places))
	for _, p := range places {
		attrs = append(attrs, slog.Group(strconv.Itoa(p.ID),
			slog.String("name", p.Name),
			slog.Int("count", p.Count),
			slog.String("keyword", p.Keyword),
			slog.String("description", p.Description),
			slog.String("place_url", p.PlaceURL),
		))
	}
	s.logger.Info("review generation requested",
		slog.String("owner_id", owner.ID),
		slog.Int("place_count", len(places)),
		slog.Group("places", attrs...),
	)

	s.recorder.RecordPlaceMutation(OpReview)
	return places, nil
}

// owned は所有者の業者一覧を返す。1件もない場合は初期データを投入する。
func (s *Service) owned(ctx context.Context, ownerID string) ([]model.Place, error) {
	places, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("業者一覧の取得に失敗しました: %w", err)
	}
	if len(places) > 0 {
		return places, nil
	}

	if err := s.repo.Seed(ctx, ownerID, model.SeedPlaces()); err != nil {
		return nil, fmt.Errorf("初期データの投入に失敗しました: %w", err)
	}
	s.logger.Info("seeded initial places", slog.String("owner_id", ownerID))

	places, err = s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("業者一覧の取得に失敗しました: %w", err)
	}
	return places, nil
}

// Filter は業者名またはキーワードにqueryを含む業者を返す（大文字小文字を区別しない）。
// queryが空の場合は全件を返す。
func Filter(places []model.Place, query string) []model.Place {
	q := strings.ToLower(query)
	if q == "" {
		return places
	}

	result := make([]model.Place, 0, len(places))
	for _, p := range places {
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Keyword), q) {
			result = append(result, p)
		}
	}
	return result
}

// NextID は既存の最大ID+1を返す。空の場合は1。
func NextID(places []model.Place) int {
	maxID := 0
	for _, p := range places {
		if p.ID > maxID {
			maxID = p.ID
		}
	}
	return maxID + 1
}
