package model

import "fmt"

// Place はレビュー生成の入力となる業者情報を表す。
// IDは所有者ごとのセット内で一意。
type Place struct {
	ID          int
	Name        string
	Count       int
	Keyword     string
	Description string
	PlaceURL    string
}

// PlaceField は編集可能なPlaceの項目。
type PlaceField string

const (
	PlaceFieldName        PlaceField = "name"
	PlaceFieldCount       PlaceField = "count"
	PlaceFieldKeyword     PlaceField = "keyword"
	PlaceFieldDescription PlaceField = "description"
	PlaceFieldPlaceURL    PlaceField = "placeUrl"
)

// ParsePlaceField はフォームの項目名をPlaceFieldに変換する。
func ParsePlaceField(name string) (PlaceField, error) {
	switch f := PlaceField(name); f {
	case PlaceFieldName, PlaceFieldCount, PlaceFieldKeyword, PlaceFieldDescription, PlaceFieldPlaceURL:
		return f, nil
	default:
		return "", fmt.Errorf("unknown place field: %q", name)
	}
}

// SeedPlaces は新規ユーザーと未ログインユーザーに表示する初期データを返す。
func SeedPlaces() []Place {
	return []Place{
		{
			ID:          1,
			Name:        "강한정PT 산본점",
			Count:       0,
			Keyword:     "산본 PT",
			Description: "[강한정PT스튜디오] 여성 트레이너만 있는 여성전용 PT",
			PlaceURL:    "https://m.place.naver.com/place/1470903890",
		},
		{
			ID:          2,
			Name:        "개봉동 즐거운 피티샵",
			Count:       0,
			Keyword:     "구로 필스장",
			Description: "운동을 해야하는데 피곤하신분들도 즐겁게 운동할수있게",
			PlaceURL:    "https://m.place.naver.com/place/1268077662",
		},
	}
}
