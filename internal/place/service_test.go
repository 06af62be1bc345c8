package place

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/reviewlab/internal/model"
	"github.com/hitoshi/reviewlab/internal/repository"
	"github.com/hitoshi/reviewlab/internal/security"
)

// --- モック ---

type mockRecorder struct {
	ops []string
}

func (m *mockRecorder) RecordPlaceMutation(op string) { m.ops = append(m.ops, op) }

// collidingRepo はCreateの最初のn回をID衝突として扱う。
type collidingRepo struct {
	*repository.MemoryPlaceRepo
	collisions int
	createFn   func(ctx context.Context, ownerID string, p model.Place) error
}

func (r *collidingRepo) Create(ctx context.Context, ownerID string, p model.Place) error {
	if r.createFn != nil {
		return r.createFn(ctx, ownerID, p)
	}
	if r.collisions > 0 {
		r.collisions--
		// 他のリクエストが先に同じIDで作成した状況を再現する
		_ = r.MemoryPlaceRepo.Create(ctx, ownerID, p)
		return model.ErrDuplicatePlaceID
	}
	return r.MemoryPlaceRepo.Create(ctx, ownerID, p)
}

func newTestService(t *testing.T, repo repository.PlaceRepository) (*Service, *mockRecorder, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rec := &mockRecorder{}
	return NewService(repo, security.NewTextSanitizer(), rec, logger), rec, &buf
}

var alice = &model.Identity{ID: "user-1", Email: "alice@example.com"}

// --- List ---

func TestList_Anonymous_ReturnsSeeds(t *testing.T) {
	repo := repository.NewMemoryPlaceRepo()
	svc, _, _ := newTestService(t, repo)

	got, err := svc.List(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(model.SeedPlaces(), got); diff != "" {
		t.Errorf("places mismatch (-want +got):\n%s", diff)
	}

	// 未ログインの閲覧ではリポジトリに書き込まない
	stored, _ := repo.ListByOwner(context.Background(), "")
	if len(stored) != 0 {
		t.Errorf("anonymous list persisted %d places", len(stored))
	}
}

func TestList_SignedIn_SeedsOnFirstVisit(t *testing.T) {
	repo := repository.NewMemoryPlaceRepo()
	svc, _, _ := newTestService(t, repo)

	got, err := svc.List(context.Background(), alice, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	stored, _ := repo.ListByOwner(context.Background(), alice.ID)
	if diff := cmp.Diff(model.SeedPlaces(), stored); diff != "" {
		t.Errorf("stored places mismatch (-want +got):\n%s", diff)
	}
}

func TestList_Query_MatchesNameOrKeywordCaseInsensitive(t *testing.T) {
	svc, _, _ := newTestService(t, repository.NewMemoryPlaceRepo())

	tests := []struct {
		query   string
		wantIDs []int
	}{
		{"", []int{1, 2}},
		{"산본", []int{1}},
		{"pt", []int{1}},
		{"Pt", []int{1}},
		{" ", []int{1, 2}}, // 두 업체 이름 모두 공백을 포함한다
		{"PT 산본점", []int{1}},
		{"필스장", []int{2}},
		{"여성전용", nil}, // 소개는 검색 대상이 아니다
		{"없는업체", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := svc.List(context.Background(), nil, tt.query)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var ids []int
			for _, p := range got {
				ids = append(ids, p.ID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestList_RepoError_IsWrapped(t *testing.T) {
	repoErr := errors.New("db down")
	svc, _, _ := newTestService(t, &failingRepo{err: repoErr})

	_, err := svc.List(context.Background(), alice, "")
	if !errors.Is(err, repoErr) {
		t.Errorf("err = %v, want wrapped %v", err, repoErr)
	}
}

// --- Add ---

func TestAdd_Anonymous_Refused(t *testing.T) {
	svc, rec, _ := newTestService(t, repository.NewMemoryPlaceRepo())

	_, err := svc.Add(context.Background(), nil)
	if !errors.Is(err, model.ErrAuthRequired) {
		t.Errorf("err = %v, want ErrAuthRequired", err)
	}
	if len(rec.ops) != 0 {
		t.Errorf("recorded %v, want nothing", rec.ops)
	}
}

func TestAdd_AssignsMaxPlusOne(t *testing.T) {
	svc, rec, _ := newTestService(t, repository.NewMemoryPlaceRepo())
	ctx := context.Background()

	p, err := svc.Add(ctx, alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := model.Place{ID: 3}
	if diff := cmp.Diff(want, *p); diff != "" {
		t.Errorf("place mismatch (-want +got):\n%s", diff)
	}

	p2, err := svc.Add(ctx, alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p2.ID != 4 {
		t.Errorf("second id = %d, want 4", p2.ID)
	}
	if diff := cmp.Diff([]string{OpAdd, OpAdd}, rec.ops); diff != "" {
		t.Errorf("recorded ops mismatch (-want +got):\n%s", diff)
	}
}

func TestAdd_RetriesOnCollision(t *testing.T) {
	repo := &collidingRepo{MemoryPlaceRepo: repository.NewMemoryPlaceRepo(), collisions: 1}
	svc, _, _ := newTestService(t, repo)

	p, err := svc.Add(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// ID 3 は衝突したため 4 が割り当てられる
	if p.ID != 4 {
		t.Errorf("id = %d, want 4", p.ID)
	}
}

func TestAdd_GivesUpAfterRepeatedCollisions(t *testing.T) {
	repo := &collidingRepo{MemoryPlaceRepo: repository.NewMemoryPlaceRepo()}
	repo.createFn = func(ctx context.Context, ownerID string, p model.Place) error {
		return model.ErrDuplicatePlaceID
	}
	svc, rec, _ := newTestService(t, repo)

	_, err := svc.Add(context.Background(), alice)
	if !errors.Is(err, model.ErrDuplicatePlaceID) {
		t.Errorf("err = %v, want ErrDuplicatePlaceID", err)
	}
	if len(rec.ops) != 0 {
		t.Errorf("recorded %v, want nothing", rec.ops)
	}
}

// --- UpdateField ---

func TestUpdateField(t *testing.T) {
	tests := []struct {
		name    string
		field   model.PlaceField
		value   string
		want    func(p model.Place) model.Place
		wantErr error
	}{
		{
			name:  "count",
			field: model.PlaceFieldCount,
			value: " 12 ",
			want:  func(p model.Place) model.Place { p.Count = 12; return p },
		},
		{
			name:    "negative count",
			field:   model.PlaceFieldCount,
			value:   "-1",
			wantErr: model.ErrInvalidPlaceCount,
		},
		{
			name:    "non-numeric count",
			field:   model.PlaceFieldCount,
			value:   "abc",
			wantErr: model.ErrInvalidPlaceCount,
		},
		{
			name:  "largest count",
			field: model.PlaceFieldCount,
			value: "2147483647",
			want:  func(p model.Place) model.Place { p.Count = MaxCount; return p },
		},
		{
			name:    "count beyond integer column",
			field:   model.PlaceFieldCount,
			value:   "2147483648",
			wantErr: model.ErrInvalidPlaceCount,
		},
		{
			name:    "name longer than column",
			field:   model.PlaceFieldName,
			value:   strings.Repeat("가", MaxShortTextLength+1),
			wantErr: model.ErrPlaceTextTooLong,
		},
		{
			name:    "keyword longer than column",
			field:   model.PlaceFieldKeyword,
			value:   strings.Repeat("k", MaxShortTextLength+1),
			wantErr: model.ErrPlaceTextTooLong,
		},
		{
			name:  "name at column limit after stripping tags",
			field: model.PlaceFieldName,
			value: "<b>" + strings.Repeat("가", MaxShortTextLength) + "</b>",
			want:  func(p model.Place) model.Place { p.Name = strings.Repeat("가", MaxShortTextLength); return p },
		},
		{
			name:  "name is sanitized",
			field: model.PlaceFieldName,
			value: "<b>새 업체</b><script>alert(1)</script>",
			want:  func(p model.Place) model.Place { p.Name = "새 업체"; return p },
		},
		{
			name:  "keyword",
			field: model.PlaceFieldKeyword,
			value: "군포 PT",
			want:  func(p model.Place) model.Place { p.Keyword = "군포 PT"; return p },
		},
		{
			name:  "description",
			field: model.PlaceFieldDescription,
			value: "  소개글  ",
			want:  func(p model.Place) model.Place { p.Description = "소개글"; return p },
		},
		{
			name:  "place url",
			field: model.PlaceFieldPlaceURL,
			value: "https://m.place.naver.com/place/1",
			want:  func(p model.Place) model.Place { p.PlaceURL = "https://m.place.naver.com/place/1"; return p },
		},
		{
			name:  "empty place url clears",
			field: model.PlaceFieldPlaceURL,
			value: "",
			want:  func(p model.Place) model.Place { p.PlaceURL = ""; return p },
		},
		{
			name:    "javascript url rejected",
			field:   model.PlaceFieldPlaceURL,
			value:   "javascript:alert(1)",
			wantErr: model.ErrInvalidPlaceURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemoryPlaceRepo()
			svc, rec, _ := newTestService(t, repo)
			ctx := context.Background()

			got, err := svc.UpdateField(ctx, alice, 1, tt.field, tt.value)
			stored, _ := repo.FindByID(ctx, alice.ID, 1)
			seed := model.SeedPlaces()[0]

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if diff := cmp.Diff(seed, *stored); diff != "" {
					t.Errorf("stored place changed on error (-want +got):\n%s", diff)
				}
				if len(rec.ops) != 0 {
					t.Errorf("recorded %v, want nothing", rec.ops)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := tt.want(seed)
			if diff := cmp.Diff(want, *got); diff != "" {
				t.Errorf("returned place mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(want, *stored); diff != "" {
				t.Errorf("stored place mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{OpUpdate}, rec.ops); diff != "" {
				t.Errorf("recorded ops mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpdateField_Anonymous_Refused(t *testing.T) {
	svc, _, _ := newTestService(t, repository.NewMemoryPlaceRepo())

	_, err := svc.UpdateField(context.Background(), nil, 1, model.PlaceFieldName, "x")
	if !errors.Is(err, model.ErrAuthRequired) {
		t.Errorf("err = %v, want ErrAuthRequired", err)
	}
}

func TestUpdateField_UnknownID(t *testing.T) {
	svc, _, _ := newTestService(t, repository.NewMemoryPlaceRepo())

	_, err := svc.UpdateField(context.Background(), alice, 99, model.PlaceFieldName, "x")
	if !errors.Is(err, model.ErrPlaceNotFound) {
		t.Errorf("err = %v, want ErrPlaceNotFound", err)
	}
}

func TestUpdateField_OtherOwnersPlaceIsInvisible(t *testing.T) {
	repo := repository.NewMemoryPlaceRepo()
	svc, _, _ := newTestService(t, repo)
	ctx := context.Background()

	bob := &model.Identity{ID: "user-2"}
	if _, err := svc.Add(ctx, bob); err != nil { // bob に ID 3 を作る
		t.Fatalf("Add: %v", err)
	}

	_, err := svc.UpdateField(ctx, alice, 3, model.PlaceFieldName, "탈취")
	if !errors.Is(err, model.ErrPlaceNotFound) {
		t.Errorf("err = %v, want ErrPlaceNotFound", err)
	}
}

// --- RequestReview ---

func TestRequestReview_LogsRows(t *testing.T) {
	svc, rec, buf := newTestService(t, repository.NewMemoryPlaceRepo())

	places, err := svc.RequestReview(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(places) != 2 {
		t.Errorf("len = %d, want 2", len(places))
	}

	out := buf.String()
	for _, want := range []string{"review generation requested", `"place_count":2`, "강한정PT 산본점", "구로 필스장"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
	if diff := cmp.Diff([]string{OpReview}, rec.ops); diff != "" {
		t.Errorf("recorded ops mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestReview_Anonymous_Refused(t *testing.T) {
	svc, _, buf := newTestService(t, repository.NewMemoryPlaceRepo())

	_, err := svc.RequestReview(context.Background(), nil)
	if !errors.Is(err, model.ErrAuthRequired) {
		t.Errorf("err = %v, want ErrAuthRequired", err)
	}
	if strings.Contains(buf.String(), "review generation requested") {
		t.Error("anonymous request must not be logged as a review request")
	}
}

// --- helpers ---

func TestNextID(t *testing.T) {
	if got := NextID(nil); got != 1 {
		t.Errorf("NextID(nil) = %d, want 1", got)
	}
	if got := NextID([]model.Place{{ID: 7}, {ID: 2}}); got != 8 {
		t.Errorf("NextID = %d, want 8", got)
	}
}

type failingRepo struct {
	repository.PlaceRepository
	err error
}

func (r *failingRepo) ListByOwner(context.Context, string) ([]model.Place, error) {
	return nil, r.err
}
