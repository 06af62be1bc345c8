package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/form/v4"

	"github.com/hitoshi/reviewlab/internal/auth"
	"github.com/hitoshi/reviewlab/internal/middleware"
	"github.com/hitoshi/reviewlab/internal/model"
	"github.com/hitoshi/reviewlab/internal/place"
	"github.com/hitoshi/reviewlab/internal/session"
)

// PlaceServiceInterface は業者ハンドラーが必要とするサービスインターフェース。
type PlaceServiceInterface interface {
	List(ctx context.Context, owner *model.Identity, query string) ([]model.Place, error)
	Add(ctx context.Context, owner *model.Identity) (*model.Place, error)
	UpdateField(ctx context.Context, owner *model.Identity, id int, field model.PlaceField, value string) (*model.Place, error)
	RequestReview(ctx context.Context, owner *model.Identity) ([]model.Place, error)
}

// compile-time interface check
var _ PlaceServiceInterface = (*place.Service)(nil)

// placeForm はセル編集フォーム。
type placeForm struct {
	Field string `form:"field"`
	Value string `form:"value"`
	Query string `form:"q"`
}

// PlaceHandler は業者一覧画面と業者データ操作のHTTPハンドラー。
type PlaceHandler struct {
	service PlaceServiceInterface
	views   *Views
	flash   *Flash
	decoder *form.Decoder
	logger  *slog.Logger
}

// NewPlaceHandler はPlaceHandlerを生成する。
func NewPlaceHandler(service PlaceServiceInterface, views *Views, flash *Flash, decoder *form.Decoder, logger *slog.Logger) *PlaceHandler {
	return &PlaceHandler{
		service: service,
		views:   views,
		flash:   flash,
		decoder: decoder,
		logger:  logger,
	}
}

// Home は業者一覧画面を表示する。
// GET /?q=キーワード
func (h *PlaceHandler) Home(w http.ResponseWriter, r *http.Request) {
	data := h.views.newTemplateData(r)
	data.Query = r.URL.Query().Get("q")

	places, err := h.service.List(r.Context(), data.Identity, data.Query)
	if err != nil {
		h.views.serverError(w, r, fmt.Errorf("failed to list places: %w", err))
		return
	}
	data.Rows = placeRows(places, data)

	h.views.render(w, r, http.StatusOK, pageHome, data)
}

// Add は空の業者を1件追加する。
// POST /places
func (h *PlaceHandler) Add(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	query := r.PostFormValue("q")

	added, err := h.service.Add(r.Context(), owner)
	if err != nil {
		h.fail(w, r, err, query)
		return
	}

	seeOther(w, r, homePath(query, fmt.Sprintf("place-%d", added.ID)))
}

// Update は業者の1項目を更新する。
// POST /places/{id}
func (h *PlaceHandler) Update(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	// 1. パスパラメータとフォームの検証
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, model.ErrPlaceNotFound, r.PostFormValue("q"))
		return
	}

	var f placeForm
	if err := decodePostForm(h.decoder, r, &f); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	field, err := model.ParsePlaceField(f.Field)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	// 2. 更新
	updated, err := h.service.UpdateField(r.Context(), owner, id, field, f.Value)
	if err != nil {
		h.fail(w, r, err, f.Query)
		return
	}

	seeOther(w, r, homePath(f.Query, fmt.Sprintf("place-%d", updated.ID)))
}

// RequestReview は現在の業者一覧でレビュー生成を要求する。
// POST /reviews
func (h *PlaceHandler) RequestReview(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	query := r.PostFormValue("q")

	places, err := h.service.RequestReview(r.Context(), owner)
	if err != nil {
		h.fail(w, r, err, query)
		return
	}

	loc := localizerFor(r, h.views.bundle)
	h.flash.AddToast(r.Context(), Toast{
		Kind:        string(auth.NoticeSuccess),
		Message:     loc.T("place.review_requested"),
		Description: loc.T("place.review_requested_detail", len(places)),
	})
	seeOther(w, r, homePath(query, ""))
}

// owner はサインイン中の利用者を返す。
// 未ログインの場合は何も変更せずにモーダルを開いてトップページへ戻す。
func (h *PlaceHandler) owner(w http.ResponseWriter, r *http.Request) (*model.Identity, bool) {
	state, err := session.Current(r.Context())
	if err != nil {
		h.logger.Error("session store is not mounted", slog.String("path", r.URL.Path))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewSessionNotMountedError())
		return nil, false
	}
	if state.Identity == nil {
		h.requireSignIn(w, r, r.PostFormValue("q"))
		return nil, false
	}
	return state.Identity, true
}

func (h *PlaceHandler) requireSignIn(w http.ResponseWriter, r *http.Request, query string) {
	h.flash.OpenModal(r.Context(), ModalState{Tab: tabSignIn})
	seeOther(w, r, homePath(query, ""))
}

// fail はサービス層のエラーを通知に変換してトップページへ戻す。
func (h *PlaceHandler) fail(w http.ResponseWriter, r *http.Request, err error, query string) {
	if errors.Is(err, model.ErrAuthRequired) {
		h.requireSignIn(w, r, query)
		return
	}

	var key string
	switch {
	case errors.Is(err, model.ErrInvalidPlaceCount):
		key = "place.error.invalid_count"
	case errors.Is(err, model.ErrInvalidPlaceURL):
		key = "place.error.invalid_url"
	case errors.Is(err, model.ErrPlaceTextTooLong):
		key = "place.error.too_long"
	case errors.Is(err, model.ErrPlaceNotFound):
		key = "place.error.not_found"
	default:
		key = "place.error.save_failed"
		h.logger.Error("place operation failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
	}

	loc := localizerFor(r, h.views.bundle)
	h.flash.AddToast(r.Context(), Toast{Kind: string(auth.NoticeError), Message: loc.T(key)})
	seeOther(w, r, homePath(query, ""))
}
