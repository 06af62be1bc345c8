package handler

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/justinas/nosurf"

	"github.com/hitoshi/reviewlab/internal/i18n"
	"github.com/hitoshi/reviewlab/internal/middleware"
	"github.com/hitoshi/reviewlab/internal/model"
	"github.com/hitoshi/reviewlab/internal/session"
	"github.com/hitoshi/reviewlab/ui"
)

// ErrNoTemplate は存在しないページを描画しようとした場合のエラー。
var ErrNoTemplate = errors.New("template does not exist")

// ページ名
const (
	pageHome     = "home.page.tmpl"
	pageCallback = "callback.page.tmpl"
)

// templateData はテンプレートに渡す値。
type templateData struct {
	Loc       *i18n.Localizer
	CSRFToken string
	Identity  *model.Identity
	Loading   bool
	Toasts    []Toast
	Modal     ModalState
	Providers []model.Provider
	ReturnTo  string
	Query     string
	Rows      []placeRow
	Bare      bool
}

// IsAuthenticated はサインイン中かを返す。
func (d *templateData) IsAuthenticated() bool {
	return d.Identity != nil
}

type placeRow struct {
	ID    int
	Cells []placeCell
}

type placeCell struct {
	ID        int
	Field     model.PlaceField
	Value     string
	InputType string
	Label     string
	CSRFToken string
	Query     string
}

// placeRows は業者一覧を編集可能なセルの行に変換する。
func placeRows(places []model.Place, d *templateData) []placeRow {
	rows := make([]placeRow, 0, len(places))
	for _, p := range places {
		cell := func(field model.PlaceField, value, inputType, labelKey string) placeCell {
			return placeCell{
				ID:        p.ID,
				Field:     field,
				Value:     value,
				InputType: inputType,
				Label:     d.Loc.T(labelKey),
				CSRFToken: d.CSRFToken,
				Query:     d.Query,
			}
		}
		rows = append(rows, placeRow{
			ID: p.ID,
			Cells: []placeCell{
				cell(model.PlaceFieldName, p.Name, "text", "ui.column.name"),
				cell(model.PlaceFieldCount, strconv.Itoa(p.Count), "number", "ui.column.count"),
				cell(model.PlaceFieldKeyword, p.Keyword, "text", "ui.column.keyword"),
				cell(model.PlaceFieldDescription, p.Description, "text", "ui.column.description"),
				cell(model.PlaceFieldPlaceURL, p.PlaceURL, "url", "ui.column.place_url"),
			},
		})
	}
	return rows
}

// newTemplateCache はui.Filesのページごとにテンプレートを解析する。
func newTemplateCache() (map[string]*template.Template, error) {
	cache := map[string]*template.Template{}

	pages, err := fs.Glob(ui.Files, "html/*.page.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to glob pages: %w", err)
	}

	for _, page := range pages {
		name := filepath.Base(page)

		patterns := []string{
			"html/base.layout.tmpl",
			"html/*.partial.tmpl",
			page,
		}

		ts, err := template.New(name).ParseFS(ui.Files, patterns...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		cache[name] = ts
	}

	return cache, nil
}

// Views はHTMLの描画と、描画に共通する値の組み立てを担う。
type Views struct {
	cache  map[string]*template.Template
	flash  *Flash
	bundle *i18n.Bundle
	logger *slog.Logger
}

// NewViews はテンプレートを解析してViewsを生成する。
func NewViews(flash *Flash, bundle *i18n.Bundle, logger *slog.Logger) (*Views, error) {
	cache, err := newTemplateCache()
	if err != nil {
		return nil, err
	}
	return &Views{cache: cache, flash: flash, bundle: bundle, logger: logger}, nil
}

// newTemplateData はリクエストから共通の値を組み立てる。
// 通知とモーダル状態はここで取り出すため、1回の表示でのみ使われる。
func (v *Views) newTemplateData(r *http.Request) *templateData {
	ctx := r.Context()
	data := &templateData{
		Loc:       localizerFor(r, v.bundle),
		CSRFToken: nosurf.Token(r),
		Providers: model.Providers(),
		ReturnTo:  r.URL.RequestURI(),
	}

	if state, err := session.Current(ctx); err == nil {
		data.Identity = state.Identity
		data.Loading = state.Loading
	}
	if v.flash != nil {
		data.Toasts = v.flash.PopToasts(ctx)
		data.Modal = v.flash.PopModal(ctx)
	}
	return data
}

// render はページをバッファに描画してから書き込む。
func (v *Views) render(w http.ResponseWriter, r *http.Request, status int, page string, data *templateData) {
	ts, ok := v.cache[page]
	if !ok {
		v.serverError(w, r, fmt.Errorf("%w: %s", ErrNoTemplate, page))
		return
	}

	buf := new(bytes.Buffer)
	if err := ts.ExecuteTemplate(buf, "base", data); err != nil {
		v.serverError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		v.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

// serverError はエラーを記録し、統一フォーマットの500を返す。
func (v *Views) serverError(w http.ResponseWriter, r *http.Request, err error) {
	v.logger.Error("failed to render page",
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}
