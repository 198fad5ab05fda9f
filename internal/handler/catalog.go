package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/threadline/internal/domain/catalog"
)

func encodeItem(e *jx.Encoder, it catalog.Item) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
		e.Field("price", func(e *jx.Encoder) { e.Float64(it.Price.InexactFloat64()) })
		e.Field("category", func(e *jx.Encoder) { e.Str(it.Category) })
		e.Field("in_stock", func(e *jx.Encoder) { e.Bool(it.InStock) })
	})
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, it := range items {
			encodeItem(e, it)
		}
	})
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) getCatalogItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.items.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeItem(&e, *it)
	writeJSON(w, http.StatusOK, &e)
}
