package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(p.ID)
			e.FieldStart("name")
			e.Str(p.Name)
			e.FieldStart("price")
			e.Str(p.Price.StringFixed(2))
			e.FieldStart("category")
			e.Str(p.Category)
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

func (h *Handler) getInventory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	n, err := h.ledger.Available(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(id)
		e.FieldStart("available")
		e.Int(n)
		e.ObjEnd()
	})
}
