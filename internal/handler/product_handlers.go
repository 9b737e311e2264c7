package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.products.List(r.Context())
	if err != nil {
		handleError(w, r, errors.Wrap(err, "list products"))
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, a.toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := a.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.toProductResponse(*p))
}
