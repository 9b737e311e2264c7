package handler

import (
	"net/http"

	"github.com/xenking/storefront/internal/domain/cart"
)

type addCartItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000"`
	ColorID   string `json:"colorId"`
}

type updateCartItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	ColorID   string `json:"colorId"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000"`
}

type cartLineRequest struct {
	ProductID string `json:"productId" validate:"required"`
	ColorID   string `json:"colorId"`
}

func (l cartLineRequest) key() cart.Key {
	return cart.Key{ProductID: l.ProductID, ColorID: l.ColorID}
}

type selectionRequest struct {
	ProductID string `json:"productId" validate:"required"`
	ColorID   string `json:"colorId"`
	Selected  *bool  `json:"selected" validate:"required"`
}

type cartValidationResponse struct {
	Valid bool         `json:"valid"`
	Cart  cartResponse `json:"cart"`
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	c, err := a.carts.Get(r.Context(), mustPrincipal(r).ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (a *API) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	c, err := a.carts.Add(r.Context(), mustPrincipal(r).ID, cart.AddRequest{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		ColorID:   req.ColorID,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (a *API) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateCartItemRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	key := cart.Key{ProductID: req.ProductID, ColorID: req.ColorID}
	c, err := a.carts.UpdateQuantity(r.Context(), mustPrincipal(r).ID, key, req.Quantity)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (a *API) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartLineRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	c, err := a.carts.Remove(r.Context(), mustPrincipal(r).ID, req.key())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (a *API) handleSelectOnly(w http.ResponseWriter, r *http.Request) {
	var req cartLineRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	c, err := a.carts.SelectOnly(r.Context(), mustPrincipal(r).ID, req.key())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (a *API) handleSetSelected(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	key := cart.Key{ProductID: req.ProductID, ColorID: req.ColorID}
	c, err := a.carts.SetSelected(r.Context(), mustPrincipal(r).ID, key, *req.Selected)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (a *API) handleValidateCart(w http.ResponseWriter, r *http.Request) {
	c, _, err := a.carts.ValidateForCheckout(r.Context(), mustPrincipal(r).ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartValidationResponse{Valid: true, Cart: toCartResponse(c)})
}
