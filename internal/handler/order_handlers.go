package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/order"
)

type createOrderRequest struct {
	ShippingAddress addressRequest `json:"shippingAddress" validate:"required"`
	PaymentMethod   string         `json:"paymentMethod" validate:"required,max=32"`
	UseCoins        bool           `json:"useReferralCoins"`
}

func (req createOrderRequest) place(buyerID string) order.PlaceRequest {
	return order.PlaceRequest{
		BuyerID:         buyerID,
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   req.PaymentMethod,
		UseCoins:        req.UseCoins,
	}
}

type createDirectOrderRequest struct {
	createOrderRequest
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000"`
	ColorID   string `json:"colorId"`
}

type cancelOrderRequest struct {
	Reason order.CancelReason `json:"reason" validate:"required"`
}

type updateStatusRequest struct {
	Status order.Status       `json:"status" validate:"required"`
	Reason order.CancelReason `json:"reason"`
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	o, err := a.orders.CreateFromCart(r.Context(), req.place(mustPrincipal(r).ID))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (a *API) handleCreateDirectOrder(w http.ResponseWriter, r *http.Request) {
	var req createDirectOrderRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	o, err := a.orders.CreateDirect(r.Context(), order.DirectRequest{
		PlaceRequest: req.place(mustPrincipal(r).ID),
		ProductID:    req.ProductID,
		Quantity:     req.Quantity,
		ColorID:      req.ColorID,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (a *API) handleListBuyerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.orders.ListForBuyer(r.Context(), mustPrincipal(r).ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

func (a *API) handleListSellerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.orders.ListForSeller(r.Context(), mustPrincipal(r).ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.orders.Get(r.Context(), actorOf(mustPrincipal(r)), chi.URLParam(r, "orderId"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	o, err := a.orders.Cancel(r.Context(), actorOf(mustPrincipal(r)), chi.URLParam(r, "orderId"), req.Reason)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (a *API) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	o, err := a.orders.UpdateStatus(r.Context(), actorOf(mustPrincipal(r)),
		chi.URLParam(r, "orderId"), req.Status, req.Reason)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
