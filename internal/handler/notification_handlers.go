package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/notification"
	"github.com/xenking/storefront/internal/notify"
)

type pushKeysRequest struct {
	Auth   string `json:"auth" validate:"required"`
	P256dh string `json:"p256dh" validate:"required"`
}

type subscribeRequest struct {
	Endpoint string          `json:"endpoint" validate:"required,url,max=2048"`
	Keys     pushKeysRequest `json:"keys" validate:"required"`
}

func (a *API) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := a.inbox.List(r.Context(), mustPrincipal(r).ID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	out := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		out = append(out, toNotificationResponse(n))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := a.inbox.MarkRead(r.Context(), mustPrincipal(r).ID, chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSubscribePush(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	err := a.inbox.Subscribe(r.Context(), notification.Subscription{
		RecipientID: mustPrincipal(r).ID,
		Endpoint:    req.Endpoint,
		Auth:        req.Keys.Auth,
		P256dh:      req.Keys.P256dh,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (a *API) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		respondError(w, http.StatusNotFound, "realtime notifications are disabled")
		return
	}
	err := a.hub.Serve(r.Context(), w, r, mustPrincipal(r).ID)
	if err != nil && !errors.Is(err, notify.ErrHubClosed) {
		zctx.From(r.Context()).Debug("Realtime connection rejected", zap.Error(err))
	}
}
