package handler

import (
	"net/http"
)

func (a *API) handleReferralSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.buyers.ReferralSummary(r.Context(), mustPrincipal(r).ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReferralResponse(summary))
}

func (a *API) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	saved, err := a.buyers.Addresses(r.Context(), mustPrincipal(r).ID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	out := make([]savedAddressResponse, 0, len(saved))
	for _, s := range saved {
		out = append(out, savedAddressResponse{ID: s.ID, Address: s.Address, LastUsedAt: s.LastUsedAt})
	}
	writeJSON(w, http.StatusOK, out)
}
