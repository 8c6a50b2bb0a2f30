package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/mutualaid/internal/app/domain/exchange"
	"github.com/R3E-Network/mutualaid/internal/errors"
	"github.com/R3E-Network/mutualaid/internal/httputil"
)

func (h *handler) registerExchangeRoutes(r *mux.Router) {
	r.HandleFunc("/exchanges", h.listExchanges).Methods(http.MethodGet)
	r.HandleFunc("/exchanges/counts", h.exchangeCounts).Methods(http.MethodGet)
	r.HandleFunc("/exchanges/{id}/transition", h.transition).Methods(http.MethodPost)
	r.HandleFunc("/exchanges/{id}/actions", h.actions).Methods(http.MethodGet)
}

func (h *handler) listExchanges(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	status := exchange.Status(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	list, err := h.app.Exchanges.List(r.Context(), uid, status)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orEmpty(list))
}

func (h *handler) exchangeCounts(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	counts, err := h.app.Exchanges.Counts(r.Context(), uid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, counts)
}

type transitionRequest struct {
	Status exchange.Status `json:"status"`
}

// transition answers a failed trust side effect with the gateway error; its
// details carry status_committed so the client knows the status stuck.
func (h *handler) transition(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	target := exchange.Status(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if target == "" {
		httputil.WriteError(w, r, errors.Validation("status is required"))
		return
	}
	updated, err := h.app.Exchanges.Transition(r.Context(), uid, pathID(r), target)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) actions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	targets, err := h.app.Exchanges.Actions(r.Context(), uid, pathID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"actions": orEmpty(targets)})
}
