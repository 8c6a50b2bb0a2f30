package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/mutualaid/internal/app/domain/exchange"
	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
	"github.com/R3E-Network/mutualaid/internal/app/domain/profile"
	"github.com/R3E-Network/mutualaid/internal/httputil"
)

func (h *handler) registerProfileRoutes(r *mux.Router) {
	r.HandleFunc("/profile", h.getProfile).Methods(http.MethodGet)
	r.HandleFunc("/profile", h.updateProfile).Methods(http.MethodPut)
	r.HandleFunc("/dashboard", h.dashboard).Methods(http.MethodGet)
	r.HandleFunc("/verification", h.submitVerification).Methods(http.MethodPost)
	r.HandleFunc("/verification", h.listVerification).Methods(http.MethodGet)
}

func (h *handler) getProfile(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	p, err := h.app.Profiles.Get(r.Context(), uid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req profile.Update
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	p, err := h.app.Profiles.Update(r.Context(), uid, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	d, err := h.app.Dashboard.Get(r.Context(), uid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

type verificationRequest struct {
	Message string `json:"message"`
}

func (h *handler) submitVerification(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req verificationRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	created, err := h.app.Verification.Submit(r.Context(), uid, req.Message)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) listVerification(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	list, err := h.app.Verification.List(r.Context(), uid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orEmpty(list))
}

func (h *handler) catalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"categories":        post.Categories,
		"urgency_levels":    post.UrgencyLevels,
		"post_types":        post.Types,
		"exchange_statuses": exchange.Statuses,
	})
}
