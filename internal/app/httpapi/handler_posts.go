package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
	"github.com/R3E-Network/mutualaid/internal/errors"
	"github.com/R3E-Network/mutualaid/internal/httputil"
)

func (h *handler) registerPostRoutes(r *mux.Router) {
	r.HandleFunc("/posts", h.feed).Methods(http.MethodGet)
	r.HandleFunc("/posts", h.createPost).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/close", h.closePost).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/contact", h.contact).Methods(http.MethodPost)

	r.HandleFunc("/emergency", h.emergencyFeed).Methods(http.MethodGet)
	r.HandleFunc("/emergency", h.raiseEmergency).Methods(http.MethodPost)
	r.HandleFunc("/emergency/templates", h.emergencyTemplates).Methods(http.MethodGet)
	r.HandleFunc("/emergency/{id}/respond", h.respond).Methods(http.MethodPost)

	r.HandleFunc("/catalog", h.catalog).Methods(http.MethodGet)
}

func oneOf(value string, options []post.Option) bool {
	for _, o := range options {
		if o.ID == value {
			return true
		}
	}
	return false
}

// parseFilter reads type, category, urgency and q. Unknown enum values are
// rejected rather than silently matching nothing.
func parseFilter(r *http.Request) (post.Filter, error) {
	q := r.URL.Query()
	f := post.Filter{
		Type:     post.Type(strings.ToLower(strings.TrimSpace(q.Get("type")))),
		Category: post.Category(strings.ToLower(strings.TrimSpace(q.Get("category")))),
		Urgency:  post.Urgency(strings.ToLower(strings.TrimSpace(q.Get("urgency")))),
		Text:     strings.TrimSpace(q.Get("q")),
	}
	if f.Type != "" && !oneOf(string(f.Type), post.Types) {
		return f, errors.Validation("unknown type " + string(f.Type))
	}
	if f.Category != "" && !oneOf(string(f.Category), post.Categories) {
		return f, errors.Validation("unknown category " + string(f.Category))
	}
	if f.Urgency != "" && !oneOf(string(f.Urgency), post.UrgencyLevels) {
		return f, errors.Validation("unknown urgency " + string(f.Urgency))
	}
	return f, nil
}

func (h *handler) feed(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r); !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	list, err := h.app.Posts.Feed(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orEmpty(list))
}

type createPostRequest struct {
	Type         post.Type     `json:"type"`
	Category     post.Category `json:"category"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Urgency      post.Urgency  `json:"urgency"`
	Location     string        `json:"location"`
	Availability string        `json:"availability"`
}

func (h *handler) createPost(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req createPostRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	created, err := h.app.Posts.Create(r.Context(), uid, post.Draft{
		Type:         req.Type,
		Category:     req.Category,
		Title:        req.Title,
		Description:  req.Description,
		Urgency:      req.Urgency,
		Location:     req.Location,
		Availability: req.Availability,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) closePost(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	closed, err := h.app.Posts.Close(r.Context(), uid, pathID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, closed)
}

func (h *handler) contact(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	ex, err := h.app.Exchanges.Contact(r.Context(), uid, pathID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ex)
}

func (h *handler) emergencyFeed(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r); !ok {
		return
	}
	list, err := h.app.Posts.EmergencyFeed(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orEmpty(list))
}

type raiseEmergencyRequest struct {
	TemplateID  string `json:"template_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

func (h *handler) raiseEmergency(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req raiseEmergencyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	created, err := h.app.Posts.RaiseEmergency(r.Context(), uid, req.TemplateID, req.Title, req.Description, req.Location)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) emergencyTemplates(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, post.EmergencyTemplates)
}

func (h *handler) respond(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	ex, err := h.app.Exchanges.RespondToEmergency(r.Context(), uid, pathID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ex)
}
