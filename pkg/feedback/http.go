package feedback

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wxjbaga/medical/pkg/auth"
	"github.com/wxjbaga/medical/pkg/common/errs"
	"github.com/wxjbaga/medical/pkg/common/web"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/add", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/page", h.handlePage).Methods(http.MethodGet)
	r.HandleFunc("/detail/{id}", h.handleDetail).Methods(http.MethodGet)
	r.HandleFunc("/reply/{id}", h.handleReply).Methods(http.MethodPost)
	r.HandleFunc("/delete/{id}", h.handleDelete).Methods(http.MethodDelete)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		web.FailStatus(w, http.StatusUnauthorized, "not logged in")
		return
	}
	var input CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		web.Fail(w, errs.Invalid("invalid request body"))
		return
	}
	f, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, f)
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	q := Query{
		ModelID: int64(web.QueryInt(r, "modelId", 0)),
		Current: web.QueryInt(r, "current", 1),
		Size:    web.QueryInt(r, "size", 10),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := web.QueryInt(r, "status", StatusPending)
		q.Status = &status
	}
	page, err := h.service.Page(r.Context(), actor, q)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, page)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	f, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, f)
}

func (h *Handler) handleReply(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	var body struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		web.Fail(w, errs.Invalid("invalid request body"))
		return
	}
	f, err := h.service.Reply(r.Context(), actor, id, body.Reply)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, f)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, nil)
}
