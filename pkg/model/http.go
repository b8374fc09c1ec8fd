package model

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wxjbaga/medical/pkg/auth"
	"github.com/wxjbaga/medical/pkg/common/errs"
	"github.com/wxjbaga/medical/pkg/common/web"
	"github.com/wxjbaga/medical/pkg/lifecycle"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register attaches the model routes. The update-status callback sits
// behind the internal-auth middleware because only the algorithm
// service may report training results.
func (h *Handler) Register(r *mux.Router, internal func(http.Handler) http.Handler) {
	r.HandleFunc("/add", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/page", h.handlePage).Methods(http.MethodGet)
	r.HandleFunc("/list", h.handleListPublished).Methods(http.MethodGet)
	r.HandleFunc("/detail/{id}", h.handleDetail).Methods(http.MethodGet)
	r.HandleFunc("/train/{id}", h.handleTrain).Methods(http.MethodPost)
	r.HandleFunc("/publish/{id}", h.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/unpublish/{id}", h.handleUnpublish).Methods(http.MethodPost)
	r.HandleFunc("/update/{id}", h.handleUpdate).Methods(http.MethodPut)
	r.HandleFunc("/delete/{id}", h.handleDelete).Methods(http.MethodDelete)
	r.Handle("/update-status", internal(http.HandlerFunc(h.handleUpdateStatus))).Methods(http.MethodPost)
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
	m, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, m.ID)
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	q := Query{
		Name:      r.URL.Query().Get("name"),
		DatasetID: int64(web.QueryInt(r, "datasetId", 0)),
		Current:   web.QueryInt(r, "current", 1),
		Size:      web.QueryInt(r, "size", 10),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := lifecycle.Status(web.QueryInt(r, "status", 0))
		q.Status = &status
	}
	if actor.Admin {
		q.CreateUserID = int64(web.QueryInt(r, "createUserId", 0))
	}
	page, err := h.service.Page(r.Context(), actor, q)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, page)
}

func (h *Handler) handleListPublished(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	models, err := h.service.ListPublished(r.Context(), actor)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, models)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	m, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, m)
}

func (h *Handler) handleTrain(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	// Body is optional; when present it may carry fresh hyperparameters.
	var body struct {
		TrainHyperparams json.RawMessage `json:"trainHyperparams"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		web.Fail(w, errs.Invalid("invalid request body"))
		return
	}
	if err := h.service.Train(r.Context(), actor, id, body.TrainHyperparams); err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, nil)
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	if err := h.service.Publish(r.Context(), actor, id); err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, nil)
}

func (h *Handler) handleUnpublish(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	if err := h.service.Unpublish(r.Context(), actor, id); err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, nil)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	var input UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		web.Fail(w, errs.Invalid("invalid request body"))
		return
	}
	m, err := h.service.Update(r.Context(), actor, id, input)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, m)
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

// handleUpdateStatus is the callback the algorithm service invokes once
// a training job finishes. The payload is decoded loosely so a
// malformed body can still be reconciled into a terminal failure.
func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		web.Fail(w, errs.Malformed("invalid callback body"))
		return
	}
	if err := h.service.ApplyStatusUpdate(r.Context(), payload); err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, nil)
}
