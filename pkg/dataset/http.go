package dataset

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

func (h *Handler) Register(r *mux.Router, internal func(http.Handler) http.Handler) {
	r.HandleFunc("/add", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/page", h.handlePage).Methods(http.MethodGet)
	r.HandleFunc("/list", h.handleListVerified).Methods(http.MethodGet)
	r.HandleFunc("/detail/{id}", h.handleDetail).Methods(http.MethodGet)
	r.HandleFunc("/upload/{id}", h.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/validate/{id}", h.handleValidate).Methods(http.MethodPost)
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
	d, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, d.ID)
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	q := Query{
		Name:    r.URL.Query().Get("name"),
		Current: web.QueryInt(r, "current", 1),
		Size:    web.QueryInt(r, "size", 10),
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

func (h *Handler) handleListVerified(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	datasets, err := h.service.ListVerified(r.Context(), actor)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, datasets)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	d, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, d)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		web.Fail(w, errs.Invalid("missing dataset file"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		web.Fail(w, errs.Invalid("failed to read dataset file"))
		return
	}

	d, err := h.service.Upload(r.Context(), actor, id, header.Filename, content)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, d)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	if err := h.service.Validate(r.Context(), actor, id); err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, true)
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
	d, err := h.service.Update(r.Context(), actor, id, input)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, d)
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
	web.OK(w, true)
}

// handleUpdateStatus receives the algorithm service's terminal
// validation result. The payload is decoded loosely; the service owns
// the shape checks so a malformed callback still resolves the entity.
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
	web.OK(w, true)
}
