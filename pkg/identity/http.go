package identity

import (
	"encoding/json"
	"io"
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

// RegisterPublic attaches the routes that work without a token.
func (h *Handler) RegisterPublic(r *mux.Router) {
	r.HandleFunc("/login", h.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/register", h.handleRegister).Methods(http.MethodPost)
}

// Register attaches the authenticated user routes.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/logout", h.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/current", h.handleCurrent).Methods(http.MethodGet)
	r.HandleFunc("/page", h.handlePage).Methods(http.MethodGet)
	r.HandleFunc("/add", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/update/{id}", h.handleUpdate).Methods(http.MethodPut)
	r.HandleFunc("/reset-password/{id}", h.handleResetPassword).Methods(http.MethodPost)
	r.HandleFunc("/update-status/{id}", h.handleSetStatus).Methods(http.MethodPost)
	r.HandleFunc("/delete/{id}", h.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/avatar/{id}", h.handleUploadAvatar).Methods(http.MethodPost)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var input LoginInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		web.Fail(w, errs.Invalid("invalid request body"))
		return
	}
	result, err := h.service.Login(r.Context(), input)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, result)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		web.Fail(w, errs.Invalid("invalid request body"))
		return
	}
	u, err := h.service.Register(r.Context(), input)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, u)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	tokenID := ""
	if claims, ok := auth.ClaimsFrom(r.Context()); ok {
		tokenID = claims.ID
	}
	if err := h.service.Logout(r.Context(), tokenID, actor.UserID); err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, nil)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		web.FailStatus(w, http.StatusUnauthorized, "not logged in")
		return
	}
	u, err := h.service.Get(r.Context(), actor.UserID)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, u)
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	q := Query{
		Username: r.URL.Query().Get("username"),
		Role:     r.URL.Query().Get("role"),
		Current:  web.QueryInt(r, "current", 1),
		Size:     web.QueryInt(r, "size", 10),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := web.QueryInt(r, "status", StatusEnabled)
		q.Status = &status
	}
	page, err := h.service.Page(r.Context(), actor, q)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, page)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var input CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		web.Fail(w, errs.Invalid("invalid request body"))
		return
	}
	u, err := h.service.CreateUser(r.Context(), actor, input)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, u)
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
	u, err := h.service.Update(r.Context(), actor, id, input)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, u)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	var body struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		web.Fail(w, errs.Invalid("invalid request body"))
		return
	}
	if err := h.service.ResetPassword(r.Context(), actor, id, body.OldPassword, body.NewPassword); err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, nil)
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}
	var body struct {
		Status int `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		web.Fail(w, errs.Invalid("invalid request body"))
		return
	}
	if err := h.service.SetStatus(r.Context(), actor, id, body.Status); err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, nil)
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

func (h *Handler) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := web.PathID(mux.Vars(r), "id")
	if err != nil {
		web.Fail(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		web.Fail(w, errs.Invalid("missing avatar file"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		web.Fail(w, errs.Invalid("failed to read avatar file"))
		return
	}

	u, err := h.service.UploadAvatar(r.Context(), actor, id, header.Filename, content)
	if err != nil {
		web.Fail(w, err)
		return
	}
	web.OK(w, u)
}
