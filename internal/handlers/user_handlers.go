package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/pulse/pulse/internal/apperrors"
	"github.com/pulse/pulse/internal/middleware"
	"github.com/pulse/pulse/internal/models"
	"github.com/pulse/pulse/internal/response"
	"github.com/pulse/pulse/internal/service"
)

// UserHandlers serve routes behind middleware.Authenticate.
type UserHandlers struct {
	base
	accounts    AccountFlows
	credentials CredentialFlows
	logger      *logrus.Logger
}

func NewUserHandlers(accounts AccountFlows, credentials CredentialFlows, validate *validator.Validate, development bool, logger *logrus.Logger) *UserHandlers {
	return &UserHandlers{
		base:        base{validate: validate, development: development},
		accounts:    accounts,
		credentials: credentials,
		logger:      logger,
	}
}

type LogoutRequest struct {
	Flag service.LogoutFlag `json:"flag" validate:"omitempty,oneof=only all"`
}

type ChangePasswordRequest struct {
	OldPassword     string `json:"old_password" validate:"required"`
	Password        string `json:"password" validate:"required,min=8,max=72,nefield=OldPassword"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

type ChangeRoleRequest struct {
	Role models.Role `json:"role" validate:"required,oneof=user admin super-admin"`
}

func (h *UserHandlers) authenticated(w http.ResponseWriter, r *http.Request) (*service.Authenticated, bool) {
	auth, ok := middleware.AuthFromContext(r.Context())
	if !ok {
		h.respondWithError(w, apperrors.ErrUnauthorized)
	}
	return auth, ok
}

// RefreshToken expects a refresh-purpose token.
func (h *UserHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	auth, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	pair, err := h.credentials.Refresh(r.Context(), auth)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.MessageResponse{Message: "Done", Data: pair})
}

func (h *UserHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	auth, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	var req LogoutRequest
	if err := h.decode(r, &req, true); err != nil {
		h.respondWithError(w, err)
		return
	}
	if req.Flag == "" {
		req.Flag = service.LogoutOnly
	}

	if err := h.credentials.Logout(r.Context(), auth, req.Flag); err != nil {
		h.respondWithError(w, err)
		return
	}

	status := http.StatusCreated
	if req.Flag == service.LogoutAll {
		status = http.StatusOK
	}
	response.JSON(w, status, response.MessageResponse{Message: "Done"})
}

func (h *UserHandlers) Me(w http.ResponseWriter, r *http.Request) {
	auth, ok := h.authenticated(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, response.MessageResponse{Message: "Done", Data: auth.Account})
}

func (h *UserHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	auth, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := h.decode(r, &req, false); err != nil {
		h.respondWithError(w, err)
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), auth.Account, req.OldPassword, req.Password); err != nil {
		h.respondWithError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.MessageResponse{Message: "Done"})
}

func (h *UserHandlers) ChangeRole(w http.ResponseWriter, r *http.Request) {
	auth, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	var req ChangeRoleRequest
	if err := h.decode(r, &req, false); err != nil {
		h.respondWithError(w, err)
		return
	}

	targetID, ok := h.targetID(w, r)
	if !ok {
		return
	}

	if err := h.accounts.ChangeRole(r.Context(), auth.Account, targetID, req.Role); err != nil {
		h.respondWithError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.MessageResponse{Message: "Done"})
}

// FreezeAccount freezes the account named by the id route variable, or the
// caller's own account on the route without one.
func (h *UserHandlers) FreezeAccount(w http.ResponseWriter, r *http.Request) {
	auth, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	if err := h.accounts.FreezeAccount(r.Context(), auth.Account, mux.Vars(r)["id"]); err != nil {
		h.respondWithError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.MessageResponse{Message: "Done"})
}

func (h *UserHandlers) RestoreAccount(w http.ResponseWriter, r *http.Request) {
	auth, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	targetID, ok := h.targetID(w, r)
	if !ok {
		return
	}

	if err := h.accounts.RestoreAccount(r.Context(), auth.Account, targetID); err != nil {
		h.respondWithError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.MessageResponse{Message: "Done"})
}

func (h *UserHandlers) targetID(w http.ResponseWriter, r *http.Request) (string, bool) {
	targetID := mux.Vars(r)["id"]
	if targetID == "" {
		h.respondWithError(w, apperrors.Clone(apperrors.ErrValidation, "missing account id"))
		return "", false
	}
	return targetID, true
}
