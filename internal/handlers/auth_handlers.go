package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/pulse/pulse/internal/models"
	"github.com/pulse/pulse/internal/response"
	"github.com/pulse/pulse/internal/service"
)

type AuthHandlers struct {
	base
	accounts AccountFlows
	logger   *logrus.Logger
}

func NewAuthHandlers(accounts AccountFlows, validate *validator.Validate, development bool, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		base:     base{validate: validate, development: development},
		accounts: accounts,
		logger:   logger,
	}
}

type SignupRequest struct {
	UserName        string `json:"user_name" validate:"required,min=2,max=50"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	*models.TokenPair
	User *models.Account `json:"user"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// CodeRequest carries an emailed code, for confirming an account or
// checking a reset code.
type CodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,numeric"`
}

type ResetPasswordRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Code            string `json:"code" validate:"required,numeric"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

func (h *AuthHandlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := h.decode(r, &req, false); err != nil {
		h.respondWithError(w, err)
		return
	}

	account, err := h.accounts.Signup(r.Context(), service.SignupInput{
		UserName: req.UserName,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.MessageResponse{Message: "Done", Data: account})
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decode(r, &req, false); err != nil {
		h.respondWithError(w, err)
		return
	}

	pair, account, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.logger.WithField("account_id", account.ID).Info("Login succeeded")
	response.JSON(w, http.StatusOK, LoginResponse{TokenPair: pair, User: account})
}

func (h *AuthHandlers) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := h.decode(r, &req, false); err != nil {
		h.respondWithError(w, err)
		return
	}

	if err := h.accounts.ConfirmEmail(r.Context(), req.Email, req.Code); err != nil {
		h.respondWithError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.MessageResponse{Message: "Done"})
}

func (h *AuthHandlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := h.decode(r, &req, false); err != nil {
		h.respondWithError(w, err)
		return
	}

	if err := h.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		h.respondWithError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.MessageResponse{Message: "Done"})
}

// VerifyForgotPassword checks a reset code without consuming it.
func (h *AuthHandlers) VerifyForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := h.decode(r, &req, false); err != nil {
		h.respondWithError(w, err)
		return
	}

	if err := h.accounts.VerifyForgotPassword(r.Context(), req.Email, req.Code); err != nil {
		h.respondWithError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.MessageResponse{Message: "Done"})
}

func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := h.decode(r, &req, false); err != nil {
		h.respondWithError(w, err)
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), req.Email, req.Code, req.Password); err != nil {
		h.respondWithError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.MessageResponse{Message: "Done"})
}
