package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/pulse/pulse/internal/apperrors"
	"github.com/pulse/pulse/internal/models"
	"github.com/pulse/pulse/internal/response"
	"github.com/pulse/pulse/internal/service"
)

// AccountFlows is implemented by *service.AccountService.
type AccountFlows interface {
	Signup(ctx context.Context, in service.SignupInput) (*models.Account, error)
	Login(ctx context.Context, email, password string) (*models.TokenPair, *models.Account, error)
	ConfirmEmail(ctx context.Context, email, code string) error
	ForgotPassword(ctx context.Context, email string) error
	VerifyForgotPassword(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	ChangePassword(ctx context.Context, account *models.Account, oldPassword, newPassword string) error
	ChangeRole(ctx context.Context, caller *models.Account, targetID string, role models.Role) error
	FreezeAccount(ctx context.Context, caller *models.Account, targetID string) error
	RestoreAccount(ctx context.Context, caller *models.Account, targetID string) error
}

// CredentialFlows is implemented by *service.CredentialService.
type CredentialFlows interface {
	Refresh(ctx context.Context, auth *service.Authenticated) (*models.TokenPair, error)
	Logout(ctx context.Context, auth *service.Authenticated, flag service.LogoutFlag) error
}

type base struct {
	validate    *validator.Validate
	development bool
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when optional is set.
func (b base) decode(r *http.Request, dst interface{}, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			return apperrors.Wrap(err, apperrors.ErrBadRequest, "invalid request body")
		}
	}
	if err := b.validate.Struct(dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrValidation, "invalid request payload")
	}
	return nil
}

func (b base) respondWithError(w http.ResponseWriter, err error) {
	response.Error(w, err, b.development)
}
