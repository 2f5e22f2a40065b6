package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulse/pulse/internal/apperrors"
	"github.com/pulse/pulse/internal/models"
	"github.com/pulse/pulse/internal/repository"
)

type SignupInput struct {
	UserName string
	Email    string
	Password string
}

// AccountService covers the account flows that create credentials or move
// the credentials watermark.
type AccountService struct {
	accounts    AccountStore
	hasher      Hasher
	credentials *CredentialService
	codes       *VerificationCodeService
	timeout     time.Duration
	development bool
	logger      *logrus.Logger
	now         func() time.Time
}

func NewAccountService(
	accounts AccountStore,
	hasher Hasher,
	credentials *CredentialService,
	codes *VerificationCodeService,
	timeout time.Duration,
	development bool,
	logger *logrus.Logger,
) *AccountService {
	return &AccountService{
		accounts:    accounts,
		hasher:      hasher,
		credentials: credentials,
		codes:       codes,
		timeout:     timeout,
		development: development,
		logger:      logger,
		now:         time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AccountService) Signup(ctx context.Context, in SignupInput) (*models.Account, error) {
	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	email := normalizeEmail(in.Email)
	existing, err := s.accounts.FindOne(ctx, models.AccountFilter{Email: email})
	if err != nil {
		return nil, apperrors.FromError(err)
	}
	if existing != nil {
		return nil, apperrors.Clone(apperrors.ErrConflict, "email exist")
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "")
	}

	code, err := s.codes.Generate(ctx, CodeConfirmEmail, email)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to send the confirmation code, please try again later")
	}

	now := s.now()
	account := &models.Account{
		ID:           uuid.New().String(),
		Email:        email,
		UserName:     in.UserName,
		PasswordHash: hashed,
		Role:         models.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrAccountExists) {
			return nil, apperrors.Clone(apperrors.ErrConflict, "email exist")
		}
		s.logger.WithError(err).Error("Failed to create account")
		return nil, apperrors.FromError(err)
	}

	s.logCode(account.ID, code, "Account created, confirmation code generated")
	return account, nil
}

// logCode records that a code was generated. Delivery happens elsewhere;
// the code itself is only logged in development.
func (s *AccountService) logCode(accountID, code, msg string) {
	entry := s.logger.WithField("account_id", accountID)
	if s.development {
		entry = entry.WithField("code", code)
	}
	entry.Info(msg)
}

// ConfirmEmail marks an unconfirmed account as confirmed when code matches.
func (s *AccountService) ConfirmEmail(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)

	lookupCtx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	account, err := s.accounts.FindOne(lookupCtx, models.AccountFilter{Email: email, Confirmed: boolRef(false)})
	if err != nil {
		return apperrors.FromError(err)
	}
	if account == nil {
		return apperrors.Clone(apperrors.ErrNotFound, "invalid account")
	}

	if err := s.codes.Verify(ctx, CodeConfirmEmail, email, code); err != nil {
		return codeError(err, "invalid confirmation code")
	}

	now := s.now()
	matched, err := s.credentials.updateAccount(ctx,
		models.AccountFilter{ID: account.ID, Confirmed: boolRef(false)},
		models.AccountPatch{ConfirmedAt: &now})
	if err != nil {
		return err
	}
	if !matched {
		return apperrors.Clone(apperrors.ErrNotFound, "invalid account")
	}

	s.logger.WithField("account_id", account.ID).Info("Account confirmed")
	return nil
}

func boolRef(b bool) *bool { return &b }

func codeError(err error, message string) error {
	switch {
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeAttempts), errors.Is(err, ErrCodeInvalid):
		return apperrors.Wrap(err, apperrors.ErrConflict, message)
	default:
		return apperrors.FromError(err)
	}
}

// Login checks email and password and issues a credential pair.
func (s *AccountService) Login(ctx context.Context, email, password string) (*models.TokenPair, *models.Account, error) {
	lookupCtx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	account, err := s.accounts.FindOne(lookupCtx, models.AccountFilter{Email: normalizeEmail(email)})
	if err != nil {
		return nil, nil, apperrors.FromError(err)
	}
	if account == nil || !s.hasher.Compare(password, account.PasswordHash) {
		return nil, nil, apperrors.Clone(apperrors.ErrNotFound, "invalid login data")
	}
	if !account.Confirmed() {
		return nil, nil, apperrors.Clone(apperrors.ErrBadRequest, "verify your account first")
	}
	if account.Frozen() {
		return nil, nil, apperrors.Clone(apperrors.ErrForbidden, "account is frozen")
	}

	pair, err := s.credentials.IssueCredentials(account)
	if err != nil {
		return nil, nil, err
	}

	return pair, account, nil
}

func (s *AccountService) ChangePassword(ctx context.Context, account *models.Account, oldPassword, newPassword string) error {
	if !s.hasher.Compare(oldPassword, account.PasswordHash) {
		return apperrors.Clone(apperrors.ErrUnauthorized, "invalid old password")
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "")
	}

	return s.setPassword(ctx, account.ID, hashed)
}

func (s *AccountService) setPassword(ctx context.Context, accountID, hashed string) error {
	matched, err := s.credentials.touchCredentials(ctx,
		models.AccountFilter{ID: accountID},
		models.AccountPatch{PasswordHash: &hashed},
		s.now().Truncate(time.Second))
	if err != nil {
		return err
	}
	if !matched {
		return apperrors.Clone(apperrors.ErrNotFound, "not registered account")
	}
	return nil
}

// ChangeRole sets a new role for targetID. Super-admins cannot be changed,
// admins cannot change other admins or grant super-admin, and a change to
// the current role matches nothing. Tokens signed under the previous role's
// tier stop authenticating.
func (s *AccountService) ChangeRole(ctx context.Context, caller *models.Account, targetID string, role models.Role) error {
	if !role.Valid() {
		return apperrors.Clone(apperrors.ErrValidation, "unknown role")
	}
	if caller.Role != models.RoleAdmin && caller.Role != models.RoleSuperAdmin {
		return apperrors.Clone(apperrors.ErrForbidden, "")
	}
	if caller.Role == models.RoleAdmin && role == models.RoleSuperAdmin {
		return apperrors.Clone(apperrors.ErrForbidden, "only a super-admin can grant super-admin")
	}

	deny := []models.Role{role, models.RoleSuperAdmin}
	if caller.Role == models.RoleAdmin {
		deny = append(deny, models.RoleAdmin)
	}

	matched, err := s.credentials.touchCredentials(ctx,
		models.AccountFilter{ID: targetID, RoleNotIn: deny},
		models.AccountPatch{Role: &role},
		s.now().Truncate(time.Second))
	if err != nil {
		return err
	}
	if !matched {
		return apperrors.Clone(apperrors.ErrNotFound, "fail to find matching result")
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": targetID,
		"role":       role,
		"changed_by": caller.ID,
	}).Info("Account role changed")
	return nil
}

// FreezeAccount freezes targetID, or the caller when targetID is empty.
// Only admins and super-admins may freeze someone else, and only a
// super-admin may freeze a super-admin. Every token issued before the
// freeze stops authenticating.
func (s *AccountService) FreezeAccount(ctx context.Context, caller *models.Account, targetID string) error {
	if targetID == "" {
		targetID = caller.ID
	}

	filter := models.AccountFilter{ID: targetID, Frozen: boolRef(false)}
	if targetID != caller.ID {
		switch caller.Role {
		case models.RoleSuperAdmin:
		case models.RoleAdmin:
			filter.RoleNotIn = []models.Role{models.RoleSuperAdmin}
		default:
			return apperrors.Clone(apperrors.ErrForbidden, "")
		}
	}

	now := s.now().Truncate(time.Second)
	frozenBy := caller.ID
	matched, err := s.credentials.touchCredentials(ctx, filter,
		models.AccountPatch{FrozenAt: &now, FrozenBy: &frozenBy}, now)
	if err != nil {
		return err
	}
	if !matched {
		return apperrors.Clone(apperrors.ErrNotFound, "fail to find matching result")
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": targetID,
		"frozen_by":  caller.ID,
	}).Info("Account frozen")
	return nil
}

// RestoreAccount lifts a freeze on targetID. An account that froze itself
// cannot be restored this way.
func (s *AccountService) RestoreAccount(ctx context.Context, caller *models.Account, targetID string) error {
	if caller.Role != models.RoleAdmin && caller.Role != models.RoleSuperAdmin {
		return apperrors.Clone(apperrors.ErrForbidden, "")
	}

	matched, err := s.credentials.updateAccount(ctx,
		models.AccountFilter{ID: targetID, Frozen: boolRef(true), NotFrozenBy: targetID},
		models.AccountPatch{Unfreeze: true})
	if err != nil {
		return err
	}
	if !matched {
		return apperrors.Clone(apperrors.ErrNotFound, "fail to find matching result")
	}

	s.logger.WithFields(logrus.Fields{
		"account_id":  targetID,
		"restored_by": caller.ID,
	}).Info("Account restored")
	return nil
}

// ForgotPassword issues a reset code. Unknown emails report NotFound.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	lookupCtx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	account, err := s.accounts.FindOne(lookupCtx, models.AccountFilter{Email: email, Confirmed: boolRef(true)})
	if err != nil {
		return apperrors.FromError(err)
	}
	if account == nil {
		return apperrors.Clone(apperrors.ErrNotFound, "invalid account")
	}

	code, err := s.codes.Generate(ctx, CodeResetPassword, email)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "failed to send the reset code, please try again later")
	}

	s.logCode(account.ID, code, "Password reset code generated")
	return nil
}

// VerifyForgotPassword reports whether code is the current reset code for
// email without consuming it. A wrong guess still counts as an attempt.
func (s *AccountService) VerifyForgotPassword(ctx context.Context, email, code string) error {
	if err := s.codes.Check(ctx, CodeResetPassword, normalizeEmail(email), code); err != nil {
		return codeError(err, "invalid reset code")
	}
	return nil
}

func (s *AccountService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = normalizeEmail(email)

	if err := s.codes.Verify(ctx, CodeResetPassword, email, code); err != nil {
		return codeError(err, "invalid reset code")
	}

	lookupCtx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	account, err := s.accounts.FindOne(lookupCtx, models.AccountFilter{Email: email})
	if err != nil {
		return apperrors.FromError(err)
	}
	if account == nil {
		return apperrors.Clone(apperrors.ErrNotFound, "invalid account")
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "")
	}

	return s.setPassword(ctx, account.ID, hashed)
}
