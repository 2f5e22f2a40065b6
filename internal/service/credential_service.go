package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulse/pulse/internal/apperrors"
	"github.com/pulse/pulse/internal/config"
	"github.com/pulse/pulse/internal/models"
)

// AccountStore is the subset of account persistence the auth core needs.
// FindByID and FindOne return nil, nil when no account matches. UpdateOne
// returns the number of matched accounts.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindOne(ctx context.Context, filter models.AccountFilter) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	UpdateOne(ctx context.Context, filter models.AccountFilter, patch models.AccountPatch) (int64, error)
}

type LogoutFlag string

const (
	LogoutOnly LogoutFlag = "only"
	LogoutAll  LogoutFlag = "all"
)

// Authenticated is the result of a successful token check.
type Authenticated struct {
	Account *models.Account
	Claims  *TokenClaims
	Tier    Tier
}

// CredentialService mints access/refresh pairs and authenticates inbound
// tokens. It keeps no per-request state; consistency comes from the stores.
type CredentialService struct {
	keys       SigningKeys
	tokens     *JWTService
	ledger     *RevocationService
	accounts   AccountStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	timeout    time.Duration
	metrics    *MetricsService
	logger     *logrus.Logger
	now        func() time.Time
	newJTI     func() string
}

func NewCredentialService(
	cfg config.JWTConfig,
	tokens *JWTService,
	ledger *RevocationService,
	accounts AccountStore,
	timeout time.Duration,
	metrics *MetricsService,
	logger *logrus.Logger,
) *CredentialService {
	return &CredentialService{
		keys:       NewSigningKeys(cfg),
		tokens:     tokens,
		ledger:     ledger,
		accounts:   accounts,
		accessTTL:  cfg.AccessExpiry,
		refreshTTL: cfg.RefreshExpiry,
		timeout:    timeout,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		newJTI:     func() string { return uuid.New().String() },
	}
}

// IssueCredentials signs a fresh pair for account under its role's tier.
// Both tokens share one jti. Nothing is persisted.
func (s *CredentialService) IssueCredentials(account *models.Account) (*models.TokenPair, error) {
	tier := TierForRole(account.Role)
	keys := s.keys.Pair(tier)
	jti := s.newJTI()

	accessToken, err := s.tokens.Issue(account.ID, keys.Access, s.accessTTL, jti)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.tokens.Issue(account.ID, keys.Refresh, s.refreshTTL, jti)
	if err != nil {
		return nil, err
	}

	s.metrics.CredentialsIssued(tier)

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tier.Marker(),
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// DecodeAndAuthenticate validates an Authorization header value of the form
// "<Bearer|System> <token>" for the given purpose and loads its account.
func (s *CredentialService) DecodeAndAuthenticate(ctx context.Context, authorization string, purpose Purpose) (*Authenticated, error) {
	auth, err := s.decodeAndAuthenticate(ctx, authorization, purpose)
	if err != nil {
		s.metrics.Authentication(purpose, apperrors.FromError(err).Code)
		return nil, err
	}
	s.metrics.Authentication(purpose, "ok")
	return auth, nil
}

func (s *CredentialService) decodeAndAuthenticate(ctx context.Context, authorization string, purpose Purpose) (*Authenticated, error) {
	marker, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || marker == "" || strings.TrimSpace(token) == "" {
		return nil, apperrors.Clone(apperrors.ErrBadRequest, "missing token parts")
	}

	tier, ok := TierFromMarker(marker)
	if !ok {
		return nil, apperrors.Clone(apperrors.ErrBadRequest, "unknown authorization scheme")
	}

	claims, err := s.tokens.Verify(strings.TrimSpace(token), s.keys.Key(tier, purpose))
	if err != nil {
		return nil, err
	}

	revoked, err := s.ledger.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, apperrors.Clone(apperrors.ErrUnauthorized, "invalid or old login credentials")
	}

	lookupCtx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	account, err := s.accounts.FindByID(lookupCtx, claims.Subject)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load account for token")
		return nil, apperrors.FromError(err)
	}
	if account == nil {
		return nil, apperrors.Clone(apperrors.ErrNotFound, "not registered account")
	}

	if isStale(account, claims) {
		return nil, apperrors.Clone(apperrors.ErrUnauthorized, "stale login credentials")
	}
	if account.Frozen() {
		return nil, apperrors.Clone(apperrors.ErrForbidden, "account is frozen")
	}

	return &Authenticated{Account: account, Claims: claims, Tier: tier}, nil
}

// isStale reports whether the account's credentials changed after the token
// was issued. Both sides are compared in whole seconds; equal is not stale.
func isStale(account *models.Account, claims *TokenClaims) bool {
	if account.CredentialsChangedAt.IsZero() {
		return false
	}
	return account.CredentialsChangedAt.Unix() > claims.IssuedAt.Unix()
}

// Revoke records claims.JTI in the ledger until the longest-lived token of
// the pair could have expired.
func (s *CredentialService) Revoke(ctx context.Context, claims *TokenClaims) error {
	if claims == nil || claims.JTI == "" {
		return apperrors.Clone(apperrors.ErrInvalidToken, "missing token id")
	}
	return s.ledger.Record(ctx, claims.JTI, claims.Subject, claims.IssuedAt.Add(s.refreshTTL))
}

// Refresh consumes the presented refresh token and issues a new pair. The
// old jti is revoked first; if that write fails no pair is returned.
func (s *CredentialService) Refresh(ctx context.Context, auth *Authenticated) (*models.TokenPair, error) {
	if err := s.Revoke(ctx, auth.Claims); err != nil {
		return nil, err
	}

	pair, err := s.IssueCredentials(auth.Account)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("account_id", auth.Account.ID).Info("Refresh token rotated")
	return pair, nil
}

// LogoutAll moves the account's credentials watermark to now, invalidating
// every token issued before this second.
func (s *CredentialService) LogoutAll(ctx context.Context, account *models.Account) error {
	now := s.now().Truncate(time.Second)
	matched, err := s.touchCredentials(ctx, models.AccountFilter{ID: account.ID}, models.AccountPatch{}, now)
	if err != nil {
		return err
	}
	if !matched {
		return apperrors.Clone(apperrors.ErrNotFound, "not registered account")
	}
	account.CredentialsChangedAt = now
	return nil
}

func (s *CredentialService) Logout(ctx context.Context, auth *Authenticated, flag LogoutFlag) error {
	switch flag {
	case LogoutAll:
		return s.LogoutAll(ctx, auth.Account)
	case LogoutOnly, "":
		return s.Revoke(ctx, auth.Claims)
	default:
		return apperrors.Clone(apperrors.ErrValidation, "unknown logout flag")
	}
}

// touchCredentials applies patch together with a new watermark to the
// account matching filter and reports whether one matched.
func (s *CredentialService) touchCredentials(ctx context.Context, filter models.AccountFilter, patch models.AccountPatch, at time.Time) (bool, error) {
	patch.CredentialsChangedAt = &at
	return s.updateAccount(ctx, filter, patch)
}

func (s *CredentialService) updateAccount(ctx context.Context, filter models.AccountFilter, patch models.AccountPatch) (bool, error) {
	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	matched, err := s.accounts.UpdateOne(ctx, filter, patch)
	if err != nil {
		s.logger.WithError(err).WithField("account_id", filter.ID).Error("Failed to update account")
		return false, apperrors.FromError(err)
	}
	return matched > 0, nil
}
