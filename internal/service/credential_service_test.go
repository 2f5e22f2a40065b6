package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/pulse/internal/apperrors"
	"github.com/pulse/pulse/internal/models"
)

var (
	standardAccount = models.Account{ID: "u1", Email: "u1@example.com", Role: models.RoleUser}
	adminAccount    = models.Account{ID: "a1", Email: "a1@example.com", Role: models.RoleAdmin}
	superAccount    = models.Account{ID: "s1", Email: "s1@example.com", Role: models.RoleSuperAdmin}
)

func header(marker, token string) string {
	return marker + " " + token
}

func TestIssueCredentialsStandardTier(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)
	account := standardAccount

	pair, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(15*60), pair.ExpiresIn)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	keys := f.svc.keys.Pair(TierStandard)
	access, err := f.svc.tokens.Verify(pair.AccessToken, keys.Access)
	require.NoError(t, err)
	refresh, err := f.svc.tokens.Verify(pair.RefreshToken, keys.Refresh)
	require.NoError(t, err)

	assert.Equal(t, "u1", access.Subject)
	assert.Equal(t, "u1", refresh.Subject)
	assert.Equal(t, access.JTI, refresh.JTI, "pair shares one jti")
	assert.Len(t, access.JTI, 36)
	assert.Equal(t, 15*time.Minute, access.ExpiresAt.Sub(access.IssuedAt))
	assert.Equal(t, 24*time.Hour, refresh.ExpiresAt.Sub(refresh.IssuedAt))
}

func TestIssueCredentialsElevatedTierOnlyVerifiesWithElevatedKeys(t *testing.T) {
	for _, account := range []models.Account{adminAccount, superAccount} {
		f := newCredentialFixture(t, account)
		acc := account

		pair, err := f.svc.IssueCredentials(&acc)
		require.NoError(t, err)
		assert.Equal(t, "System", pair.TokenType)

		_, err = f.svc.tokens.Verify(pair.AccessToken, f.svc.keys.Key(TierElevated, PurposeAccess))
		require.NoError(t, err)
		_, err = f.svc.tokens.Verify(pair.AccessToken, f.svc.keys.Key(TierStandard, PurposeAccess))
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken))
		_, err = f.svc.tokens.Verify(pair.RefreshToken, f.svc.keys.Key(TierStandard, PurposeRefresh))
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken))
	}
}

func TestIssueCredentialsUsesFreshJTI(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)
	account := standardAccount

	first, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)
	second, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)

	a, err := f.svc.tokens.Verify(first.AccessToken, f.svc.keys.Key(TierStandard, PurposeAccess))
	require.NoError(t, err)
	b, err := f.svc.tokens.Verify(second.AccessToken, f.svc.keys.Key(TierStandard, PurposeAccess))
	require.NoError(t, err)
	assert.NotEqual(t, a.JTI, b.JTI)
}

func TestDecodeAndAuthenticate(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)
	account := standardAccount
	pair, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)

	auth, err := f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.AccessToken), PurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", auth.Account.ID)
	assert.Equal(t, "u1", auth.Claims.Subject)
	assert.Equal(t, TierStandard, auth.Tier)

	auth, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.RefreshToken), PurposeRefresh)
	require.NoError(t, err)
	assert.Equal(t, "u1", auth.Account.ID)
}

func TestDecodeAndAuthenticateRejectsWrongPurpose(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)
	account := standardAccount
	pair, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.AccessToken), PurposeRefresh)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken))

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.RefreshToken), PurposeAccess)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken))
}

func TestDecodeAndAuthenticateRejectsTierMarkerMismatch(t *testing.T) {
	f := newCredentialFixture(t, standardAccount, adminAccount)
	user, admin := standardAccount, adminAccount

	userPair, err := f.svc.IssueCredentials(&user)
	require.NoError(t, err)
	adminPair, err := f.svc.IssueCredentials(&admin)
	require.NoError(t, err)

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("System", userPair.AccessToken), PurposeAccess)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken), "standard token must not pass as elevated")

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", adminPair.AccessToken), PurposeAccess)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken), "elevated token must not pass as standard")

	auth, err := f.svc.DecodeAndAuthenticate(context.Background(), header("System", adminPair.AccessToken), PurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, TierElevated, auth.Tier)
}

func TestDecodeAndAuthenticateMalformedHeader(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)

	for _, raw := range []string{"", "garbage", "Bearer", "Bearer ", " Bearer", "Token abc.def.ghi"} {
		_, err := f.svc.DecodeAndAuthenticate(context.Background(), raw, PurposeAccess)
		require.Error(t, err, "header %q", raw)
		assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest), "header %q", raw)
	}
}

func TestRevokedJTIIsRejectedEveryTime(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)
	f.svc.newJTI = func() string { return "j1" }

	err := f.svc.Revoke(context.Background(), &TokenClaims{JTI: "j1", Subject: "u1", IssuedAt: time.Unix(1000, 0)})
	require.NoError(t, err)

	record := f.ledger.records["j1"]
	assert.Equal(t, "u1", record.OwnerID)
	assert.Equal(t, int64(1000+24*60*60), record.ExpiresAt.Unix())

	account := standardAccount
	pair, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.AccessToken), PurposeAccess)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized), "attempt %d", i)
	}
}

func TestStaleWatermarkIsRejected(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)
	account := standardAccount

	pair, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	require.NoError(t, f.svc.LogoutAll(context.Background(), &account))
	assert.Equal(t, f.clock.Now(), f.accounts.get("u1").CredentialsChangedAt)

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.AccessToken), PurposeAccess)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
	assert.Contains(t, err.Error(), "stale")
}

func TestWatermarkBoundaryIsStrict(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)
	account := standardAccount

	pair, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)

	stored := f.accounts.accounts["u1"]
	stored.CredentialsChangedAt = f.clock.Now()
	f.accounts.accounts["u1"] = stored

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.AccessToken), PurposeAccess)
	require.NoError(t, err, "issuedAt == credentialsChangedAt is accepted")

	stored.CredentialsChangedAt = f.clock.Now().Add(time.Second)
	f.accounts.accounts["u1"] = stored

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.AccessToken), PurposeAccess)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestDecodeAndAuthenticateMissingAccount(t *testing.T) {
	f := newCredentialFixture(t)
	ghost := models.Account{ID: "gone", Role: models.RoleUser}

	pair, err := f.svc.IssueCredentials(&ghost)
	require.NoError(t, err)

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.AccessToken), PurposeAccess)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestDecodeAndAuthenticateRejectsFrozenAccount(t *testing.T) {
	frozenAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	frozen := standardAccount
	frozen.FrozenAt = &frozenAt
	frozen.FrozenBy = "a1"
	f := newCredentialFixture(t, frozen)

	pair, err := f.svc.IssueCredentials(&frozen)
	require.NoError(t, err)

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.AccessToken), PurposeAccess)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))
}

func TestDecodeAndAuthenticateStoreFailure(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)
	account := standardAccount
	pair, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)

	f.ledger.findErr = errors.New("ledger down")
	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.AccessToken), PurposeAccess)
	assert.True(t, apperrors.Is(err, apperrors.ErrInternal))
}

func TestRefreshRevokesConsumedToken(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)
	account := standardAccount
	pair, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)

	auth, err := f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.RefreshToken), PurposeRefresh)
	require.NoError(t, err)

	next, err := f.svc.Refresh(context.Background(), auth)
	require.NoError(t, err)

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.RefreshToken), PurposeRefresh)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized), "consumed refresh token cannot be replayed")

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.AccessToken), PurposeAccess)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized), "sibling access token shares the revoked jti")

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", next.RefreshToken), PurposeRefresh)
	require.NoError(t, err)
}

func TestRefreshFailsClosedWhenLedgerWriteFails(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)
	account := standardAccount
	pair, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)

	auth, err := f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.RefreshToken), PurposeRefresh)
	require.NoError(t, err)

	f.ledger.createErr = errors.New("write failed")
	next, err := f.svc.Refresh(context.Background(), auth)
	require.Error(t, err)
	assert.Nil(t, next)
}

func TestLogoutFlags(t *testing.T) {
	f := newCredentialFixture(t, standardAccount)
	account := standardAccount
	pair, err := f.svc.IssueCredentials(&account)
	require.NoError(t, err)

	auth, err := f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", pair.AccessToken), PurposeAccess)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), auth, LogoutOnly))
	_, ok := f.ledger.records[auth.Claims.JTI]
	assert.True(t, ok)
	assert.True(t, f.accounts.get("u1").CredentialsChangedAt.IsZero())

	err = f.svc.Logout(context.Background(), auth, LogoutOnly)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict), "second revoke of the same jti reports no effect")

	f.clock.Advance(time.Second)
	require.NoError(t, f.svc.Logout(context.Background(), auth, LogoutAll))
	assert.Equal(t, f.clock.Now(), f.accounts.get("u1").CredentialsChangedAt)

	err = f.svc.Logout(context.Background(), auth, LogoutFlag("sometimes"))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestLogoutAllUnknownAccount(t *testing.T) {
	f := newCredentialFixture(t)

	err := f.svc.LogoutAll(context.Background(), &models.Account{ID: "nobody"})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestRoleDowngradeSwitchesTier(t *testing.T) {
	f := newCredentialFixture(t, adminAccount)
	accounts := NewAccountService(f.accounts, newTestHasher(), f.svc, nil, time.Second, false, newTestLogger())
	accounts.now = f.clock.Now
	admin := adminAccount

	oldPair, err := f.svc.IssueCredentials(&admin)
	require.NoError(t, err)
	require.Equal(t, "System", oldPair.TokenType)

	f.clock.Advance(5 * time.Second)
	require.NoError(t, accounts.ChangeRole(context.Background(), &superAccount, "a1", models.RoleUser))

	demoted := f.accounts.get("a1")
	require.Equal(t, models.RoleUser, demoted.Role)

	newPair, err := f.svc.IssueCredentials(&demoted)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", newPair.TokenType)

	_, err = f.svc.tokens.Verify(newPair.AccessToken, f.svc.keys.Key(TierStandard, PurposeAccess))
	require.NoError(t, err)

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", oldPair.AccessToken), PurposeAccess)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken), "old elevated token fails against standard keys")

	_, err = f.svc.DecodeAndAuthenticate(context.Background(), header("System", oldPair.AccessToken), PurposeAccess)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized), "old elevated token is stale after the role change")

	auth, err := f.svc.DecodeAndAuthenticate(context.Background(), header("Bearer", newPair.AccessToken), PurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, auth.Account.Role)
}
