package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pulse/pulse/internal/apperrors"
	"github.com/pulse/pulse/internal/models"
	"github.com/pulse/pulse/internal/response"
	"github.com/pulse/pulse/internal/service"
)

type contextKey string

const authKey contextKey = "auth"

// Authenticator checks an Authorization header value for a token purpose.
type Authenticator interface {
	DecodeAndAuthenticate(ctx context.Context, authorization string, purpose service.Purpose) (*service.Authenticated, error)
}

type AuthMiddleware struct {
	authenticator Authenticator
	development   bool
	logger        *logrus.Logger
}

func NewAuthMiddleware(authenticator Authenticator, development bool, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		development:   development,
		logger:        logger,
	}
}

// Authenticate requires a valid token of the given purpose and stores the
// result in the request context. Preflight requests carry no credentials
// and pass through untouched.
func (m *AuthMiddleware) Authenticate(purpose service.Purpose) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if authHeader == "" {
				response.Error(w, apperrors.Clone(apperrors.ErrBadRequest, "missing authorization header"), m.development)
				return
			}

			auth, err := m.authenticator.DecodeAndAuthenticate(r.Context(), authHeader, purpose)
			if err != nil {
				m.logger.WithError(err).WithField("purpose", string(purpose)).Debug("Authentication failed")
				response.Error(w, err, m.development)
				return
			}

			ctx := context.WithValue(r.Context(), authKey, auth)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles rejects authenticated accounts whose role is not listed. It
// must run after Authenticate.
func (m *AuthMiddleware) RequireRoles(roles ...models.Role) func(http.Handler) http.Handler {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			auth, ok := AuthFromContext(r.Context())
			if !ok {
				response.Error(w, apperrors.ErrUnauthorized, m.development)
				return
			}
			if _, ok := allowed[auth.Account.Role]; !ok {
				response.Error(w, apperrors.ErrForbidden, m.development)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func AuthFromContext(ctx context.Context) (*service.Authenticated, bool) {
	auth, ok := ctx.Value(authKey).(*service.Authenticated)
	return auth, ok && auth != nil
}
