package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/pulse/pulse/internal/apperrors"
)

// ClaimsVersion is bumped whenever the claim layout changes.
const ClaimsVersion = 1

type Claims struct {
	Version int `json:"ver"`
	jwt.RegisteredClaims
}

// TokenClaims is the decoded, validated view of a token.
type TokenClaims struct {
	Subject   string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Version   int
}

// JWTService signs and verifies HS256 tokens. It holds no keys; callers pass
// the key resolved for the token's tier and purpose.
type JWTService struct {
	now    func() time.Time
	logger *logrus.Logger
}

func NewJWTService(logger *logrus.Logger) *JWTService {
	return &JWTService{
		now:    time.Now,
		logger: logger,
	}
}

// Issue signs a token for subject that expires ttl after its issued-at second.
func (s *JWTService) Issue(subject string, key []byte, ttl time.Duration, jti string) (string, error) {
	if len(key) == 0 {
		return "", apperrors.Clone(apperrors.ErrEncoding, "signing key is not configured")
	}

	issuedAt := s.now().Truncate(time.Second)
	claims := &Claims{
		Version: ClaimsVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign token")
		return "", apperrors.Wrap(err, apperrors.ErrEncoding, "")
	}

	return signed, nil
}

// Verify checks the signature and expiry of tokenString against key.
func (s *JWTService) Verify(tokenString string, key []byte) (*TokenClaims, error) {
	if len(key) == 0 {
		return nil, apperrors.Clone(apperrors.ErrInvalidToken, "")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		message := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			message = "token expired"
		}
		return nil, apperrors.Wrap(err, apperrors.ErrInvalidToken, message)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.Clone(apperrors.ErrInvalidToken, "")
	}

	if claims.Version != ClaimsVersion {
		return nil, apperrors.Clone(apperrors.ErrInvalidToken, "unsupported token version")
	}
	if claims.Subject == "" || claims.IssuedAt == nil || claims.ID == "" {
		return nil, apperrors.Clone(apperrors.ErrInvalidToken, "invalid token payload")
	}

	return &TokenClaims{
		Subject:   claims.Subject,
		JTI:       claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Version:   claims.Version,
	}, nil
}
