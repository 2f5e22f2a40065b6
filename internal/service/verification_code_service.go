package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pulse/pulse/internal/config"
	"github.com/pulse/pulse/internal/models"
)

var (
	ErrCodeNotFound = errors.New("verification code not found or expired")
	ErrCodeAttempts = errors.New("maximum attempts exceeded")
	ErrCodeInvalid  = errors.New("invalid verification code")
)

// CodePurpose namespaces codes so a reset code cannot confirm an email and
// the other way round.
type CodePurpose string

const (
	CodeConfirmEmail  CodePurpose = "confirm_email"
	CodeResetPassword CodePurpose = "reset_code"
)

// attemptScript adjusts the attempt counter of an existing code and returns
// the new value, or -1 when the code is gone. It never creates the key.
var attemptScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", ARGV[1])
`)

// VerificationCodeService issues numeric codes for email confirmation and
// password resets. Codes live hashed in a Redis hash with a TTL; wrong
// guesses are counted atomically.
type VerificationCodeService struct {
	client *redis.Client
	hasher Hasher
	cfg    config.ResetCodeConfig
	logger *logrus.Logger
	now    func() time.Time
}

func NewVerificationCodeService(client *redis.Client, hasher Hasher, cfg config.ResetCodeConfig, logger *logrus.Logger) *VerificationCodeService {
	return &VerificationCodeService{
		client: client,
		hasher: hasher,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func codeKey(purpose CodePurpose, email string) string {
	return fmt.Sprintf("%s:%s", purpose, strings.ToLower(email))
}

// codeTTL never returns less than a second; a zero expiration would make
// Redis keep the key forever.
func codeTTL(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}

// Generate stores a new code for email, replacing any previous one, and
// returns the plaintext for delivery.
func (s *VerificationCodeService) Generate(ctx context.Context, purpose CodePurpose, email string) (string, error) {
	code, err := s.generateRandomCode(s.cfg.Length)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	hashed, err := s.hasher.Hash(code)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}

	now := s.now()
	ttl := codeTTL(s.cfg.Expiry)
	key := codeKey(purpose, email)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code_hash", hashed,
			"email", strings.ToLower(email),
			"attempts", 0,
			"created_at", now.Unix(),
			"expires_at", now.Add(ttl).Unix(),
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("purpose", string(purpose)).Error("Failed to store verification code in Redis")
		return "", fmt.Errorf("failed to store code: %w", err)
	}

	return code, nil
}

// Verify checks code and consumes it on success.
func (s *VerificationCodeService) Verify(ctx context.Context, purpose CodePurpose, email, code string) error {
	return s.check(ctx, purpose, email, code, true)
}

// Check reports whether code is valid without consuming it. Wrong guesses
// still count against the attempt limit.
func (s *VerificationCodeService) Check(ctx context.Context, purpose CodePurpose, email, code string) error {
	return s.check(ctx, purpose, email, code, false)
}

func (s *VerificationCodeService) check(ctx context.Context, purpose CodePurpose, email, code string, consume bool) error {
	key := codeKey(purpose, email)

	data, err := s.load(ctx, key)
	if err != nil {
		return err
	}

	if !s.now().Before(data.ExpiresAt) {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete expired code: %w", err)
		}
		return ErrCodeNotFound
	}

	// Reserve the attempt before comparing so concurrent guesses cannot
	// all observe the same count.
	attempts, err := attemptScript.Run(ctx, s.client, []string{key}, 1).Int()
	if err != nil {
		return fmt.Errorf("failed to count code attempt: %w", err)
	}
	if attempts < 0 {
		return ErrCodeNotFound
	}
	if attempts > s.cfg.MaxAttempts {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete exhausted code: %w", err)
		}
		return ErrCodeAttempts
	}

	if !s.hasher.Compare(code, data.CodeHash) {
		return ErrCodeInvalid
	}

	if !consume {
		if err := attemptScript.Run(ctx, s.client, []string{key}, -1).Err(); err != nil {
			return fmt.Errorf("failed to release code attempt: %w", err)
		}
		return nil
	}

	deleted, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to consume code: %w", err)
	}
	if deleted == 0 {
		// a concurrent request consumed it first
		return ErrCodeNotFound
	}
	return nil
}

func (s *VerificationCodeService) load(ctx context.Context, key string) (*models.VerificationCode, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		s.logger.WithError(err).Error("Failed to get verification code from Redis")
		return nil, fmt.Errorf("failed to get code: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrCodeNotFound
	}

	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("malformed code attempts: %w", err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed code created_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed code expires_at: %w", err)
	}

	return &models.VerificationCode{
		CodeHash:  fields["code_hash"],
		Email:     fields["email"],
		Attempts:  attempts,
		CreatedAt: time.Unix(createdAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
	}, nil
}

func (s *VerificationCodeService) generateRandomCode(length int) (string, error) {
	var b strings.Builder
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteString(num.String())
	}
	return b.String(), nil
}
