package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulse/pulse/internal/apperrors"
	"github.com/pulse/pulse/internal/models"
)

// RevocationStore persists revocation records. Create returns a nil record
// when nothing was written, e.g. the jti was already recorded. FindOne
// returns nil, nil when the jti is unknown.
type RevocationStore interface {
	Create(ctx context.Context, record models.RevocationRecord) (*models.RevocationRecord, error)
	FindOne(ctx context.Context, jti string) (*models.RevocationRecord, error)
}

// RevocationService is a deny-list of consumed token ids. A jti with no
// record is treated as live.
type RevocationService struct {
	store   RevocationStore
	timeout time.Duration
	metrics *MetricsService
	logger  *logrus.Logger
	now     func() time.Time
}

func NewRevocationService(store RevocationStore, timeout time.Duration, metrics *MetricsService, logger *logrus.Logger) *RevocationService {
	return &RevocationService{
		store:   store,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Record writes a revocation for jti. A write that reports no effect is a
// conflict and is not retried.
func (s *RevocationService) Record(ctx context.Context, jti, ownerID string, expiresAt time.Time) error {
	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	record, err := s.store.Create(ctx, models.RevocationRecord{
		TokenID:   jti,
		OwnerID:   ownerID,
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.metrics.Revocation("error")
		s.logger.WithError(err).WithField("owner_id", ownerID).Error("Failed to write revocation record")
		return apperrors.FromError(err)
	}
	if record == nil {
		s.metrics.Revocation("conflict")
		s.logger.WithField("owner_id", ownerID).Warn("Revocation record was not created")
		return apperrors.Clone(apperrors.ErrConflict, "failed to revoke this token")
	}

	s.metrics.Revocation("ok")
	return nil
}

func (s *RevocationService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	record, err := s.store.FindOne(ctx, jti)
	if err != nil {
		s.logger.WithError(err).Error("Failed to look up revocation record")
		return false, apperrors.FromError(err)
	}
	return record != nil, nil
}

func withStoreTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
