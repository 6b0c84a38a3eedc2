// Package services – CoordinationService
//
// This file implements the lease-based coordination service that assigns
// ownership of platform entities to collector worker processes and detects
// and reassigns ownership on failure.
//
// State machine per lease: available -> claimed -> {available (graceful
// release or expiry), offline, error}. All transitions are compare-and-set
// on the lease row; expiry alone is the liveness signal — no process ever
// needs to contact the previous holder to reclaim.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// LeaseRepo defines the repository contract required by CoordinationService.
type LeaseRepo interface {
	ClaimLeases(ctx context.Context, db *gorm.DB, workerID string, now time.Time, leaseDur time.Duration, limit int) ([]domain.CoordinationLease, error)
	HeartbeatLease(ctx context.Context, db *gorm.DB, workerID, entityID string, now time.Time, leaseDur time.Duration, live domain.Liveness) error
	ReleaseLease(ctx context.Context, db *gorm.DB, workerID, entityID string, now time.Time) error
	RecordLeaseError(ctx context.Context, db *gorm.DB, entityID string, threshold int) (int, error)
	ClearLeaseError(ctx context.Context, db *gorm.DB, entityID string) error
	ListLeases(ctx context.Context, db *gorm.DB) ([]domain.CoordinationLease, error)
	OwnerOf(ctx context.Context, db *gorm.DB, entityID string, now time.Time) (string, error)
}

// CoordinationService hands out, renews, and reclaims entity leases.
type CoordinationService struct {
	DB   *gorm.DB
	Repo LeaseRepo

	// LeaseDuration is how long one claim or renewal is valid.
	LeaseDuration time.Duration
	// HeartbeatInterval is the default renewal cadence advertised to
	// workers with each claim; a lease config may still override it per
	// entity ("heartbeat_interval").
	HeartbeatInterval time.Duration
	// ErrorThreshold is the consecutive-error count at which a lease is
	// moved to error status and out of claim rotation.
	ErrorThreshold int
	// ClaimLimit caps how many leases a single Claim call can hand out.
	ClaimLimit int

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewCoordinationService constructs a CoordinationService with 30s leases,
// a 10s advertised heartbeat, a threshold of 5 consecutive errors, and a
// claim batch of 25.
func NewCoordinationService(db *gorm.DB, r LeaseRepo) *CoordinationService {
	return &CoordinationService{
		DB:                db,
		Repo:              r,
		LeaseDuration:     30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		ErrorThreshold:    5,
		ClaimLimit:        25,
		now:               time.Now,
	}
}

// HeartbeatEvery reports the renewal cadence workers should default to.
func (s *CoordinationService) HeartbeatEvery() time.Duration {
	return s.HeartbeatInterval
}

// Claim assigns up to ClaimLimit unclaimed-or-expired leases to workerID,
// ordered by assignment priority. Losing a per-row race is not an error: the
// loser simply receives fewer (possibly zero) leases.
func (s *CoordinationService) Claim(ctx context.Context, workerID string) ([]domain.CoordinationLease, error) {
	tr := otel.Tracer("services/CoordinationService")
	ctx, span := tr.Start(ctx, "Claim",
		trace.WithAttributes(attribute.String("worker.id", workerID)),
	)
	defer span.End()

	won, err := s.Repo.ClaimLeases(ctx, s.DB, workerID, s.now().UTC(), s.LeaseDuration, s.ClaimLimit)
	if err != nil {
		leaseTransitions.WithLabelValues("claim", "error").Inc()
		return nil, err
	}
	leaseTransitions.WithLabelValues("claim", "ok").Add(float64(len(won)))
	if len(won) > 0 {
		log.Info().Str("worker_id", workerID).Int("leases", len(won)).Msg("leases claimed")
	}
	return won, nil
}

// Heartbeat extends workerID's claim on entityID by the lease duration and
// records liveness. A heartbeat on a lease the worker no longer holds is
// rejected with ErrLeaseLost; the worker must stop forwarding traffic for
// that entity immediately.
func (s *CoordinationService) Heartbeat(ctx context.Context, workerID, entityID string, live domain.Liveness) error {
	err := s.Repo.HeartbeatLease(ctx, s.DB, workerID, entityID, s.now().UTC(), s.LeaseDuration, live)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		leaseTransitions.WithLabelValues("heartbeat", "rejected").Inc()
		return ErrLeaseLost
	}
	if err != nil {
		leaseTransitions.WithLabelValues("heartbeat", "error").Inc()
		return err
	}
	leaseTransitions.WithLabelValues("heartbeat", "ok").Inc()
	return nil
}

// Release returns workerID's lease on entityID to the available pool. Used
// on graceful shutdown; releasing a lease the worker no longer holds yields
// ErrLeaseLost, which shutdown paths may ignore.
func (s *CoordinationService) Release(ctx context.Context, workerID, entityID string) error {
	err := s.Repo.ReleaseLease(ctx, s.DB, workerID, entityID, s.now().UTC())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		leaseTransitions.WithLabelValues("release", "rejected").Inc()
		return ErrLeaseLost
	}
	if err != nil {
		leaseTransitions.WithLabelValues("release", "error").Inc()
		return err
	}
	leaseTransitions.WithLabelValues("release", "ok").Inc()
	return nil
}

// RecordError increments the consecutive-error counter on an entity's lease.
// Crossing the threshold moves the lease to error status, out of claim
// rotation, preventing thrash on a persistently broken surface.
func (s *CoordinationService) RecordError(ctx context.Context, entityID string) error {
	count, err := s.Repo.RecordLeaseError(ctx, s.DB, entityID, s.ErrorThreshold)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrLeaseNotFound
	}
	if err != nil {
		return err
	}
	if s.ErrorThreshold > 0 && count >= s.ErrorThreshold {
		log.Warn().Str("entity_id", entityID).Int("errors", count).Msg("lease moved to error status")
	}
	return nil
}

// ClearError returns an errored lease to claim rotation.
func (s *CoordinationService) ClearError(ctx context.Context, entityID string) error {
	err := s.Repo.ClearLeaseError(ctx, s.DB, entityID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrLeaseNotFound
	}
	return err
}

// List returns all lease rows for operator inspection.
func (s *CoordinationService) List(ctx context.Context) ([]domain.CoordinationLease, error) {
	return s.Repo.ListLeases(ctx, s.DB)
}

// Owns reports whether workerID currently holds an unexpired claim on the
// entity. The ingest path uses this to enforce that only the owning collector
// forwards platform traffic.
func (s *CoordinationService) Owns(ctx context.Context, workerID, entityID string) (bool, error) {
	owner, err := s.Repo.OwnerOf(ctx, s.DB, entityID, s.now().UTC())
	if err != nil {
		return false, err
	}
	return owner != "" && owner == workerID, nil
}
