package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"mlsrelay/internal/domain"
	"mlsrelay/internal/store"
)

// DefaultKeyPackageBatchCap bounds one publish call so a device cannot flood
// the pool.
const DefaultKeyPackageBatchCap = 100

// DefaultKeyPackageValidity is applied when a published package carries no
// validity window.
const DefaultKeyPackageValidity = 90 * 24 * time.Hour

type Option func(*Service)

// WithNow injects the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithKeyPackageBatchCap overrides the per-publish batch cap.
func WithKeyPackageBatchCap(cap int) Option {
	return func(s *Service) { s.keyPackageBatchCap = cap }
}

// WithFederation makes the messaging path enqueue a delivery task for every
// stored application message, to be pushed out-of-band by the worker.
func WithFederation(enabled bool) Option {
	return func(s *Service) { s.federate = enabled }
}

type Service struct {
	store              *store.Store
	now                func() time.Time
	keyPackageBatchCap int
	federate           bool
}

func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:              st,
		now:                time.Now,
		keyPackageBatchCap: DefaultKeyPackageBatchCap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// senderDevice resolves the device header against the claimed user identity.
// Unknown or revoked devices, and devices owned by someone else, all surface
// as NotFound so the response does not leak device ownership.
func (s *Service) senderDevice(ctx context.Context, tx *store.Store, userID, deviceID uuid.UUID) (*domain.Device, error) {
	device, err := tx.Devices().GetActive(ctx, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, domainErrf(domain.ErrNotFound, "unknown sender device")
		}
		return nil, err
	}
	if device.UserID != userID {
		return nil, domainErrf(domain.ErrNotFound, "unknown sender device")
	}
	return device, nil
}

// resolveDevices picks the device set an inbox call operates on: the device
// from the header, or every active device of the user.
func (s *Service) resolveDevices(ctx context.Context, userID uuid.UUID, deviceID *uuid.UUID) ([]uuid.UUID, error) {
	if deviceID != nil {
		device, err := s.store.Devices().GetActive(ctx, *deviceID)
		if err != nil || device.UserID != userID {
			return nil, domainErrf(domain.ErrNotFound, "no devices")
		}
		return []uuid.UUID{device.ID}, nil
	}
	devices, err := s.store.Devices().ActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, domainErrf(domain.ErrNotFound, "no devices")
	}
	ids := make([]uuid.UUID, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, domainErrf(domain.ErrValidation, "invalid %s", field)
	}
	return id, nil
}

func parseUUIDs(raw []string, field string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	seen := make(map[uuid.UUID]struct{}, len(raw))
	for _, r := range raw {
		id, err := parseUUID(r, field)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
