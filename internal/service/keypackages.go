package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"mlsrelay/internal/domain"
	"mlsrelay/internal/dto"
	"mlsrelay/internal/store"
)

// PublishKeyPackages stores a batch of pre-published credential bundles for
// the caller's device. Idempotent by content hash; oversized batches are
// rejected.
func (s *Service) PublishKeyPackages(ctx context.Context, userID, deviceID uuid.UUID, req dto.PublishKeyPackagesRequest) (dto.PublishKeyPackagesResponse, error) {
	if len(req.KeyPackages) == 0 {
		return dto.PublishKeyPackagesResponse{}, domainErrf(domain.ErrValidation, "no key packages")
	}
	if len(req.KeyPackages) > s.keyPackageBatchCap {
		return dto.PublishKeyPackagesResponse{}, domainErrf(domain.ErrValidation, "batch exceeds %d key packages", s.keyPackageBatchCap)
	}

	now := s.now().UTC()
	packages := make([]domain.KeyPackage, 0, len(req.KeyPackages))
	for _, kp := range req.KeyPackages {
		if len(kp.Data) == 0 || kp.Hash == "" {
			return dto.PublishKeyPackagesResponse{}, domainErrf(domain.ErrValidation, "key package missing data or hash")
		}
		notBefore := kp.NotBefore
		if notBefore.IsZero() {
			notBefore = now
		}
		notAfter := kp.NotAfter
		if notAfter.IsZero() {
			notAfter = notBefore.Add(DefaultKeyPackageValidity)
		}
		if !notAfter.After(notBefore) {
			return dto.PublishKeyPackagesResponse{}, domainErrf(domain.ErrValidation, "key package validity window is empty")
		}
		packages = append(packages, domain.KeyPackage{
			ID:         uuid.New(),
			DeviceID:   deviceID,
			Hash:       kp.Hash,
			Data:       kp.Data,
			NotBefore:  notBefore,
			NotAfter:   notAfter,
			LastResort: kp.LastResort,
		})
	}

	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Users().Ensure(ctx, userID); err != nil {
			return err
		}
		if err := tx.Devices().Upsert(ctx, domain.Device{ID: deviceID, UserID: userID}); err != nil {
			return err
		}
		return tx.KeyPackages().AddBatch(ctx, packages)
	})
	if err != nil {
		return dto.PublishKeyPackagesResponse{}, err
	}

	return dto.PublishKeyPackagesResponse{
		DeviceID: deviceID.String(),
		Stored:   len(packages),
	}, nil
}

// FetchKeyPackages hands out key packages for the target user: one package
// from any of the target's devices, one from a specific device, or one per
// active device when all is set. Single-use packages are consumed at most
// once; an exhausted pool falls back to a last-resort package when one
// exists.
func (s *Service) FetchKeyPackages(ctx context.Context, targetUserID uuid.UUID, deviceID *uuid.UUID, all bool) (dto.FetchKeyPackagesResponse, error) {
	now := s.now().UTC()

	deviceIDs, owners, err := s.targetDevices(ctx, targetUserID, deviceID)
	if err != nil {
		return dto.FetchKeyPackagesResponse{}, err
	}

	var fetched []dto.FetchedKeyPackage
	appendPackage := func(kp *domain.KeyPackage) {
		fetched = append(fetched, dto.FetchedKeyPackage{
			ID:         kp.ID.String(),
			UserID:     owners[kp.DeviceID].String(),
			DeviceID:   kp.DeviceID.String(),
			Data:       kp.Data,
			Hash:       kp.Hash,
			LastResort: kp.LastResort,
		})
	}

	if all {
		for _, id := range deviceIDs {
			kp, err := s.claimOne(ctx, []uuid.UUID{id}, now)
			if err != nil {
				return dto.FetchKeyPackagesResponse{}, err
			}
			if kp != nil {
				appendPackage(kp)
			}
		}
	} else {
		kp, err := s.claimOne(ctx, deviceIDs, now)
		if err != nil {
			return dto.FetchKeyPackagesResponse{}, err
		}
		if kp != nil {
			appendPackage(kp)
		}
	}

	if len(fetched) == 0 {
		return dto.FetchKeyPackagesResponse{}, domainErrf(domain.ErrNotFound, "no key packages available")
	}
	return dto.FetchKeyPackagesResponse{KeyPackages: fetched}, nil
}

// claimOne consumes a single-use package, falling back to a reusable
// last-resort one.
func (s *Service) claimOne(ctx context.Context, deviceIDs []uuid.UUID, now time.Time) (*domain.KeyPackage, error) {
	kp, err := s.store.KeyPackages().ConsumeNext(ctx, deviceIDs, now)
	if err != nil {
		return nil, err
	}
	if kp != nil {
		return kp, nil
	}
	return s.store.KeyPackages().LastResort(ctx, deviceIDs, now)
}

// CountKeyPackages reports the available pool size for replenishment
// monitoring; it never consumes.
func (s *Service) CountKeyPackages(ctx context.Context, userID uuid.UUID, deviceID *uuid.UUID) (dto.KeyPackageCountResponse, error) {
	now := s.now().UTC()
	deviceIDs, _, err := s.targetDevices(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return dto.KeyPackageCountResponse{ByDevice: map[string]int64{}}, nil
		}
		return dto.KeyPackageCountResponse{}, err
	}
	counts, err := s.store.KeyPackages().CountAvailable(ctx, deviceIDs, now)
	if err != nil {
		return dto.KeyPackageCountResponse{}, err
	}
	resp := dto.KeyPackageCountResponse{ByDevice: make(map[string]int64, len(deviceIDs))}
	for _, id := range deviceIDs {
		resp.ByDevice[id.String()] = counts[id]
		resp.Total += counts[id]
	}
	return resp, nil
}

// targetDevices resolves the device set a pool operation targets and the
// owning user of each device.
func (s *Service) targetDevices(ctx context.Context, userID uuid.UUID, deviceID *uuid.UUID) ([]uuid.UUID, map[uuid.UUID]uuid.UUID, error) {
	owners := make(map[uuid.UUID]uuid.UUID)
	if deviceID != nil {
		device, err := s.store.Devices().GetActive(ctx, *deviceID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, nil, domainErrf(domain.ErrNotFound, "unknown device")
			}
			return nil, nil, err
		}
		if device.UserID != userID {
			return nil, nil, domainErrf(domain.ErrNotFound, "unknown device")
		}
		owners[device.ID] = device.UserID
		return []uuid.UUID{device.ID}, owners, nil
	}
	devices, err := s.store.Devices().ActiveByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if len(devices) == 0 {
		return nil, nil, domainErrf(domain.ErrNotFound, "no devices")
	}
	ids := make([]uuid.UUID, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
		owners[d.ID] = d.UserID
	}
	return ids, owners, nil
}
