package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cipherchat/internal/devices"
	"cipherchat/internal/domain/user"
	"cipherchat/internal/repository"
	cipherchat_errors "cipherchat/pkg/errors"
	"cipherchat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeviceService tracks device registrations and the trust flag that
// gates second-factor challenges. Signature verification of the device
// token is delegated to the verifier; this service never checks
// signatures itself.
type DeviceService struct {
	repo     repository.DeviceRepository
	verifier devices.Verifier
	log      *logger.Logger
}

func NewDeviceService(repo repository.DeviceRepository, verifier devices.Verifier, log *logger.Logger) *DeviceService {
	return &DeviceService{repo: repo, verifier: verifier, log: log}
}

// DeviceContext carries request metadata recorded at registration.
type DeviceContext struct {
	SourceAddr string
	UserAgent  string
}

// IdentifyDevice resolves a fingerprint to a known device. The false
// return means unknown, which is not an error.
func (s *DeviceService) IdentifyDevice(ctx context.Context, fingerprint string) (user.Device, bool, error) {
	d, err := s.repo.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, cipherchat_errors.ErrNotFound) {
			return user.Device{}, false, nil
		}
		return user.Device{}, false, err
	}
	return d, true, nil
}

// ResolveFingerprint verifies the client-presented device token and
// returns the stable fingerprint derived from its public key.
func (s *DeviceService) ResolveFingerprint(deviceToken string) (string, error) {
	return s.verifier.Verify(deviceToken)
}

// RegisterDevice verifies the device token and ensures a device row
// exists for (userID, fingerprint). New devices start untrusted. A
// fingerprint already bound to a different user is rejected: the
// fingerprint is the identity of a client installation.
func (s *DeviceService) RegisterDevice(ctx context.Context, userID uuid.UUID, deviceToken string, dctx DeviceContext) (user.Device, error) {
	fingerprint, err := s.verifier.Verify(deviceToken)
	if err != nil {
		return user.Device{}, err
	}

	existing, found, err := s.IdentifyDevice(ctx, fingerprint)
	if err != nil {
		return user.Device{}, err
	}
	if found {
		if existing.UserID != userID {
			return user.Device{}, cipherchat_errors.ErrConflict
		}
		_ = s.repo.TouchLastSeen(ctx, fingerprint)
		return existing, nil
	}

	d := &user.Device{
		ID:           uuid.New(),
		UserID:       userID,
		Fingerprint:  fingerprint,
		Trusted:      false,
		RegisteredIP: dctx.SourceAddr,
		UserAgent:    dctx.UserAgent,
		RegisteredAt: time.Now(),
		LastSeenAt:   sql.NullTime{Time: time.Now(), Valid: true},
	}
	if err := s.repo.Create(ctx, d); err != nil {
		if errors.Is(err, cipherchat_errors.ErrAlreadyExists) {
			// Lost a registration race for the same fingerprint.
			existing, found, ferr := s.IdentifyDevice(ctx, fingerprint)
			if ferr == nil && found && existing.UserID == userID {
				return existing, nil
			}
			return user.Device{}, cipherchat_errors.ErrConflict
		}
		return user.Device{}, err
	}

	s.log.Info(ctx, "device registered",
		zap.String("user_id", userID.String()),
		zap.String("fingerprint", fingerprint),
		zap.String("source_addr", dctx.SourceAddr))
	return *d, nil
}

// MarkTrusted flips the trust flag. Called only after the second
// factor has been verified.
func (s *DeviceService) MarkTrusted(ctx context.Context, userID uuid.UUID, fingerprint string) error {
	if err := s.repo.MarkTrusted(ctx, userID, fingerprint); err != nil {
		return err
	}
	s.log.Info(ctx, "device trusted",
		zap.String("user_id", userID.String()),
		zap.String("fingerprint", fingerprint))
	return nil
}

// RequiresSecondFactor reports whether this login must be challenged:
// the user has 2FA enabled and the device has not yet passed it.
func (s *DeviceService) RequiresSecondFactor(u user.User, d user.Device) bool {
	return u.TwoFactorEnabled && !d.Trusted
}

// Devices lists a user's registered devices.
func (s *DeviceService) Devices(ctx context.Context, userID uuid.UUID) ([]user.Device, error) {
	return s.repo.GetUserDevices(ctx, userID)
}
