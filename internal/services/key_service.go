package services

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"cipherchat/internal/domain/keys"
	"cipherchat/internal/repository"
	cipherchat_errors "cipherchat/pkg/errors"
	"cipherchat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// curve25519 public keys are 32 bytes; prekeys live on that curve.
const prekeyPublicSize = 32

// KeyService owns all prekey state. Nothing else in the system marks a
// prekey consumed, which is what keeps consumption exactly-once.
type KeyService struct {
	repo repository.KeyRepository
	log  *logger.Logger
}

func NewKeyService(repo repository.KeyRepository, log *logger.Logger) *KeyService {
	return &KeyService{repo: repo, log: log}
}

type SignedPrekeyInput struct {
	KeyID     uint32
	PublicKey []byte
	Signature []byte
}

type OneTimePrekeyInput struct {
	KeyID     uint32
	PublicKey []byte
}

// RegisterIdentity validates and persists a user's full key bundle in
// one transaction. Any malformed part rejects the whole upload.
func (s *KeyService) RegisterIdentity(ctx context.Context, userID uuid.UUID, identityKey []byte, spk SignedPrekeyInput, otpks []OneTimePrekeyInput) error {
	if len(identityKey) != ed25519.PublicKeySize {
		return cipherchat_errors.ErrInvalidKeyMaterial
	}
	if err := validateSignedPrekey(identityKey, spk); err != nil {
		return err
	}
	if len(otpks) == 0 {
		return cipherchat_errors.ErrInvalidKeyMaterial
	}

	now := time.Now()
	seen := make(map[uint32]bool, len(otpks))
	otpkRows := make([]keys.OneTimePreKey, 0, len(otpks))
	for _, k := range otpks {
		if k.KeyID == 0 || len(k.PublicKey) != prekeyPublicSize || seen[k.KeyID] {
			return cipherchat_errors.ErrInvalidKeyMaterial
		}
		seen[k.KeyID] = true
		otpkRows = append(otpkRows, keys.OneTimePreKey{
			ID:         uuid.New(),
			UserID:     userID,
			KeyID:      k.KeyID,
			PublicKey:  k.PublicKey,
			UploadedAt: now,
		})
	}

	ik := &keys.IdentityKey{
		ID:        uuid.New(),
		UserID:    userID,
		PublicKey: identityKey,
		CreatedAt: now,
	}
	spkRow := &keys.SignedPreKey{
		ID:        uuid.New(),
		UserID:    userID,
		KeyID:     spk.KeyID,
		PublicKey: spk.PublicKey,
		Signature: spk.Signature,
		IsActive:  true,
		CreatedAt: now,
	}

	if err := s.repo.RegisterIdentity(ctx, ik, spkRow, otpkRows); err != nil {
		return err
	}
	s.log.Info(ctx, "identity registered",
		zap.String("user_id", userID.String()),
		zap.Int("one_time_prekeys", len(otpkRows)))
	return nil
}

// ConsumePrekey builds a prekey bundle for a session initiator. An
// exhausted one-time pool is a valid state: the bundle simply omits
// the one-time prekey. The consumption itself is never retried here;
// a transient failure surfaces to the caller to avoid double-issuing.
func (s *KeyService) ConsumePrekey(ctx context.Context, userID, requesterID uuid.UUID) (keys.PrekeyBundle, error) {
	ik, err := s.repo.GetIdentityKey(ctx, userID)
	if err != nil {
		return keys.PrekeyBundle{}, err
	}
	spk, err := s.repo.GetActiveSignedPreKey(ctx, userID)
	if err != nil {
		return keys.PrekeyBundle{}, err
	}

	bundle := keys.PrekeyBundle{
		IdentityKey:  ik.PublicKey,
		SignedPreKey: spk,
	}

	otpk, err := s.repo.ConsumeOneTimePreKey(ctx, userID, requesterID)
	switch {
	case err == nil:
		bundle.OneTimePreKey = &otpk
	case errors.Is(err, cipherchat_errors.ErrNotFound):
		// Pool exhausted. The bundle is still valid without it.
	default:
		return keys.PrekeyBundle{}, err
	}

	return bundle, nil
}

// RotateSignedPrekey supersedes the current signed prekey. The new key
// must be signed by the stored identity key.
func (s *KeyService) RotateSignedPrekey(ctx context.Context, userID uuid.UUID, spk SignedPrekeyInput) error {
	ik, err := s.repo.GetIdentityKey(ctx, userID)
	if err != nil {
		return err
	}
	if err := validateSignedPrekey(ik.PublicKey, spk); err != nil {
		return err
	}

	row := &keys.SignedPreKey{
		ID:        uuid.New(),
		UserID:    userID,
		KeyID:     spk.KeyID,
		PublicKey: spk.PublicKey,
		Signature: spk.Signature,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := s.repo.RotateSignedPreKey(ctx, userID, row); err != nil {
		return err
	}
	s.log.Info(ctx, "signed prekey rotated",
		zap.String("user_id", userID.String()),
		zap.Uint32("key_id", spk.KeyID))
	return nil
}

// UploadOneTimePrekeys replenishes the pool out-of-band.
func (s *KeyService) UploadOneTimePrekeys(ctx context.Context, userID uuid.UUID, otpks []OneTimePrekeyInput) error {
	if len(otpks) == 0 {
		return cipherchat_errors.ErrInvalidKeyMaterial
	}
	if _, err := s.repo.GetIdentityKey(ctx, userID); err != nil {
		return err
	}

	now := time.Now()
	seen := make(map[uint32]bool, len(otpks))
	rows := make([]keys.OneTimePreKey, 0, len(otpks))
	for _, k := range otpks {
		if k.KeyID == 0 || len(k.PublicKey) != prekeyPublicSize || seen[k.KeyID] {
			return cipherchat_errors.ErrInvalidKeyMaterial
		}
		seen[k.KeyID] = true
		rows = append(rows, keys.OneTimePreKey{
			ID:         uuid.New(),
			UserID:     userID,
			KeyID:      k.KeyID,
			PublicKey:  k.PublicKey,
			UploadedAt: now,
		})
	}
	return s.repo.UploadOneTimePreKeys(ctx, rows)
}

// AvailablePrekeyCount reports how many one-time prekeys remain, so
// clients know when to replenish.
func (s *KeyService) AvailablePrekeyCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.AvailablePreKeyCount(ctx, userID)
}

// PruneConsumedPrekeys drops consumed rows older than the retention
// window. Run periodically.
func (s *KeyService) PruneConsumedPrekeys(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteConsumedPreKeys(ctx, time.Now().Add(-retention))
}

func validateSignedPrekey(identityKey []byte, spk SignedPrekeyInput) error {
	if spk.KeyID == 0 || len(spk.PublicKey) != prekeyPublicSize || len(spk.Signature) != ed25519.SignatureSize {
		return cipherchat_errors.ErrInvalidKeyMaterial
	}
	if len(identityKey) != ed25519.PublicKeySize {
		return cipherchat_errors.ErrInvalidKeyMaterial
	}
	if !ed25519.Verify(ed25519.PublicKey(identityKey), spk.PublicKey, spk.Signature) {
		return cipherchat_errors.ErrInvalidKeyMaterial
	}
	return nil
}
