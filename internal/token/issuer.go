// Package token issues and verifies the bearer tokens that bind a
// user to a device fingerprint.
package token

import (
	"context"
	"errors"
	"time"

	cipherchat_errors "cipherchat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds. Access and refresh tokens are signed with independent
// secrets so one leaking never compromises the other. The two-factor
// kind is a short-lived challenge handle issued between password check
// and TOTP verification.
const (
	KindAccess    = "access"
	KindRefresh   = "refresh"
	KindTwoFactor = "twofactor"
)

type Claims struct {
	UserID      string `json:"uid"`
	Fingerprint string `json:"fpr"`
	Kind        string `json:"knd"`
	// Cutoff is the user's sign-out-everywhere instant observed when
	// the token was signed. Refresh tokens carrying an older value
	// than the current one are dead.
	Cutoff int64 `json:"cut,omitempty"`
	jwt.RegisteredClaims
}

// Pair is an access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  int64
	RefreshExpiresIn int64
}

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	TwoFactorTTL  time.Duration
}

type Issuer struct {
	cfg     Config
	revoked RevocationList
	now     func() time.Time
}

func NewIssuer(cfg Config, revoked RevocationList) *Issuer {
	if cfg.TwoFactorTTL <= 0 {
		cfg.TwoFactorTTL = 5 * time.Minute
	}
	return &Issuer{cfg: cfg, revoked: revoked, now: time.Now}
}

func (i *Issuer) secretFor(kind string) []byte {
	if kind == KindRefresh {
		return i.cfg.RefreshSecret
	}
	return i.cfg.AccessSecret
}

func (i *Issuer) ttlFor(kind string) time.Duration {
	switch kind {
	case KindRefresh:
		return i.cfg.RefreshTTL
	case KindTwoFactor:
		return i.cfg.TwoFactorTTL
	default:
		return i.cfg.AccessTTL
	}
}

func (i *Issuer) sign(ctx context.Context, userID uuid.UUID, fingerprint, kind string) (string, error) {
	now := i.now()
	claims := Claims{
		UserID:      userID.String(),
		Fingerprint: fingerprint,
		Kind:        kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttlFor(kind))),
			ID:        uuid.NewString(),
		},
	}
	if kind == KindRefresh {
		cutoff, err := i.revoked.UserCutoff(ctx, claims.UserID)
		if err != nil {
			return "", err
		}
		claims.Cutoff = cutoff
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secretFor(kind))
}

// IssuePair issues a fresh access/refresh pair bound to the device
// fingerprint.
func (i *Issuer) IssuePair(ctx context.Context, userID uuid.UUID, fingerprint string) (Pair, error) {
	access, err := i.sign(ctx, userID, fingerprint, KindAccess)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.sign(ctx, userID, fingerprint, KindRefresh)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresIn:  int64(i.cfg.AccessTTL.Seconds()),
		RefreshExpiresIn: int64(i.cfg.RefreshTTL.Seconds()),
	}, nil
}

// IssueTwoFactorChallenge issues the short-lived token a client
// presents back together with its TOTP code.
func (i *Issuer) IssueTwoFactorChallenge(ctx context.Context, userID uuid.UUID, fingerprint string) (string, error) {
	return i.sign(ctx, userID, fingerprint, KindTwoFactor)
}

// Verify checks signature, expiry and kind. Revocation is only checked
// for refresh tokens; access tokens are too short-lived to be worth a
// store round-trip on every request.
func (i *Issuer) Verify(ctx context.Context, tokenString, expectedKind string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, cipherchat_errors.ErrTokenInvalid
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, cipherchat_errors.ErrTokenInvalid
		}
		return i.secretFor(expectedKind), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, cipherchat_errors.ErrExpired
		}
		return Claims{}, cipherchat_errors.ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Kind != expectedKind {
		return Claims{}, cipherchat_errors.ErrTokenInvalid
	}

	if expectedKind == KindRefresh {
		revoked, err := i.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Claims{}, err
		}
		if revoked {
			return Claims{}, cipherchat_errors.ErrTokenRevoked
		}
		cutoff, err := i.revoked.UserCutoff(ctx, claims.UserID)
		if err != nil {
			return Claims{}, err
		}
		if cutoff > claims.Cutoff {
			return Claims{}, cipherchat_errors.ErrTokenRevoked
		}
	}
	return *claims, nil
}

// Rotate exchanges a refresh token for a fresh pair. The presented
// token is revoked before the new pair is returned, so a replay of it
// fails with ErrTokenRevoked.
func (i *Issuer) Rotate(ctx context.Context, refreshToken, fingerprint string) (Pair, error) {
	claims, err := i.Verify(ctx, refreshToken, KindRefresh)
	if err != nil {
		return Pair{}, err
	}
	if claims.Fingerprint != fingerprint {
		return Pair{}, cipherchat_errors.ErrFingerprintMismatch
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Pair{}, cipherchat_errors.ErrTokenInvalid
	}

	if err := i.revokeClaims(ctx, claims); err != nil {
		return Pair{}, err
	}
	return i.IssuePair(ctx, userID, fingerprint)
}

// RevokeAllForUser invalidates every refresh token issued to the user
// so far. Pairs issued after the call are unaffected, so it composes
// with an immediate re-login.
func (i *Issuer) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	return i.revoked.RevokeUser(ctx, userID.String(), i.cfg.RefreshTTL)
}

// Revoke adds the refresh token to the revocation set.
func (i *Issuer) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := i.Verify(ctx, refreshToken, KindRefresh)
	if err != nil {
		if errors.Is(err, cipherchat_errors.ErrTokenRevoked) {
			return nil
		}
		return err
	}
	return i.revokeClaims(ctx, claims)
}

func (i *Issuer) revokeClaims(ctx context.Context, claims Claims) error {
	until := i.cfg.RefreshTTL
	if claims.ExpiresAt != nil {
		until = time.Until(claims.ExpiresAt.Time)
	}
	if until <= 0 {
		return nil
	}
	return i.revoked.Revoke(ctx, claims.ID, until)
}
