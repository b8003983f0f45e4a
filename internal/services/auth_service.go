package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"cipherchat/internal/domain/user"
	"cipherchat/internal/repository"
	"cipherchat/internal/session"
	"cipherchat/internal/token"
	cipherchat_errors "cipherchat/pkg/errors"
	"cipherchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthService orchestrates registration, login, the two-factor
// challenge flow and token lifecycle. It composes the device, key,
// token and session components but owns none of their state.
type AuthService struct {
	users    repository.UserRepository
	devices  *DeviceService
	keys     *KeyService
	issuer   *token.Issuer
	sessions session.Registry
	log      *logger.Logger

	totpIssuer string
}

func NewAuthService(users repository.UserRepository, devices *DeviceService, keys *KeyService, issuer *token.Issuer, sessions session.Registry, log *logger.Logger, totpIssuer string) *AuthService {
	if totpIssuer == "" {
		totpIssuer = "cipherchat"
	}
	return &AuthService{
		users:      users,
		devices:    devices,
		keys:       keys,
		issuer:     issuer,
		sessions:   sessions,
		log:        log,
		totpIssuer: totpIssuer,
	}
}

type RegisterInput struct {
	Username       string
	Email          string
	Password       string
	DeviceToken    string
	IdentityKey    []byte
	SignedPrekey   SignedPrekeyInput
	OneTimePrekeys []OneTimePrekeyInput
	Device         DeviceContext
}

// LoginResult is the outcome of Login or VerifyTwoFactor. Exactly one
// of Tokens and TwoFactorChallenge is set.
type LoginResult struct {
	User               user.User
	Device             user.Device
	Tokens             token.Pair
	TwoFactorChallenge string
}

// Register creates the account, stores its key bundle, registers the
// first device and signs the user in on it.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (LoginResult, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || len(in.Password) < 8 {
		return LoginResult{}, cipherchat_errors.ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return LoginResult{}, err
	}

	u := &user.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        toNullString(strings.TrimSpace(in.Email)),
		PasswordHash: string(hash),
		Role:         user.RoleUser,
		Status:       user.StatusActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, cipherchat_errors.ErrAlreadyExists) {
			return LoginResult{}, cipherchat_errors.ErrAlreadyExists
		}
		return LoginResult{}, err
	}

	if err := s.keys.RegisterIdentity(ctx, u.ID, in.IdentityKey, in.SignedPrekey, in.OneTimePrekeys); err != nil {
		return LoginResult{}, err
	}

	d, err := s.devices.RegisterDevice(ctx, u.ID, in.DeviceToken, in.Device)
	if err != nil {
		return LoginResult{}, err
	}

	pair, err := s.signIn(ctx, *u, d, in.Device.SourceAddr)
	if err != nil {
		return LoginResult{}, err
	}

	s.log.Audit(ctx, "register", username, true,
		zap.String("user_id", u.ID.String()))
	return LoginResult{User: *u, Device: d, Tokens: pair}, nil
}

// Login authenticates with password. When the user has 2FA enabled and
// the device is not yet trusted, no tokens are issued; the caller gets
// a short-lived challenge to present back with a TOTP code. Failures
// never disclose which check failed.
func (s *AuthService) Login(ctx context.Context, username, password, deviceToken string, dctx DeviceContext) (LoginResult, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, cipherchat_errors.ErrNotFound) {
			s.audit(ctx, "login", username, false, "unknown user")
			return LoginResult{}, cipherchat_errors.ErrUnauthorized
		}
		return LoginResult{}, err
	}
	if !u.IsActive() {
		s.audit(ctx, "login", username, false, "account disabled")
		return LoginResult{}, cipherchat_errors.ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.audit(ctx, "login", username, false, "bad password")
		return LoginResult{}, cipherchat_errors.ErrUnauthorized
	}

	d, err := s.devices.RegisterDevice(ctx, u.ID, deviceToken, dctx)
	if err != nil {
		s.audit(ctx, "login", username, false, "device rejected")
		return LoginResult{}, err
	}

	if s.devices.RequiresSecondFactor(u, d) {
		challenge, err := s.issuer.IssueTwoFactorChallenge(ctx, u.ID, d.Fingerprint)
		if err != nil {
			return LoginResult{}, err
		}
		s.audit(ctx, "login", username, true, "second factor required")
		return LoginResult{User: u, Device: d, TwoFactorChallenge: challenge}, nil
	}

	pair, err := s.signIn(ctx, u, d, dctx.SourceAddr)
	if err != nil {
		return LoginResult{}, err
	}
	s.audit(ctx, "login", username, true, "ok")
	return LoginResult{User: u, Device: d, Tokens: pair}, nil
}

// VerifyTwoFactor completes a challenged login. A valid TOTP code
// marks the device trusted, so it skips the challenge next time.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, challengeToken, code string, dctx DeviceContext) (LoginResult, error) {
	claims, err := s.issuer.Verify(ctx, challengeToken, token.KindTwoFactor)
	if err != nil {
		return LoginResult{}, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return LoginResult{}, cipherchat_errors.ErrTokenInvalid
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return LoginResult{}, err
	}
	if !u.IsActive() || !u.TwoFactorEnabled || !u.TwoFactorSecret.Valid {
		return LoginResult{}, cipherchat_errors.ErrUnauthorized
	}

	if !totp.Validate(code, u.TwoFactorSecret.String) {
		s.audit(ctx, "verify_2fa", u.Username, false, "bad code")
		return LoginResult{}, cipherchat_errors.ErrSecondFactorInvalid
	}

	if err := s.devices.MarkTrusted(ctx, u.ID, claims.Fingerprint); err != nil {
		return LoginResult{}, err
	}

	d, found, err := s.devices.IdentifyDevice(ctx, claims.Fingerprint)
	if err != nil {
		return LoginResult{}, err
	}
	if !found {
		return LoginResult{}, cipherchat_errors.ErrNotFound
	}

	pair, err := s.signIn(ctx, u, d, dctx.SourceAddr)
	if err != nil {
		return LoginResult{}, err
	}
	s.audit(ctx, "verify_2fa", u.Username, true, "ok")
	return LoginResult{User: u, Device: d, Tokens: pair}, nil
}

// EnableTwoFactor generates a fresh TOTP secret and stores it
// unconfirmed. 2FA only starts gating logins after ConfirmTwoFactor.
func (s *AuthService) EnableTwoFactor(ctx context.Context, userID uuid.UUID) (secret, url string, err error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if u.TwoFactorEnabled {
		return "", "", cipherchat_errors.ErrConflict
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.totpIssuer,
		AccountName: u.Username,
	})
	if err != nil {
		return "", "", err
	}
	if err := s.users.SetTwoFactor(ctx, userID, key.Secret(), false); err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ConfirmTwoFactor turns the pending secret on after the user proves
// they can produce a valid code.
func (s *AuthService) ConfirmTwoFactor(ctx context.Context, userID uuid.UUID, code string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.TwoFactorEnabled || !u.TwoFactorSecret.Valid {
		return cipherchat_errors.ErrConflict
	}
	if !totp.Validate(code, u.TwoFactorSecret.String) {
		return cipherchat_errors.ErrSecondFactorInvalid
	}
	if err := s.users.SetTwoFactor(ctx, userID, u.TwoFactorSecret.String, true); err != nil {
		return err
	}
	s.audit(ctx, "enable_2fa", u.Username, true, "confirmed")
	return nil
}

// DisableTwoFactor turns 2FA off after a final code check.
func (s *AuthService) DisableTwoFactor(ctx context.Context, userID uuid.UUID, code string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.TwoFactorEnabled || !u.TwoFactorSecret.Valid {
		return cipherchat_errors.ErrConflict
	}
	if !totp.Validate(code, u.TwoFactorSecret.String) {
		return cipherchat_errors.ErrSecondFactorInvalid
	}
	if err := s.users.SetTwoFactor(ctx, userID, "", false); err != nil {
		return err
	}
	s.audit(ctx, "disable_2fa", u.Username, true, "ok")
	return nil
}

// Refresh rotates a refresh token. The presented token must carry the
// fingerprint of the device presenting it; rotation revokes it, so a
// replayed token fails.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, deviceToken, sourceAddr string) (token.Pair, error) {
	fingerprint, err := s.devices.ResolveFingerprint(deviceToken)
	if err != nil {
		return token.Pair{}, err
	}

	pair, err := s.issuer.Rotate(ctx, refreshToken, fingerprint)
	if err != nil {
		return token.Pair{}, err
	}

	claims, err := s.issuer.Verify(ctx, pair.AccessToken, token.KindAccess)
	if err != nil {
		return token.Pair{}, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return token.Pair{}, cipherchat_errors.ErrTokenInvalid
	}

	if _, err := s.sessions.Touch(ctx, session.Key{
		UserID:      userID,
		Fingerprint: fingerprint,
		SourceAddr:  sourceAddr,
	}); err != nil {
		s.log.Warn(ctx, "session touch failed on refresh",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
	return pair, nil
}

// Logout revokes the refresh token and drops the session.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID, refreshToken, fingerprint, sourceAddr string) error {
	if err := s.issuer.Revoke(ctx, refreshToken); err != nil &&
		!errors.Is(err, cipherchat_errors.ErrTokenInvalid) &&
		!errors.Is(err, cipherchat_errors.ErrExpired) {
		return err
	}
	return s.sessions.RevokeOne(ctx, session.Key{
		UserID:      userID,
		Fingerprint: fingerprint,
		SourceAddr:  sourceAddr,
	})
}

// LogoutAll drops every session of the user and kills every refresh
// token issued so far, so no device can mint new access tokens.
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	if err := s.issuer.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}
	s.log.Info(ctx, "signed out everywhere", zap.String("user_id", userID.String()))
	return nil
}

// ChangePassword verifies the current password, stores the new hash
// and signs the user out everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if len(next) < 8 {
		return cipherchat_errors.ErrInvalidInput
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		s.audit(ctx, "change_password", u.Username, false, "bad password")
		return cipherchat_errors.ErrUnauthorized
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	u.UpdatedAt = time.Now()
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}

	if err := s.issuer.RevokeAllForUser(ctx, userID); err != nil {
		s.log.Error(ctx, "refresh revocation after password change failed",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		s.log.Error(ctx, "session revocation after password change failed",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
	s.audit(ctx, "change_password", u.Username, true, "ok")
	return nil
}

// SetUserStatus soft-disables or re-enables an account. Admin only.
func (s *AuthService) SetUserStatus(ctx context.Context, actorID, targetID uuid.UUID, status string) error {
	if status != user.StatusActive && status != user.StatusDisabled {
		return cipherchat_errors.ErrInvalidInput
	}
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.Role != user.RoleAdmin {
		return cipherchat_errors.ErrForbidden
	}
	if err := s.users.SetStatus(ctx, targetID, status); err != nil {
		return err
	}
	if status == user.StatusDisabled {
		if err := s.issuer.RevokeAllForUser(ctx, targetID); err != nil {
			s.log.Error(ctx, "refresh revocation on disable failed",
				zap.String("user_id", targetID.String()), zap.Error(err))
		}
		if err := s.sessions.RevokeAll(ctx, targetID); err != nil {
			s.log.Error(ctx, "session revocation on disable failed",
				zap.String("user_id", targetID.String()), zap.Error(err))
		}
	}
	s.audit(ctx, "set_user_status", actor.Username, true, status)
	return nil
}

// signIn establishes the session and issues the token pair.
func (s *AuthService) signIn(ctx context.Context, u user.User, d user.Device, sourceAddr string) (token.Pair, error) {
	if _, err := s.sessions.Touch(ctx, session.Key{
		UserID:      u.ID,
		Fingerprint: d.Fingerprint,
		SourceAddr:  sourceAddr,
	}); err != nil {
		return token.Pair{}, err
	}
	return s.issuer.IssuePair(ctx, u.ID, d.Fingerprint)
}

func (s *AuthService) audit(ctx context.Context, event, callerHint string, outcome bool, detail string) {
	s.log.Audit(ctx, event, callerHint, outcome, zap.String("detail", detail))
}
