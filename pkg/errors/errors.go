package cipherchat_errors

import (
	"errors"
)

// Common errors
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrAlreadyExists      = errors.New("already exists")
	ErrExpired            = errors.New("expired")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Domain errors
var (
	ErrInvalidKeyMaterial   = errors.New("invalid key material")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrTokenRevoked         = errors.New("token revoked")
	ErrFingerprintMismatch  = errors.New("device fingerprint mismatch")
	ErrSecondFactorRequired = errors.New("second factor required")
	ErrSecondFactorInvalid  = errors.New("second factor code invalid")
	ErrNotAMember           = errors.New("not an active chat member")
	ErrEditWindowExpired    = errors.New("edit window expired")
)
