package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	cipherchat_errors "cipherchat/pkg/errors"
)

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapDBError normalizes gorm/pg errors to the package sentinels.
func mapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return cipherchat_errors.ErrNotFound
	case isUniqueViolation(err):
		return cipherchat_errors.ErrAlreadyExists
	default:
		return err
	}
}
