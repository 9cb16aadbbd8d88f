package schema

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	ErrUniqueViolation     = errors.New("unique constraint violated")
	ErrForeignKeyViolation = errors.New("foreign key constraint violated")
	ErrCheckViolation      = errors.New("check constraint violated")
)

// SQLSTATE codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// TranslateDbError maps constraint failures reported by postgres, sqlite or gorm's own
// translator onto the Err*Violation sentinels. Any other error is returned as is.
func TranslateDbError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrUniqueViolation
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrForeignKeyViolation
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return ErrCheckViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrUniqueViolation
		case pgForeignKeyViolation:
			return ErrForeignKeyViolation
		case pgCheckViolation:
			return ErrCheckViolation
		}
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrUniqueViolation
		// ON DELETE RESTRICT is enforced through a trigger and reported as such.
		case sqlite3.ErrConstraintForeignKey, sqlite3.ErrConstraintTrigger:
			return ErrForeignKeyViolation
		case sqlite3.ErrConstraintCheck:
			return ErrCheckViolation
		}
	}

	return err
}

func IsConstraintViolation(err error) bool {
	err = TranslateDbError(err)
	return errors.Is(err, ErrUniqueViolation) || errors.Is(err, ErrForeignKeyViolation) || errors.Is(err, ErrCheckViolation)
}
