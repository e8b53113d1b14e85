package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

const (
	pgNotNullViolation   = "23502"
	pgCheckViolation     = "23514"
	pgDataExceptionClass = "22"
)

// translateError отделяет ошибки данных (повтор не поможет) от недоступности хранилища.
// Всё, что не является нарушением ограничений или ошибкой данных, считается временным.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgCheckViolation,
			pgErr.Code == pgNotNullViolation,
			strings.HasPrefix(pgErr.Code, pgDataExceptionClass):
			return fmt.Errorf("%s: %w: %w", op, domain.ErrInvalidOrder, err)
		}
	}

	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
