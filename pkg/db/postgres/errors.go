package postgres

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrDuplicateCode     = "23505"
	ErrCheckViolation    = "23514"
	ErrSerializationCode = "40001"
)

func IsDuplicateKeyErr(err error) bool {
	return hasCode(err, ErrDuplicateCode)
}

func IsCheckViolationErr(err error) bool {
	return hasCode(err, ErrCheckViolation)
}

func IsSerializationErr(err error) bool {
	return hasCode(err, ErrSerializationCode)
}

func hasCode(err error, code string) bool {
	var pgErr *pq.Error
	if err != nil {
		if errors.As(err, &pgErr) {
			return pgErr.Code == pq.ErrorCode(code)
		}
	}
	return false
}
