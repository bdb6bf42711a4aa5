package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for job store operations. Check with errors.Is.
var (
	// ErrJobAlreadyExists indicates the unique (production, entity) index
	// rejected a create; another run registered the job first.
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrTransactionConflict indicates concurrent writes touched the same
	// record. Callers should retry.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// wrapQueryError maps known SurrealDB query errors onto the sentinels and
// leaves everything else untouched.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "already exists") || strings.Contains(msg, "already contains") {
			return fmt.Errorf("%w: %s", ErrJobAlreadyExists, msg)
		}
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
	}

	return err
}
