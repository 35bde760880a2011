package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"agentboard/internal/storage"
)

func TestStorageErr(t *testing.T) {
	assert.ErrorIs(t, storageErr("get capture", pgx.ErrNoRows), storage.ErrNotFound)
	assert.ErrorIs(t, storageErr("get capture", fmt.Errorf("scan: %w", pgx.ErrNoRows)), storage.ErrNotFound)

	dup := &pgconn.PgError{Code: pgErrUniqueViolation}
	assert.ErrorIs(t, storageErr("insert capture", dup), storage.ErrDuplicateKey)

	other := errors.New("connection reset")
	err := storageErr("insert capture", other)
	assert.ErrorIs(t, err, other)
	assert.EqualError(t, err, "insert capture: connection reset")

	fk := &pgconn.PgError{Code: "23503"}
	assert.NotErrorIs(t, storageErr("insert capture agent", fk), storage.ErrDuplicateKey)
}
