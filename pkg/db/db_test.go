package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestIsNotFound(t *testing.T) {
	require.True(t, IsNotFound(pgx.ErrNoRows))
	require.True(t, IsNotFound(fmt.Errorf("get: %w", gorm.ErrRecordNotFound)))
	require.False(t, IsNotFound(errors.New("boom")))
}

func TestNilPool(t *testing.T) {
	require.Error(t, Migrate(context.Background(), nil))
	_, err := ORM(nil)
	require.Error(t, err)
}
