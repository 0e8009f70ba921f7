package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-monitor/internal/monitor"
)

func TestMalformedAlertIDIsNotFound(t *testing.T) {
	store := NewStore(nil)

	_, err := store.GetAlert(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, monitor.ErrNotFound)

	err = store.MarkDispatched(context.Background(), "42", time.Now())
	assert.ErrorIs(t, err, monitor.ErrNotFound)

	// well-formed ids reach the pool
	_, err = store.GetAlert(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestUniqueViolationDetection(t *testing.T) {
	dup := fmt.Errorf("insert alert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "monitor_alerts_one_active"})
	assert.True(t, isUniqueViolation(dup))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23514"}))
	assert.False(t, isUniqueViolation(errors.New("connection reset")))
	assert.False(t, isUniqueViolation(nil))
}

type duplicateQuerier struct {
	querier
}

func (duplicateQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, &pgconn.PgError{Code: uniqueViolation}
}

func TestInsertAlertMapsDuplicateActiveToConflict(t *testing.T) {
	alert := newAlert("BTC/USDT", monitor.SideBuy, "100", base)

	err := insertAlert(context.Background(), duplicateQuerier{}, alert)
	require.Error(t, err)
	assert.ErrorIs(t, err, monitor.ErrConcurrencyConflict)
}
