package simulations

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/testutil"
)

var simColumns = []string{
	"id", "user_id", "name", "commodity", "area_hectares", "expected_yield", "yield_stddev",
	"expected_price", "price_stddev", "cost_per_hectare", "iterations", "status",
}

func newTestRunner(t *testing.T) (*MonteCarloRunner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := testutil.NewMockDB(t)
	r := NewMonteCarloRunner(NewRepository(db, testutil.NewLogger()), testutil.NewLogger())
	r.now = func() time.Time { return t0 }
	r.seed = func() uint64 { return 99 }
	return r, mock
}

func TestMonteCarloRunner_Run(t *testing.T) {
	r, mock := newTestRunner(t)

	mock.ExpectQuery(`SELECT .* FROM "simulations" AS "s" WHERE \(id = 's1'\) AND \(user_id = 'ana'\)`).
		WillReturnRows(sqlmock.NewRows(simColumns).
			AddRow("s1", "ana", "Safra 26/27", "SOJA", 100.0, 60.0, 5.0, 130.0, 10.0, 5000.0, 2000, "PENDING"))
	mock.ExpectExec(`UPDATE "simulations" AS "s" SET status = 'RUNNING'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "simulations" AS "s" SET status = 'COMPLETED', result = '\{.*\}', executed_at = '2026-03-02`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := r.Run(context.Background(), "ana", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SimulationID)
	assert.Equal(t, 2000, res.Statistics.Iterations)
	assert.Equal(t, "worst", res.WorstScenario.Name)
	assert.Equal(t, "best", res.BestScenario.Name)
	assert.Equal(t, t0, res.ExecutedAt)
}

func TestMonteCarloRunner_InvalidModelMarksFailed(t *testing.T) {
	r, mock := newTestRunner(t)

	mock.ExpectQuery(`FROM "simulations"`).
		WillReturnRows(sqlmock.NewRows(simColumns).
			AddRow("s2", "ana", "Vazia", "MILHO", 0.0, 60.0, 5.0, 65.0, 5.0, 3000.0, 1000, "PENDING"))
	mock.ExpectExec(`SET status = 'RUNNING'`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'FAILED'`).WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := r.Run(context.Background(), "ana", "s2")
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestMonteCarloRunner_NotFound(t *testing.T) {
	r, mock := newTestRunner(t)
	mock.ExpectQuery(`FROM "simulations"`).WillReturnRows(sqlmock.NewRows(simColumns))

	_, err := r.Run(context.Background(), "ana", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
