package persistence

import (
	"database/sql/driver"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/engine"
	"github.com/talgya/housing-market/internal/stats"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(sqlx.NewDb(conn, "sqlite")), mock
}

func TestSaveTransactionsRollsBackOnError(t *testing.T) {
	db, mock := mockDB(t)
	txs := []engine.Transaction{
		{Month: 3, Market: "sale", House: 9, Quality: 2, Price: 250000, InitialPrice: 260000, Listed: 1, Buyer: 4, Seller: 5},
		{Month: 3, Market: "rental", House: 11, Quality: 0, Price: 700, InitialPrice: 700, Listed: 3, Buyer: 6},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs("run-1", 3, "sale", 9, 2, 250000.0, 260000.0, 1, 4, 5, false, false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := db.SaveTransactions("run-1", txs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "house 11")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTransactionsEmptyIsNoop(t *testing.T) {
	db, mock := mockDB(t)
	require.NoError(t, db.SaveTransactions("run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveIndicatorsBindsByName(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT OR REPLACE INTO indicators (run_id, month, population")).
		WithArgs(append([]driver.Value{"run-1", 7, 120}, anyArgs(len(indicatorColumns)-2)...)...).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.SaveIndicators("run-1", stats.CoreIndicators{Month: 7, Population: 120}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func anyArgs(n int) []driver.Value {
	out := make([]driver.Value, n)
	for i := range out {
		out[i] = sqlmock.AnyArg()
	}
	return out
}

func TestFinishRunWrapsError(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectExec("UPDATE runs SET months").
		WithArgs(12, "run-1").
		WillReturnError(errors.New("locked"))
	err := db.FinishRun("run-1", 12)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finish run run-1")
}

func TestIndicatorsRoundTrip(t *testing.T) {
	db := openTemp(t)
	for m := range 3 {
		require.NoError(t, db.SaveIndicators("a", stats.CoreIndicators{
			Month:        m,
			Population:   100 + m,
			HPI:          1.0 + 0.01*float64(m),
			InterestRate: 0.03,
			TotalDebt:    1.5e6,
		}))
	}
	require.NoError(t, db.SaveIndicators("b", stats.CoreIndicators{Month: 0}))
	// Re-recording a month replaces it.
	require.NoError(t, db.SaveIndicators("a", stats.CoreIndicators{Month: 2, Population: 999}))

	got, err := db.Indicators("a")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 101, got[1].Population)
	assert.InDelta(t, 1.01, got[1].HPI, 1e-12)
	assert.Equal(t, 1.5e6, got[0].TotalDebt)
	assert.Equal(t, 999, got[2].Population)
}

func TestRunsAndTransactions(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.SaveRun(Run{ID: "r1", Seed: 7, Started: time.Now().UTC(), Config: "a: 1\n"}))
	require.NoError(t, db.FinishRun("r1", 24))

	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(7), runs[0].Seed)
	assert.Equal(t, 24, runs[0].Months)
	assert.True(t, runs[0].Finished)

	txs := []engine.Transaction{
		{Month: 1, Market: "sale", House: 3, Price: 100, Buyer: 2, BTL: true},
		{Month: 1, Market: "rental", House: 4, Price: 10, Buyer: 5, Seller: 2},
	}
	require.NoError(t, db.SaveTransactions("r1", txs))
	got, err := db.Transactions("r1", 1)
	require.NoError(t, err)
	assert.Equal(t, txs, got)

	require.NoError(t, db.SaveMeta("version", "1"))
	v, err := db.GetMeta("version")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestRecorderWritesSelectedMonths(t *testing.T) {
	db := openTemp(t)
	cfg := config.Defaults()
	cfg.Simulation.TargetPopulation = 200
	cfg.Simulation.ReportEvery = 0
	sim, err := engine.New(cfg, 5, engine.Options{})
	require.NoError(t, err)

	rec := NewRecorder(db, config.Output{StartRecord: 1, RecordEvery: 2, RecordSales: true})
	require.NoError(t, rec.Start(sim))

	var sales [4]int
	for m := range 4 {
		require.NoError(t, sim.Step())
		require.NoError(t, rec.Observe(sim))
		sales[m] = len(sim.Transactions())
	}
	require.NoError(t, rec.Finish(sim))

	got, err := db.Indicators(sim.RunID.String())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Month)
	assert.Equal(t, 3, got[1].Month)

	for m := range 4 {
		txs, err := db.Transactions(sim.RunID.String(), m)
		require.NoError(t, err)
		if m == 0 {
			assert.Empty(t, txs, "nothing before the first recorded month")
			continue
		}
		assert.Len(t, txs, sales[m])
	}

	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].Months)
	var stored config.Config
	require.NoError(t, yaml.Unmarshal([]byte(runs[0].Config), &stored))
	assert.Equal(t, 200, stored.Simulation.TargetPopulation)
}
