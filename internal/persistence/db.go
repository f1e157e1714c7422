// Package persistence provides SQLite-based storage of simulation output:
// one row per run, its monthly core indicators and, optionally, every
// completed transaction.
package persistence

import (
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/talgya/housing-market/internal/engine"
	"github.com/talgya/housing-market/internal/stats"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB wraps a SQLite connection for simulation output.
type DB struct {
	conn *sqlx.DB
}

// Run is the stored description of one simulation.
type Run struct {
	ID       string    `db:"id"`
	Seed     int64     `db:"seed"`
	Started  time.Time `db:"started"`
	Months   int       `db:"months"`
	Config   string    `db:"config"` // YAML
	Finished bool      `db:"finished"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	// Parallel runs share the file; one writer at a time.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return db, nil
}

// New wraps an existing connection without migrating it.
func New(conn *sqlx.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// indicatorColumns are the CoreIndicators db tags in table order.
var indicatorColumns = []string{
	"month",
	"population", "housing_stock", "homeless", "renters", "owners", "investors", "bankrupt",
	"hpi", "annual_hpa", "av_sale_price", "av_rent", "days_on_market", "flow_yield",
	"sales", "ftb_sales", "btl_sales", "lets", "sale_offers", "rental_offers",
	"interest_rate", "approvals", "over_lti", "credit_supply", "total_debt", "total_deposits",
}

var realColumns = map[string]bool{
	"hpi": true, "annual_hpa": true, "av_sale_price": true, "av_rent": true,
	"days_on_market": true, "flow_yield": true, "interest_rate": true,
	"credit_supply": true, "total_debt": true, "total_deposits": true,
}

func indicatorSchema() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS indicators (\n\t\trun_id TEXT NOT NULL,\n")
	for _, c := range indicatorColumns {
		typ := "INTEGER"
		if realColumns[c] {
			typ = "REAL"
		}
		b.WriteString("\t\t" + c + " " + typ + " NOT NULL,\n")
	}
	b.WriteString("\t\tPRIMARY KEY (run_id, month)\n\t);\n")
	return b.String()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		started TIMESTAMP NOT NULL,
		months INTEGER NOT NULL DEFAULT 0,
		config TEXT NOT NULL,
		finished INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		month INTEGER NOT NULL,
		market TEXT NOT NULL,
		house INTEGER NOT NULL,
		quality INTEGER NOT NULL,
		price REAL NOT NULL,
		initial_price REAL NOT NULL,
		listed INTEGER NOT NULL,
		buyer INTEGER NOT NULL,
		seller INTEGER NOT NULL,
		btl INTEGER NOT NULL,
		first_time_buyer INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	` + indicatorSchema() + `
	CREATE INDEX IF NOT EXISTS idx_transactions_run_month ON transactions(run_id, month);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun registers a new run.
func (db *DB) SaveRun(r Run) error {
	_, err := db.conn.NamedExec(`INSERT INTO runs (id, seed, started, months, config, finished)
		VALUES (:id, :seed, :started, :months, :config, :finished)`, r)
	return errors.Wrapf(err, "insert run %s", r.ID)
}

// FinishRun records how many months a run completed.
func (db *DB) FinishRun(id string, months int) error {
	_, err := db.conn.Exec("UPDATE runs SET months = ?, finished = 1 WHERE id = ?", months, id)
	return errors.Wrapf(err, "finish run %s", id)
}

// Runs lists stored runs, oldest first.
func (db *DB) Runs() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs, "SELECT id, seed, started, months, config, finished FROM runs ORDER BY started, id")
	return runs, err
}

type indicatorRow struct {
	RunID string `db:"run_id"`
	stats.CoreIndicators
}

// SaveIndicators stores one month of indicators for a run.
func (db *DB) SaveIndicators(runID string, ind stats.CoreIndicators) error {
	query := "INSERT OR REPLACE INTO indicators (run_id, " + strings.Join(indicatorColumns, ", ") +
		") VALUES (:run_id, :" + strings.Join(indicatorColumns, ", :") + ")"
	_, err := db.conn.NamedExec(query, indicatorRow{RunID: runID, CoreIndicators: ind})
	return errors.Wrapf(err, "insert indicators for month %d", ind.Month)
}

// Indicators returns every stored month of a run in month order.
func (db *DB) Indicators(runID string) ([]stats.CoreIndicators, error) {
	var out []stats.CoreIndicators
	err := db.conn.Select(&out,
		"SELECT "+strings.Join(indicatorColumns, ", ")+" FROM indicators WHERE run_id = ? ORDER BY month",
		runID,
	)
	return out, err
}

// SaveTransactions appends a month's transactions.
func (db *DB) SaveTransactions(runID string, txs []engine.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range txs {
		_, err := tx.Exec(`INSERT INTO transactions
			(run_id, month, market, house, quality, price, initial_price, listed,
			 buyer, seller, btl, first_time_buyer)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, t.Month, t.Market, int64(t.House), t.Quality, t.Price, t.InitialPrice, t.Listed,
			int64(t.Buyer), int64(t.Seller), t.BTL, t.FirstTimeBuyer,
		)
		if err != nil {
			return errors.Wrapf(err, "insert transaction for house %d", t.House)
		}
	}

	return tx.Commit()
}

// Transactions returns a run's transactions of one month in insertion
// order.
func (db *DB) Transactions(runID string, month int) ([]engine.Transaction, error) {
	var out []engine.Transaction
	err := db.conn.Select(&out, `SELECT month, market, house, quality, price, initial_price, listed,
		buyer, seller, btl, first_time_buyer
		FROM transactions WHERE run_id = ? AND month = ? ORDER BY id`, runID, month)
	return out, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

func logSaved(runID string, month, txs int) {
	zap.S().Debugw("month recorded", "run", runID, "month", month, "transactions", txs)
}
