// Package persistence stores finished and in-flight runs in SQLite.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/edgeworth/internal/agents"
	"github.com/talgya/edgeworth/internal/market"
)

// ErrNotFound reports a run id with no row.
var ErrNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusRunning = "running"
	StatusSettled = "settled"
	StatusFailed  = "failed"
)

// Run is one simulation run's header row.
type Run struct {
	ID         string `db:"id" json:"id"`
	Seed       int64  `db:"seed" json:"seed"`
	Profile    string `db:"profile" json:"profile"`
	Agents     int    `db:"agents" json:"agents"`
	StartedAt  int64  `db:"started_at" json:"started_at"`
	FinishedAt int64  `db:"finished_at" json:"finished_at"` // 0 while running
	Trades     int    `db:"trades" json:"trades"`
	Status     string `db:"status" json:"status"`
	ReportJSON string `db:"report_json" json:"report_json,omitempty"`
}

// Report decodes the terminal partition report, nil while the run is open.
func (r *Run) Report() (*market.Report, error) {
	if r.ReportJSON == "" {
		return nil, nil
	}
	var report market.Report
	if err := json.Unmarshal([]byte(r.ReportJSON), &report); err != nil {
		return nil, fmt.Errorf("run %s report: %w", r.ID, err)
	}
	return &report, nil
}

// RunAgent is one agent's parameters and balances within a run.
type RunAgent struct {
	RunID    string  `db:"run_id" json:"-"`
	AgentID  int     `db:"agent_id" json:"agent_id"`
	Name     string  `db:"name" json:"name"`
	CoeffA   float64 `db:"coeff_a" json:"coeff_a"`
	CoeffB   float64 `db:"coeff_b" json:"coeff_b"`
	ProdA    float64 `db:"prod_a" json:"prod_a"`
	ProdB    float64 `db:"prod_b" json:"prod_b"`
	InitialA float64 `db:"initial_a" json:"initial_a"`
	InitialB float64 `db:"initial_b" json:"initial_b"`
	FinalA   float64 `db:"final_a" json:"final_a"`
	FinalB   float64 `db:"final_b" json:"final_b"`
}

// TradeRow is one executed trade within a run.
type TradeRow struct {
	RunID    string  `db:"run_id" json:"-"`
	Round    int     `db:"round" json:"round"`
	Buyer    int     `db:"buyer" json:"buyer"`
	Seller   int     `db:"seller" json:"seller"`
	AmountA  float64 `db:"amount_a" json:"amount_a"`
	AmountB  float64 `db:"amount_b" json:"amount_b"`
	Price    float64 `db:"price" json:"price"`
	BidPrice float64 `db:"bid_price" json:"bid_price"`
	AskPrice float64 `db:"ask_price" json:"ask_price"`
}

// Trade converts the row back to the engine's type.
func (t TradeRow) Trade() market.Trade {
	return market.Trade{
		Buyer:    agents.AgentID(t.Buyer),
		Seller:   agents.AgentID(t.Seller),
		AmountA:  t.AmountA,
		AmountB:  t.AmountB,
		Price:    t.Price,
		BidPrice: t.BidPrice,
		AskPrice: t.AskPrice,
	}
}

// DB wraps a SQLite connection for run storage.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		profile TEXT NOT NULL,
		agents INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
		trades INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		report_json TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS run_agents (
		run_id TEXT NOT NULL,
		agent_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		coeff_a REAL NOT NULL,
		coeff_b REAL NOT NULL,
		prod_a REAL NOT NULL,
		prod_b REAL NOT NULL,
		initial_a REAL NOT NULL,
		initial_b REAL NOT NULL,
		final_a REAL NOT NULL DEFAULT 0,
		final_b REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		buyer INTEGER NOT NULL,
		seller INTEGER NOT NULL,
		amount_a REAL NOT NULL,
		amount_b REAL NOT NULL,
		price REAL NOT NULL,
		bid_price REAL NOT NULL,
		ask_price REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id, round);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun inserts a new run in the running state.
func (db *DB) CreateRun(id string, seed int64, profile string, agentCount int) error {
	_, err := db.conn.Exec(
		`INSERT INTO runs (id, seed, profile, agents, started_at, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, seed, profile, agentCount, time.Now().Unix(), StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", id, err)
	}
	return nil
}

// SaveAgents snapshots a run's population with its initial balances.
func (db *DB) SaveAgents(runID string, population []agents.Agent, initial []agents.Balance) error {
	if len(population) != len(initial) {
		return fmt.Errorf("save agents: %d agents but %d balances", len(population), len(initial))
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO run_agents
		(run_id, agent_id, name, coeff_a, coeff_b, prod_a, prod_b, initial_a, initial_b)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, a := range population {
		_, err := stmt.Exec(runID, int(a.ID), a.Name,
			a.CoeffA, a.CoeffB, a.ProdA, a.ProdB,
			initial[i].A, initial[i].B)
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// SaveTrade appends one executed trade.
func (db *DB) SaveTrade(runID string, round int, tr market.Trade) error {
	_, err := db.conn.Exec(
		`INSERT INTO trades (run_id, round, buyer, seller, amount_a, amount_b, price, bid_price, ask_price)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, round, int(tr.Buyer), int(tr.Seller),
		tr.AmountA, tr.AmountB, tr.Price, tr.BidPrice, tr.AskPrice,
	)
	if err != nil {
		return fmt.Errorf("insert trade %d/%d: %w", round, tr.Buyer, err)
	}
	return nil
}

// FinishRun closes a run: final status, trade count, terminal report and
// final balances, in one transaction.
func (db *DB) FinishRun(runID, status string, trades int, report *market.Report, final []agents.Balance) error {
	reportJSON := ""
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("finish run %s: %w", runID, err)
		}
		reportJSON = string(b)
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE runs SET finished_at = ?, trades = ?, status = ?, report_json = ? WHERE id = ?`,
		time.Now().Unix(), trades, status, reportJSON, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}

	for i, bal := range final {
		_, err := tx.Exec(
			`UPDATE run_agents SET final_a = ?, final_b = ? WHERE run_id = ? AND agent_id = ?`,
			bal.A, bal.B, runID, i,
		)
		if err != nil {
			return fmt.Errorf("finish run %s agent %d: %w", runID, i, err)
		}
	}

	return tx.Commit()
}

// LoadRun fetches one run header.
func (db *DB) LoadRun(id string) (*Run, error) {
	var run Run
	err := db.conn.Get(&run, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs,
		"SELECT * FROM runs ORDER BY started_at DESC, id LIMIT ?", limit)
	return runs, err
}

// LoadAgents returns a run's population snapshot in agent-id order.
func (db *DB) LoadAgents(runID string) ([]RunAgent, error) {
	var rows []RunAgent
	err := db.conn.Select(&rows,
		"SELECT * FROM run_agents WHERE run_id = ? ORDER BY agent_id", runID)
	return rows, err
}

// LoadTrades returns a run's trades in execution order.
func (db *DB) LoadTrades(runID string) ([]TradeRow, error) {
	var rows []TradeRow
	err := db.conn.Select(&rows,
		"SELECT run_id, round, buyer, seller, amount_a, amount_b, price, bid_price, ask_price FROM trades WHERE run_id = ? ORDER BY round", runID)
	return rows, err
}
