// Package ledger persists the append-only usage ledger of metered inference
// calls and answers windowed aggregate queries over it.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sophia-ai/sophia/pkg/models"
)

// Ledger records and queries usage. Implementations must accept concurrent
// Append calls.
type Ledger interface {
	// Append stores one usage record. Records are never updated or deleted.
	Append(ctx context.Context, rec models.UsageRecord) error
	// Stats aggregates records in [since, until] grouped by model.
	Stats(ctx context.Context, since, until time.Time) (map[string]models.ModelUsage, error)
	// Records returns records at or after since, newest first.
	Records(ctx context.Context, since time.Time) ([]models.UsageRecord, error)
	// UserTotals sums tokens and cost for a user since a time, optionally for one
	// model. An empty userID selects records stored without a user.
	UserTotals(ctx context.Context, userID, model string, since time.Time) (models.UserTotals, error)
	// DailyCost returns the cost booked per UTC day since a time, oldest first.
	DailyCost(ctx context.Context, since time.Time) ([]models.DailyCost, error)
	// Close releases resources.
	Close() error
}

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLLedger implements Ledger on database/sql.
type SQLLedger struct {
	db     *sql.DB
	driver string
}

const createSQLiteTable = `
CREATE TABLE IF NOT EXISTS usage_ledger (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	model TEXT NOT NULL,
	tokens INTEGER NOT NULL,
	cost REAL NOT NULL,
	latency_ms INTEGER NOT NULL,
	user_id TEXT,
	session_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_ledger_time_model ON usage_ledger(timestamp, model);
CREATE INDEX IF NOT EXISTS idx_ledger_user ON usage_ledger(user_id, timestamp);
`

var createPostgresTable = []string{
	`CREATE TABLE IF NOT EXISTS usage_ledger (
		id BIGSERIAL PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		model TEXT NOT NULL,
		tokens BIGINT NOT NULL,
		cost DOUBLE PRECISION NOT NULL,
		latency_ms BIGINT NOT NULL,
		user_id TEXT,
		session_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_time_model ON usage_ledger(timestamp, model)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_user ON usage_ledger(user_id, timestamp)`,
}

// New opens the SQLite ledger at path and creates the schema if needed.
func New(path string) (*SQLLedger, error) {
	return Open(DriverSQLite, path)
}

// Open opens a ledger on the given driver and runs the idempotent migration.
// For sqlite, dsn is a file path; for postgres it is a connection URL.
func Open(driver, dsn string) (*SQLLedger, error) {
	switch driver {
	case "", DriverSQLite:
		return openSQLite(dsn)
	case DriverPostgres:
		return openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}
}

func openSQLite(path string) (*SQLLedger, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// One connection serializes writers so concurrent appends never see SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createSQLiteTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return &SQLLedger{db: db, driver: DriverSQLite}, nil
}

func openPostgres(dsn string) (*SQLLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger db ping: %w", err)
	}

	for _, stmt := range createPostgresTable {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate ledger db: %w", err)
		}
	}
	return &SQLLedger{db: db, driver: DriverPostgres}, nil
}

// rebind rewrites ? placeholders into the driver's bind syntax.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (l *SQLLedger) q(query string) string {
	return rebind(l.driver, query)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Append stores a usage record in a single INSERT.
func (l *SQLLedger) Append(ctx context.Context, rec models.UsageRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		l.q(`INSERT INTO usage_ledger (timestamp, model, tokens, cost, latency_ms, user_id, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		ts.Unix(), rec.Model, rec.Tokens, rec.Cost, rec.LatencyMs, nullable(rec.UserID), nullable(rec.SessionID),
	)
	if err != nil {
		return fmt.Errorf("append usage: %w", err)
	}
	return nil
}

// Stats aggregates records in [since, until] grouped by model.
func (l *SQLLedger) Stats(ctx context.Context, since, until time.Time) (map[string]models.ModelUsage, error) {
	rows, err := l.db.QueryContext(ctx,
		l.q(`SELECT model, COUNT(*), COALESCE(SUM(tokens), 0), COALESCE(SUM(cost), 0),
			COALESCE(AVG(latency_ms), 0), COUNT(DISTINCT user_id)
		 FROM usage_ledger WHERE timestamp >= ? AND timestamp <= ?
		 GROUP BY model ORDER BY model`),
		since.Unix(), until.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("usage stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]models.ModelUsage)
	for rows.Next() {
		var model string
		var u models.ModelUsage
		if err := rows.Scan(&model, &u.Requests, &u.Tokens, &u.Cost, &u.AvgLatencyMs, &u.UniqueUsers); err != nil {
			return nil, fmt.Errorf("scan usage stats: %w", err)
		}
		stats[model] = u
	}
	return stats, rows.Err()
}

// Records returns records at or after since, newest first.
func (l *SQLLedger) Records(ctx context.Context, since time.Time) ([]models.UsageRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		l.q(`SELECT id, timestamp, model, tokens, cost, latency_ms, user_id, session_id
		 FROM usage_ledger WHERE timestamp >= ? ORDER BY timestamp DESC, id DESC`),
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var ts int64
		var userID, sessionID sql.NullString
		if err := rows.Scan(&r.ID, &ts, &r.Model, &r.Tokens, &r.Cost, &r.LatencyMs, &userID, &sessionID); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.Timestamp = time.Unix(ts, 0).UTC()
		r.UserID = userID.String
		r.SessionID = sessionID.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// UserTotals sums tokens and cost for a user since a time. An empty model
// matches every model. An empty userID selects the anonymous rows.
func (l *SQLLedger) UserTotals(ctx context.Context, userID, model string, since time.Time) (models.UserTotals, error) {
	query := `SELECT COALESCE(SUM(tokens), 0), COALESCE(SUM(cost), 0)
		 FROM usage_ledger WHERE timestamp >= ?`
	args := []any{since.Unix()}
	if userID == "" {
		query += ` AND user_id IS NULL`
	} else {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	if model != "" {
		query += ` AND model = ?`
		args = append(args, model)
	}

	var t models.UserTotals
	if err := l.db.QueryRowContext(ctx, l.q(query), args...).Scan(&t.Tokens, &t.Cost); err != nil {
		return models.UserTotals{}, fmt.Errorf("user totals: %w", err)
	}
	return t, nil
}

// DailyCost returns the cost booked per UTC day since a time, oldest first.
func (l *SQLLedger) DailyCost(ctx context.Context, since time.Time) ([]models.DailyCost, error) {
	rows, err := l.db.QueryContext(ctx,
		l.q(`SELECT timestamp - (timestamp % 86400) AS day, COALESCE(SUM(cost), 0)
		 FROM usage_ledger WHERE timestamp >= ?
		 GROUP BY day ORDER BY day`),
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("daily cost: %w", err)
	}
	defer rows.Close()

	var out []models.DailyCost
	for rows.Next() {
		var day int64
		var d models.DailyCost
		if err := rows.Scan(&day, &d.Cost); err != nil {
			return nil, fmt.Errorf("scan daily cost: %w", err)
		}
		d.Day = time.Unix(day, 0).UTC().Format("2006-01-02")
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (l *SQLLedger) Close() error {
	return l.db.Close()
}
