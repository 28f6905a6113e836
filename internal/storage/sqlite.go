package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
)

// SQLiteStorage keeps cached bars in a SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath == "" {
		return nil, errors.New("cache database path is required")
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStorage{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
	-- One row per cached key, including keys the vendor had no bars for
	CREATE TABLE IF NOT EXISTS fetches (
		cache_key TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		symbol TEXT NOT NULL,
		day TEXT NOT NULL,
		fetched_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bars (
		cache_key TEXT NOT NULL,
		symbol TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		vwap REAL NOT NULL,
		trade_count INTEGER NOT NULL,
		UNIQUE(cache_key, timestamp),
		FOREIGN KEY (cache_key) REFERENCES fetches(cache_key)
	);

	CREATE INDEX IF NOT EXISTS idx_fetches_symbol_day ON fetches(symbol, day);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStorage) Get(key Key) (marketdata.Series, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	ck := key.String()

	var one int
	err := s.db.QueryRow(`SELECT 1 FROM fetches WHERE cache_key = ?`, ck).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("looking up %s: %w", ck, err)
	}

	rows, err := s.db.Query(`
		SELECT symbol, timestamp, open, high, low, close, volume, vwap, trade_count
		FROM bars WHERE cache_key = ? ORDER BY timestamp`, ck)
	if err != nil {
		return nil, false, fmt.Errorf("loading %s: %w", ck, err)
	}
	defer rows.Close()

	series := marketdata.Series{}
	for rows.Next() {
		var b marketdata.Bar
		var ts int64
		if err := rows.Scan(&b.Symbol, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.VWAP, &b.TradeCount); err != nil {
			return nil, false, fmt.Errorf("scanning %s: %w", ck, err)
		}
		b.Timestamp = time.Unix(0, ts).UTC()
		series = append(series, b)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return series, true, nil
}

func (s *SQLiteStorage) Put(key Key, series marketdata.Series) error {
	if err := key.Validate(); err != nil {
		return err
	}
	ck := key.String()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM bars WHERE cache_key = ?`, ck); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO fetches (cache_key, kind, symbol, day, fetched_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET fetched_at = excluded.fetched_at`,
		ck, string(key.Kind), key.Symbol, key.Day.Format("2006-01-02"), time.Now().UTC()); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO bars (cache_key, symbol, timestamp, open, high, low, close, volume, vwap, trade_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, b := range series {
		if _, err := stmt.Exec(ck, b.Symbol, b.Timestamp.UnixNano(), b.Open, b.High, b.Low, b.Close,
			b.Volume, b.VWAP, b.TradeCount); err != nil {
			return fmt.Errorf("storing %s: %w", ck, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
