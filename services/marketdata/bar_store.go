package marketdata

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"quasar_backend/services/live"

	_ "github.com/mattn/go-sqlite3"
)

// BarStore persists daily bars pulled by historical provider jobs in an
// embedded SQLite database
type BarStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// Global bar store instance
var GlobalBarStore *BarStore

// InitBarStore opens (or creates) the local bar database at path
func InitBarStore(path string) error {
	// Create data directory if not exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open bar database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping bar database: %w", err)
	}

	store := &BarStore{db: db}
	if err := store.createTables(); err != nil {
		return err
	}

	GlobalBarStore = store
	log.Printf("Bar store initialized: path=%s", path)
	return nil
}

// createTables creates the bar tables if missing
func (s *BarStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS daily_bars (
		provider   TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		bar_date   TEXT NOT NULL,
		open       TEXT NOT NULL,
		high       TEXT NOT NULL,
		low        TEXT NOT NULL,
		close      TEXT NOT NULL,
		volume     TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (provider, symbol, bar_date)
	);
	CREATE INDEX IF NOT EXISTS idx_daily_bars_date ON daily_bars(bar_date);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create bar tables: %w", err)
	}
	return nil
}

// UpsertDailyBars writes one provider's pulled bars, replacing existing
// rows for the same (symbol, date)
func (s *BarStore) UpsertDailyBars(provider string, bars []live.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin bar write: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_bars (provider, symbol, bar_date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare bar insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.Exec(
			provider,
			b.Symbol,
			b.Start.UTC().Format("2006-01-02"),
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			b.Volume.String(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert bar for %s/%s: %w", provider, b.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bar write: %w", err)
	}
	return nil
}

// CountBars returns the number of stored bars for a provider
func (s *BarStore) CountBars(provider string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM daily_bars WHERE provider = ?`, provider).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bars for %s: %w", provider, err)
	}
	return count, nil
}

// DeleteBarsBefore removes bars older than the cutoff date
func (s *BarStore) DeleteBarsBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM daily_bars WHERE bar_date < ?`, cutoff.UTC().Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old bars: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}

// Close closes the underlying database
func (s *BarStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
