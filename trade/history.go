package trade

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// HistoryEntry summarizes one Execute invocation. There is exactly one
// entry per invocation, never per wallet or bundle.
type HistoryEntry struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	TradeType   string    `json:"tradeType"`
	Mode        string    `json:"mode"`
	WalletCount int       `json:"walletCount"`
	Amount      float64   `json:"amount"`
	Success     bool      `json:"success"`
	Summary     string    `json:"summary"`
}

// HistoryStore persists trade history in a local sqlite database.
type HistoryStore struct {
	db *sql.DB
}

const historySchema = `
CREATE TABLE IF NOT EXISTS trade_history (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	trade_type TEXT NOT NULL,
	mode TEXT NOT NULL,
	wallet_count INTEGER NOT NULL,
	amount REAL NOT NULL,
	success INTEGER NOT NULL,
	summary TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_history_created_at ON trade_history(created_at DESC);
`

// OpenHistoryStore opens (and migrates) the history database at path.
func OpenHistoryStore(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open history db")
	}
	if _, err := db.Exec(historySchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate history db")
	}
	return &HistoryStore{db: db}, nil
}

func (s *HistoryStore) Add(ctx context.Context, entry HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trade_history (id, created_at, trade_type, mode, wallet_count, amount, success, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CreatedAt.UnixMilli(), entry.TradeType, entry.Mode,
		entry.WalletCount, entry.Amount, boolToInt(entry.Success), entry.Summary)
	return errors.Wrap(err, "insert trade history")
}

// Latest returns up to limit entries, newest first.
func (s *HistoryStore) Latest(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, trade_type, mode, wallet_count, amount, success, summary
		 FROM trade_history ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query trade history")
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			entry     HistoryEntry
			createdAt int64
			success   int
		)
		if err := rows.Scan(&entry.ID, &createdAt, &entry.TradeType, &entry.Mode,
			&entry.WalletCount, &entry.Amount, &success, &entry.Summary); err != nil {
			return nil, errors.Wrap(err, "scan trade history")
		}
		entry.CreatedAt = time.UnixMilli(createdAt)
		entry.Success = success != 0
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
