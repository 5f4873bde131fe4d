package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"solpaper/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ PortfolioStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS portfolios (
	user_id    TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLiteStore implements PortfolioStore backed by a SQLite database. The
// portfolio body is stored as a JSON document; the version column is
// duplicated out of the document so the compare-and-swap runs in SQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Serialized writes; the syncer is the only writer anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save writes a portfolio if and only if the stored version matches
// expectedVersion. A zero expectedVersion inserts a new row; a conflict on
// either path returns domain.ErrVersionConflict.
func (s *SQLiteStore) Save(ctx context.Context, p *domain.Portfolio, expectedVersion uint64) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshalling portfolio %s: %w", p.UserID, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO portfolios (user_id, version, data, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			p.UserID, p.Version, string(data), now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE portfolios SET version = ?, data = ?, updated_at = ?
			 WHERE user_id = ? AND version = ?`,
			p.Version, string(data), now, p.UserID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("saving portfolio %s: %w", p.UserID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("portfolio %s at expected version %d: %w",
			p.UserID, expectedVersion, domain.ErrVersionConflict)
	}
	return nil
}

// Load retrieves a single portfolio by user ID.
func (s *SQLiteStore) Load(ctx context.Context, userID string) (*domain.Portfolio, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM portfolios WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return unmarshalPortfolio(userID, data)
}

// LoadAll retrieves every stored portfolio.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]*domain.Portfolio, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, data FROM portfolios ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Portfolio
	for rows.Next() {
		var userID, data string
		if err := rows.Scan(&userID, &data); err != nil {
			return nil, err
		}
		p, err := unmarshalPortfolio(userID, data)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a portfolio.
func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM portfolios WHERE user_id = ?`, userID)
	return err
}

func unmarshalPortfolio(userID, data string) (*domain.Portfolio, error) {
	p := &domain.Portfolio{}
	if err := json.Unmarshal([]byte(data), p); err != nil {
		return nil, fmt.Errorf("unmarshalling portfolio %s: %w", userID, err)
	}
	if p.Positions == nil {
		p.Positions = make(map[string]*domain.Position)
	}
	return p, nil
}
