package runstore

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"revisit/train"
)

// SQLiteStore persists runs in a single SQLite file.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, config_json, notes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			config_json = excluded.config_json,
			notes = excluded.notes
	`, run.ID, run.CreatedAt.UTC().Format(time.RFC3339Nano), run.ConfigJSON, run.Notes)
	return err
}

func (s *SQLiteStore) AppendEpoch(ctx context.Context, runID string, stats train.EpochStats) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	var exists int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return errors.New("unknown run " + runID)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO epochs (run_id, epoch, loss, val_loss, rmse, recall, auc)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, stats.Epoch, stats.Loss,
		nullable(stats.ValLoss), nullable(stats.RMSE), nullable(stats.Recall), nullable(stats.AUC))
	return err
}

// nullable maps NaN metrics to NULL so they round-trip through SQLite.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, false, err
	}
	var run Run
	var created string
	err = db.QueryRowContext(ctx,
		`SELECT id, created_at, config_json, notes FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &created, &run.ConfigJSON, &run.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

func (s *SQLiteStore) ListEpochs(ctx context.Context, runID string) ([]train.EpochStats, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT epoch, loss, val_loss, rmse, recall, auc
		FROM epochs WHERE run_id = ? ORDER BY epoch
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []train.EpochStats
	for rows.Next() {
		var st train.EpochStats
		var valLoss, rmse, recall, auc sql.NullFloat64
		if err := rows.Scan(&st.Epoch, &st.Loss, &valLoss, &rmse, &recall, &auc); err != nil {
			return nil, err
		}
		st.ValLoss = fromNullable(valLoss)
		st.RMSE = fromNullable(rmse)
		st.Recall = fromNullable(recall)
		st.AUC = fromNullable(auc)
		history = append(history, st)
	}
	return history, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			config_json TEXT NOT NULL,
			notes TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS epochs (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			loss REAL NOT NULL,
			val_loss REAL,
			rmse REAL,
			recall REAL,
			auc REAL,
			PRIMARY KEY (run_id, epoch)
		);
	`)
	return err
}
