package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
	CREATE TABLE IF NOT EXISTS move_reviews (
		id            UUID PRIMARY KEY,
		session_id    TEXT NOT NULL,
		ply           INTEGER NOT NULL,
		color         TEXT NOT NULL,
		move          TEXT NOT NULL,
		best_move     TEXT NOT NULL DEFAULT '',
		bot_move      TEXT NOT NULL DEFAULT '',
		path          TEXT NOT NULL,
		label         TEXT NOT NULL DEFAULT '',
		loss_winrate  DOUBLE PRECISION NOT NULL,
		loss_score    DOUBLE PRECISION NOT NULL,
		engine_calls  INTEGER NOT NULL,
		moves         JSONB NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS move_reviews_session_idx ON move_reviews (session_id, created_at DESC);`

type repository struct {
	db *sql.DB
}

// Open connects to Postgres and makes sure the table exists.
func Open(ctx context.Context, databaseURL string) (Repository, *sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	repo := NewRepository(db)
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate move_reviews: %w", err)
	}
	return nil
}

func (r *repository) Insert(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("nil review record")
	}
	prepare(rec)
	moves, err := json.Marshal(rec.Moves)
	if err != nil {
		return fmt.Errorf("marshal moves: %w", err)
	}

	const query = `
		INSERT INTO move_reviews (
			id,
			session_id,
			ply,
			color,
			move,
			best_move,
			bot_move,
			path,
			label,
			loss_winrate,
			loss_score,
			engine_calls,
			moves,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14)`

	_, err = r.db.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.SessionID,
		rec.Ply,
		rec.Color,
		rec.Move,
		rec.BestMove,
		rec.BotMove,
		rec.Path,
		rec.Label,
		rec.LossWinrate,
		rec.LossScore,
		rec.EngineCalls,
		moves,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert move review: %w", err)
	}
	return nil
}

const selectColumns = `
		SELECT
			id,
			session_id,
			ply,
			color,
			move,
			best_move,
			bot_move,
			path,
			label,
			loss_winrate,
			loss_score,
			engine_calls,
			moves,
			created_at
		FROM move_reviews`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec   Record
		moves []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.Ply,
		&rec.Color,
		&rec.Move,
		&rec.BestMove,
		&rec.BotMove,
		&rec.Path,
		&rec.Label,
		&rec.LossWinrate,
		&rec.LossScore,
		&rec.EngineCalls,
		&moves,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(moves) > 0 {
		if err := json.Unmarshal(moves, &rec.Moves); err != nil {
			return nil, fmt.Errorf("decode moves: %w", err)
		}
	}
	return &rec, nil
}

func (r *repository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get move review: %w", err)
	}
	return rec, nil
}

func (r *repository) Recent(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE session_id = $1
		ORDER BY created_at DESC, ply DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query move reviews: %w", err)
	}
	defer rows.Close()

	out := make([]*Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan move review: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate move reviews: %w", err)
	}
	return out, nil
}
