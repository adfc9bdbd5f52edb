package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

//go:embed migrations/*.sql
var migrations embed.FS

const historyPageSize = 100

// PostgresStore keeps snapshots in the pricing_snapshots table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and applies pending migrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate runs the embedded goose migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// WithTx runs fn in a transaction, rolling back when it returns an error.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, fn)
}

func (s *PostgresStore) Append(ctx context.Context, snap *pricing.Snapshot) (string, error) {
	doc, err := pricing.EncodeSnapshot(snap)
	if err != nil {
		return "", err
	}

	var derivedFrom *string
	if snap.DerivedFrom != "" {
		derivedFrom = &snap.DerivedFrom
	}

	err = s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO pricing_snapshots (id, captured_at, provenance, derived_from, document)
			VALUES ($1, $2, $3, $4, $5)`,
			snap.ID, snap.CapturedAt, string(snap.Provenance), derivedFrom, string(doc))
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", fmt.Errorf("%w: %s", ErrDuplicate, snap.ID)
		}
		return "", fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
	}
	return snap.ID, nil
}

func (s *PostgresStore) Latest(ctx context.Context) (*pricing.Snapshot, error) {
	var doc string
	err := s.pool.QueryRow(ctx, `SELECT document::text FROM pricing_snapshots ORDER BY seq DESC LIMIT 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return pricing.DecodeSnapshot([]byte(doc))
}

// History pages through the range with a (captured_at, seq) keyset cursor.
func (s *PostgresStore) History(ctx context.Context, from, to time.Time) iter.Seq2[*pricing.Snapshot, error] {
	return func(yield func(*pricing.Snapshot, error) bool) {
		cursorAt, cursorSeq := from, int64(-1)
		for {
			rows, err := s.pool.Query(ctx, `
				SELECT seq, captured_at, document::text
				FROM pricing_snapshots
				WHERE captured_at <= $2 AND (captured_at, seq) > ($1, $3)
				ORDER BY captured_at, seq
				LIMIT $4`,
				cursorAt, to, cursorSeq, historyPageSize)
			if err != nil {
				yield(nil, fmt.Errorf("query history: %w", err))
				return
			}

			type row struct {
				seq        int64
				capturedAt time.Time
				doc        string
			}
			page, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (row, error) {
				var out row
				err := r.Scan(&out.seq, &out.capturedAt, &out.doc)
				return out, err
			})
			if err != nil {
				yield(nil, fmt.Errorf("scan history: %w", err))
				return
			}

			for _, r := range page {
				snap, err := pricing.DecodeSnapshot([]byte(r.doc))
				if !yield(snap, err) || err != nil {
					return
				}
			}
			if len(page) < historyPageSize {
				return
			}
			last := page[len(page)-1]
			cursorAt, cursorSeq = last.capturedAt, last.seq
		}
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
