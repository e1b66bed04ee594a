package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/tomasbasham/planroom/internal/plan"
)

const schema = `
CREATE TABLE IF NOT EXISTS plan_sets (
	seq         BIGSERIAL,
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	district    TEXT NOT NULL DEFAULT '',
	csj         TEXT NOT NULL DEFAULT '',
	highway     TEXT NOT NULL DEFAULT '',
	version     TEXT NOT NULL DEFAULT '',
	size        TEXT NOT NULL DEFAULT '',
	let_date    TEXT NOT NULL DEFAULT '',
	tags        TEXT[] NOT NULL DEFAULT '{}',
	storage_key TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);`

// PostgresRepository keeps one row per record. Upserts are single
// statements, so concurrent registrations of different ids never lose each
// other. The seq and storage_key columns are set on first insert and left
// untouched on conflict, which gives the same ordering and key stability as
// the document repository.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the plan_sets table if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("index: failed to migrate schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]plan.Record, error) {
	records, err := r.list(ctx, r.db)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageRead, err)
	}
	return records, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec plan.Record) ([]plan.Record, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: id is required", plan.ErrInvalidRecord)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	defer tx.Rollback()

	createdAt := sql.NullTime{Time: rec.CreatedAt, Valid: !rec.CreatedAt.IsZero()}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plan_sets (
			id,
			title,
			district,
			csj,
			highway,
			version,
			size,
			let_date,
			tags,
			storage_key,
			created_at
		) VALUES (
			$1,
			$2,
			$3,
			$4,
			$5,
			$6,
			$7,
			$8,
			$9,
			$10,
			COALESCE($11, now())
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			district = EXCLUDED.district,
			csj = EXCLUDED.csj,
			highway = EXCLUDED.highway,
			version = EXCLUDED.version,
			size = EXCLUDED.size,
			let_date = EXCLUDED.let_date,
			tags = EXCLUDED.tags,
			created_at = COALESCE($11, plan_sets.created_at);
		`,
		rec.ID,
		rec.Title,
		rec.District,
		rec.CSJ,
		rec.Highway,
		rec.Version,
		rec.Size,
		rec.LetDate,
		pq.Array(tags),
		rec.StorageKey,
		createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	records, err := r.list(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return records, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *PostgresRepository) list(ctx context.Context, q querier) ([]plan.Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, title, district, csj, highway, version, size, let_date, tags, storage_key, created_at
		FROM plan_sets
		ORDER BY seq DESC;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []plan.Record{}
	for rows.Next() {
		var rec plan.Record
		err := rows.Scan(
			&rec.ID,
			&rec.Title,
			&rec.District,
			&rec.CSJ,
			&rec.Highway,
			&rec.Version,
			&rec.Size,
			&rec.LetDate,
			pq.Array(&rec.Tags),
			&rec.StorageKey,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		rec.Normalize()
		records = append(records, rec)
	}
	return records, rows.Err()
}
