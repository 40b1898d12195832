package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Catalog is the secondary, non-authoritative document index (§4.4):
// it lets an operator query which slugs exist and how stale they are
// without walking the vault tree. The vault remains the only
// authoritative store — every write here is best-effort and logged,
// never blocking, so a down or misconfigured Postgres degrades
// observability, not durability.
type Catalog struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewCatalog connects to dbURL and ensures the catalog table exists.
// A nil *Catalog (returned alongside a non-nil error, or explicitly via
// OpenCatalog when dbURL is empty) means the catalog is disabled; every
// method on a nil *Catalog is a no-op.
func NewCatalog(ctx context.Context, dbURL string, log *zap.Logger) (*Catalog, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	c := &Catalog{pool: pool, log: log}
	if err := c.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// OpenCatalog is the best-effort variant used at startup: an empty
// dbURL or a connection failure disables the catalog rather than
// failing the whole server, matching spec.md §7's "storage errors
// degrade that document, never the fleet" invariant extended to the
// catalog itself.
func OpenCatalog(ctx context.Context, dbURL string, log *zap.Logger) *Catalog {
	if dbURL == "" {
		return nil
	}
	c, err := NewCatalog(ctx, dbURL, log)
	if err != nil {
		log.Warn("catalog disabled: could not connect to postgres", zap.Error(err))
		return nil
	}
	return c
}

func (c *Catalog) migrate(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			slug                 TEXT PRIMARY KEY,
			rev                  BIGINT NOT NULL DEFAULT 0,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			password_changed_at  TIMESTAMPTZ,
			last_flushed_at      TIMESTAMPTZ
		)
	`)
	return err
}

// RecordFlush upserts slug's rev and last_flushed_at after a
// compaction (§4.4). Failures are logged, never returned to the
// caller's hot path — see the package doc comment.
func (c *Catalog) RecordFlush(ctx context.Context, slug string, rev uint64) {
	if c == nil {
		return
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO documents (slug, rev, last_flushed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (slug) DO UPDATE SET rev = $2, last_flushed_at = now()
	`, slug, int64(rev))
	if err != nil {
		c.log.Warn("catalog: failed to record flush", zap.String("slug", slug), zap.Error(err))
	}
}

// RecordPasswordChange stamps password_changed_at for slug.
func (c *Catalog) RecordPasswordChange(ctx context.Context, slug string) {
	if c == nil {
		return
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO documents (slug, password_changed_at)
		VALUES ($1, now())
		ON CONFLICT (slug) DO UPDATE SET password_changed_at = now()
	`, slug)
	if err != nil {
		c.log.Warn("catalog: failed to record password change", zap.String("slug", slug), zap.Error(err))
	}
}

// DocumentInfo is one row of the catalog, for operator listing.
type DocumentInfo struct {
	Slug              string
	Rev               uint64
	CreatedAt         time.Time
	PasswordChangedAt *time.Time
	LastFlushedAt     *time.Time
}

// List returns every known document, ordered by slug. Returns an
// empty slice (not an error) when the catalog is disabled.
func (c *Catalog) List(ctx context.Context) ([]DocumentInfo, error) {
	if c == nil {
		return nil, nil
	}
	rows, err := c.pool.Query(ctx, `
		SELECT slug, rev, created_at, password_changed_at, last_flushed_at
		FROM documents ORDER BY slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DocumentInfo
	for rows.Next() {
		var d DocumentInfo
		var rev int64
		if err := rows.Scan(&d.Slug, &rev, &d.CreatedAt, &d.PasswordChangedAt, &d.LastFlushedAt); err != nil {
			return nil, err
		}
		d.Rev = uint64(rev)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close releases the connection pool. Safe to call on a nil Catalog.
func (c *Catalog) Close() {
	if c == nil {
		return
	}
	c.pool.Close()
}
