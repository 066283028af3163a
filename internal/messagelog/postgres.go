package messagelog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresOptions configures a PostgreSQL-backed log.
type PostgresOptions struct {
	// Table defaults to bus_message.
	Table string
	// SkipMigrate disables CREATE TABLE/INDEX IF NOT EXISTS on open.
	SkipMigrate bool
}

// PostgresLog stores the message log in one PostgreSQL table shared by every
// process of the deployment. created_at is assigned by the database.
//
// Appends take a transaction-scoped advisory lock before drawing an id, so ids
// commit in order. Without it a reader could see id N+1 while N is still in
// flight and move its cursor past N for good.
type PostgresLog struct {
	pool     *pgxpool.Pool
	ownsPool bool
	table    string
	lockKey  string
	closed   atomic.Bool

	lockSQL      string
	insertSQL    string
	sinceIDSQL   string
	sinceTimeSQL string
	allSQL       string
	collectSQL   string
}

var _ Log = (*PostgresLog)(nil)

// OpenPostgres connects a pool to dsn and wraps it. Close releases the pool.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("messagelog: connect: %w", err)
	}
	l, err := NewPostgres(ctx, pool, opts)
	if err != nil {
		pool.Close()
		return nil, err
	}
	l.ownsPool = true
	return l, nil
}

// NewPostgres wraps an existing pool and creates the table when missing.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, opts PostgresOptions) (*PostgresLog, error) {
	if pool == nil {
		return nil, errors.New("messagelog: nil pool")
	}
	if opts.Table == "" {
		opts.Table = "bus_message"
	}
	if !tableNameRe.MatchString(opts.Table) {
		return nil, fmt.Errorf("messagelog: invalid table name %q", opts.Table)
	}
	t := pgx.Identifier{opts.Table}.Sanitize()
	l := &PostgresLog{
		pool:         pool,
		table:        opts.Table,
		lockKey:      "pollbus.messagelog." + opts.Table,
		lockSQL:      `SELECT pg_advisory_xact_lock(hashtext($1))`,
		insertSQL:    `INSERT INTO ` + t + ` (channel, payload) VALUES ($1, $2) RETURNING id`,
		sinceIDSQL:   `SELECT id, created_at, channel, payload FROM ` + t + ` WHERE channel = ANY($1) AND id > $2 ORDER BY id`,
		sinceTimeSQL: `SELECT id, created_at, channel, payload FROM ` + t + ` WHERE channel = ANY($1) AND created_at > $2 ORDER BY id`,
		allSQL:       `SELECT id, created_at, channel, payload FROM ` + t + ` WHERE channel = ANY($1) ORDER BY id`,
		collectSQL:   `DELETE FROM ` + t + ` WHERE created_at < $1`,
	}
	if !opts.SkipMigrate {
		if err := l.migrate(ctx); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *PostgresLog) migrate(ctx context.Context) error {
	t := pgx.Identifier{l.table}.Sanitize()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
			id         bigserial PRIMARY KEY,
			created_at timestamptz NOT NULL DEFAULT clock_timestamp(),
			channel    text NOT NULL,
			payload    bytea NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{l.table + "_channel_id_idx"}.Sanitize() + ` ON ` + t + ` (channel, id)`,
		`CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{l.table + "_created_at_idx"}.Sanitize() + ` ON ` + t + ` (created_at)`,
	}
	for _, s := range stmts {
		if _, err := l.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("messagelog: migrate %s: %w", l.table, err)
		}
	}
	return nil
}

func (l *PostgresLog) Append(ctx context.Context, channel string, payload []byte) (uint64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if payload == nil {
		payload = []byte{}
	}
	var id int64
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, l.lockSQL, l.lockKey); err != nil {
			return fmt.Errorf("messagelog: append lock: %w", err)
		}
		return tx.QueryRow(ctx, l.insertSQL, channel, payload).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (l *PostgresLog) QuerySince(ctx context.Context, channels []string, sinceID uint64, sinceTime time.Time) ([]Message, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	channels = dedupe(channels)
	if len(channels) == 0 {
		return nil, nil
	}
	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case sinceID > 0:
		rows, err = l.pool.Query(ctx, l.sinceIDSQL, channels, int64(sinceID))
	case !sinceTime.IsZero():
		rows, err = l.pool.Query(ctx, l.sinceTimeSQL, channels, sinceTime)
	default:
		rows, err = l.pool.Query(ctx, l.allSQL, channels)
	}
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var (
			m  Message
			id int64
		)
		if err := row.Scan(&id, &m.CreatedAt, &m.Channel, &m.Payload); err != nil {
			return Message{}, err
		}
		m.ID = uint64(id)
		return m, nil
	})
}

func (l *PostgresLog) Collect(ctx context.Context, before time.Time) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	tag, err := l.pool.Exec(ctx, l.collectSQL, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (l *PostgresLog) Ping(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.pool.Ping(ctx)
}

// Close releases the pool when it was opened by OpenPostgres.
func (l *PostgresLog) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	if l.ownsPool {
		l.pool.Close()
	}
	return nil
}
