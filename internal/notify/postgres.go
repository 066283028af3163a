package notify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMaxPayload stays under the server's 8000 byte NOTIFY limit.
const PostgresMaxPayload = 7900

// Postgres publishes with pg_notify over a pool and listens on a dedicated
// connection per subscription, since LISTEN state is per session.
type Postgres struct {
	dsn    string
	pool   *pgxpool.Pool
	closed atomic.Bool
}

var _ Transport = (*Postgres)(nil)

// OpenPostgres connects the publish pool. Subscriptions dial dsn on demand.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("notify: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("notify: ping: %w", err)
	}
	return &Postgres{dsn: dsn, pool: pool}, nil
}

func (p *Postgres) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if len(payload) > PostgresMaxPayload {
		return fmt.Errorf("notify: payload too large for NOTIFY (%d > %d)", len(payload), PostgresMaxPayload)
	}
	_, err := p.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, topic, string(payload))
	return err
}

func (p *Postgres) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return nil, fmt.Errorf("notify: listen connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("notify: LISTEN %s: %w", topic, err)
	}
	return &pgSub{parent: p, conn: conn}, nil
}

func (p *Postgres) MaxPayload() int { return PostgresMaxPayload }

// Close releases the publish pool. A pgx.Conn is not safe for concurrent use,
// so open subscriptions are left to their owners: they report ErrClosed from
// the next Next or Ping and must still be closed.
func (p *Postgres) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.pool.Close()
	return nil
}

type pgSub struct {
	parent *Postgres
	conn   *pgx.Conn
	closed atomic.Bool
}

func (s *pgSub) Next(ctx context.Context) ([]byte, error) {
	if s.closed.Load() || s.parent.closed.Load() {
		return nil, ErrClosed
	}
	n, err := s.conn.WaitForNotification(ctx)
	if err != nil {
		if s.closed.Load() || s.parent.closed.Load() {
			return nil, ErrClosed
		}
		return nil, err
	}
	return []byte(n.Payload), nil
}

func (s *pgSub) Ping(ctx context.Context) error {
	if s.closed.Load() || s.parent.closed.Load() {
		return ErrClosed
	}
	if s.conn.IsClosed() {
		return errors.New("notify: listen connection lost")
	}
	return s.conn.Ping(ctx)
}

func (s *pgSub) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close(context.Background())
}
