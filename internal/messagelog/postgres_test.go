package messagelog

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func openTestPostgres(t *testing.T) *PostgresLog {
	t.Helper()
	dsn := os.Getenv("POLLBUS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POLLBUS_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	table := fmt.Sprintf("bus_message_test_%d", time.Now().UnixNano())
	l, err := OpenPostgres(ctx, dsn, PostgresOptions{Table: table})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		_, _ = l.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		_ = l.Close()
	})
	return l
}

func TestPostgresRejectsBadTableName(t *testing.T) {
	if _, err := NewPostgres(context.Background(), nil, PostgresOptions{}); err == nil {
		t.Fatalf("expected nil pool error")
	}
	if tableNameRe.MatchString("bus; drop table x") {
		t.Fatalf("table regexp accepted injection")
	}
}

func TestPostgresAppendQueryCollect(t *testing.T) {
	l := openTestPostgres(t)
	ctx := context.Background()

	first, err := l.Append(ctx, "room1", []byte("hello"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Append(ctx, "room2", []byte("other")); err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := l.Append(ctx, "room1", []byte("world"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := l.QuerySince(ctx, []string{"room1"}, first, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != second || string(got[0].Payload) != "world" {
		t.Fatalf("unexpected rows: %+v", got)
	}

	got, err = l.QuerySince(ctx, []string{"room1", "room2"}, 0, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 rows in window, got %d", len(got))
	}

	n, err := l.Collect(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if n != 3 {
		t.Fatalf("collected %d want 3", n)
	}
}

func TestPostgresAppendWaitsForEarlierAppend(t *testing.T) {
	l := openTestPostgres(t)
	ctx := context.Background()

	// Stand in for an append that has drawn its id but not committed yet.
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, l.lockSQL, l.lockKey); err != nil {
		t.Fatalf("lock: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := l.Append(ctx, "room1", []byte("late"))
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("append finished while an earlier append held the lock: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("append still blocked after the lock was released")
	}
}

func TestPostgresConcurrentAppendsAreContiguous(t *testing.T) {
	l := openTestPostgres(t)
	ctx := context.Background()

	const writers, each = 4, 25
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		go func() {
			for i := 0; i < each; i++ {
				if _, err := l.Append(ctx, "feed", []byte("m")); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}()
	}

	var seen []uint64
	var cursor uint64
	deadline := time.Now().Add(10 * time.Second)
	for len(seen) < writers*each {
		if time.Now().After(deadline) {
			t.Fatalf("saw %d of %d rows", len(seen), writers*each)
		}
		rows, err := l.QuerySince(ctx, []string{"feed"}, cursor, time.Time{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for _, m := range rows {
			if len(seen) > 0 && m.ID != seen[len(seen)-1]+1 {
				t.Fatalf("id %d follows %d", m.ID, seen[len(seen)-1])
			}
			seen = append(seen, m.ID)
		}
		cursor = MaxID(rows, cursor)
	}
	for w := 0; w < writers; w++ {
		if err := <-errs; err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}
