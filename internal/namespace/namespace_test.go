package namespace

import (
	"errors"
	"testing"

	pebblestore "github.com/rzbill/pollbus/internal/storage/pebble"
)

func openDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureIdempotent(t *testing.T) {
	db := openDB(t)
	m1, err := Ensure(db, "default", "imbus")
	if err != nil {
		t.Fatalf("ensure1: %v", err)
	}
	m2, err := Ensure(db, "default", "other")
	if err != nil {
		t.Fatalf("ensure2: %v", err)
	}
	if m1 != m2 {
		t.Fatalf("not idempotent: %+v vs %+v", m1, m2)
	}
	if m2.Topic != "imbus" {
		t.Fatalf("topic should keep the first value, got %q", m2.Topic)
	}
}

func TestEnsureRewritesCorruptRecord(t *testing.T) {
	db := openDB(t)
	if err := db.Set(nsMetaKey("default"), []byte("{not json")); err != nil {
		t.Fatalf("set: %v", err)
	}
	m, err := Ensure(db, "default", "imbus")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if m.Name != "default" || m.CreatedAtMs == 0 {
		t.Fatalf("meta: %+v", m)
	}
}

func TestValidate(t *testing.T) {
	for _, name := range []string{"default", "tenant-1", "a_b"} {
		if err := Validate(name); err != nil {
			t.Fatalf("Validate(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", "Upper", "has space", "slash/name"} {
		if err := Validate(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Validate(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}
