// Package namespace records which namespaces a Pebble store holds.
package namespace

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	pebblestore "github.com/rzbill/pollbus/internal/storage/pebble"
)

var nameRe = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ErrInvalidName is returned for names outside [a-z0-9_-]{1,64}.
var ErrInvalidName = errors.New("namespace: invalid name")

// Meta is stored once per namespace.
type Meta struct {
	Name        string `json:"name"`
	CreatedAtMs int64  `json:"createdAtMs"`
	// Topic is the notification topic the namespace was first opened with.
	Topic string `json:"topic,omitempty"`
}

func (m Meta) CreatedAt() time.Time { return time.UnixMilli(m.CreatedAtMs) }

var nsMetaPrefix = []byte("nsmeta/")

func nsMetaKey(ns string) []byte {
	k := make([]byte, 0, len(nsMetaPrefix)+len(ns))
	k = append(k, nsMetaPrefix...)
	return append(k, ns...)
}

// Validate reports whether name is usable as a namespace.
func Validate(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Ensure creates the meta record for name if absent and returns the stored
// one. It is idempotent; a corrupt record is rewritten.
func Ensure(db *pebblestore.DB, name, topic string) (Meta, error) {
	if err := Validate(name); err != nil {
		return Meta{}, err
	}
	key := nsMetaKey(name)
	if b, err := db.Get(key); err == nil && len(b) > 0 {
		var m Meta
		if err := json.Unmarshal(b, &m); err == nil {
			return m, nil
		}
	} else if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return Meta{}, err
	}
	m := Meta{Name: name, CreatedAtMs: time.Now().UnixMilli(), Topic: topic}
	b, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	if err := db.Set(key, b); err != nil {
		return Meta{}, err
	}
	return m, nil
}
