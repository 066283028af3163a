// Package messagelog implements the bus message log: an append-only table of
// (id, created_at, channel, payload) rows with age-based garbage collection.
//
// Two backends share the Log interface:
//
//   - Pebble (single node). Keys are lexicographically ordered:
//     ns/{ns}/bus/m                                (last id, last created_at ms)
//     ns/{ns}/bus/e/{id_be8}                       (record)
//     ns/{ns}/bus/c/{len_be4}{channel}/{id_be8}    (channel index)
//     ns/{ns}/bus/t/{ms_be8}{id_be8}               (time index)
//     Records are stored as: varint headerLen | header | payload | crc32c(header|payload)
//     with header = created_at ms (8B BE) | channel.
//
//   - PostgreSQL through pgxpool, for deployments where several processes
//     share one store.
//
// Usage:
//
//	ml, _ := messagelog.NewPebble(db, messagelog.PebbleOptions{Namespace: "default"})
//	id, _ := ml.Append(ctx, "room1", []byte("hello"))
//	msgs, _ := ml.QuerySince(ctx, []string{"room1"}, 0, time.Now().Add(-50*time.Second))
//	n, _ := ml.Collect(ctx, time.Now().Add(-100*time.Second))
package messagelog
