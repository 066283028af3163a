// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// snapshots, batches, logger plumbing and minimal metrics hooks. It backs the
// single-node message log.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data/store",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	    Logger:  logger.WithComponent("pebble"),
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(ctx, b)
//	b.Close()
//
//	snap := db.NewSnapshot()
//	defer snap.Close()
package pebblestore
