// Package runtime turns a config.Config into a running bus: it opens the
// message log backend (Pebble or PostgreSQL), the notification transport
// (memory, PostgreSQL LISTEN/NOTIFY or libp2p gossip), registers metrics and
// starts the listener.
//
// Example:
//
//	rt, err := runtime.Open(ctx, runtime.Options{Config: config.Default(), Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//	_, _ = rt.Bus().SendOne(ctx, "room1", []byte(`"hello"`))
package runtime
