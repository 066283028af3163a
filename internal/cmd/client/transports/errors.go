package transports

import "errors"

// ErrStop may be returned by a Stream callback to end the stream cleanly.
var ErrStop = errors.New("transports: stop")
