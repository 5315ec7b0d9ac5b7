package relay

import "errors"

// ErrUnknownConnection is returned by a Transport when the target connection
// is not live. The relay treats it as a silent drop.
var ErrUnknownConnection = errors.New("relay: unknown connection")
