// Package signaling is the WebSocket transport of the relay.
//
// Server accepts browser connections on GET /signal, assigns each one an id
// and feeds decoded frames to a Handler. Hub tracks live connections and
// delivers outbound frames through a bounded per-connection queue, so the
// relay never blocks on a slow peer.
package signaling
