package httpserver

import (
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
)

// withTURNRESTCredentials returns a copy of servers with the per-request TURN
// username and credential set on every entry that has a TURN URL.
func withTURNRESTCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if config.HasTURNURL(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}
