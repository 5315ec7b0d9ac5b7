// Package relay implements the signaling event handlers: room join and leave,
// unicast forwarding of offers, answers and ICE candidates, and room broadcast
// of peer state and chat messages.
//
// The relay never inspects SDP, candidate or chat content. It only routes.
package relay
