package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

var (
	errMissingURLs       = errors.New("missing urls")
	errEmptyURL          = errors.New("urls must not contain empty entries")
	errTURNNeedsUsername = errors.New("turn urls require username")
	errTURNNeedsSecret   = errors.New("turn urls require credential")
)

// iceInputs holds the raw ICE settings collected from env and flags.
// AERO_ICE_SERVERS_JSON wins over the convenience variables when both are set.
type iceInputs struct {
	serversJSON    string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string
}

// parse builds the ICE server list handed to browsers by /webrtc/ice. With
// TURN REST enabled the static TURN username and credential are optional
// because they are replaced per request.
func (in iceInputs) parse(turnREST bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(in.serversJSON); raw != "" {
		servers, err := parseICEServersJSON(raw, turnREST)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	servers := []webrtc.ICEServer{}
	if stun := splitList(in.stunURLs); len(stun) > 0 {
		server := webrtc.ICEServer{URLs: stun}
		if err := checkICEServer(server, turnREST); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if turn := splitList(in.turnURLs); len(turn) > 0 {
		username := strings.TrimSpace(in.turnUsername)
		credential := strings.TrimSpace(in.turnCredential)
		if !turnREST && (username == "" || credential == "") {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server := webrtc.ICEServer{URLs: turn, Username: username}
		if credential != "" {
			server.Credential = credential
		}
		if err := checkICEServer(server, turnREST); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// jsonICEServer mirrors the browser RTCIceServer dictionary, where urls may be
// a single string or a list.
type jsonICEServer struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

type urlList []string

func (u *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*u = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New(`"urls" must be a string or an array of strings`)
	}
	*u = many
	return nil
}

func parseICEServersJSON(raw string, turnREST bool) ([]webrtc.ICEServer, error) {
	var in []jsonICEServer
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(in))
	for i, s := range in {
		server := webrtc.ICEServer{
			URLs:     lo.Map(s.URLs, func(u string, _ int) string { return strings.TrimSpace(u) }),
			Username: strings.TrimSpace(s.Username),
		}
		if strings.TrimSpace(s.Credential) != "" {
			server.Credential = s.Credential
		}
		if err := checkICEServer(server, turnREST); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func checkICEServer(server webrtc.ICEServer, turnREST bool) error {
	if len(server.URLs) == 0 {
		return errMissingURLs
	}
	for _, u := range server.URLs {
		if u == "" {
			return errEmptyURL
		}
		if !hasICEScheme(u) {
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}
	if turnREST || !HasTURNURL(server) {
		return nil
	}
	if server.Username == "" {
		return errTURNNeedsUsername
	}
	if cred, _ := server.Credential.(string); strings.TrimSpace(cred) == "" {
		return errTURNNeedsSecret
	}
	return nil
}

// HasTURNURL reports whether any of server's URLs is a turn: or turns: URL.
func HasTURNURL(server webrtc.ICEServer) bool {
	return lo.SomeBy(server.URLs, func(u string) bool {
		u = strings.ToLower(strings.TrimSpace(u))
		return strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:")
	})
}

func hasICEScheme(u string) bool {
	scheme, _, ok := strings.Cut(u, ":")
	if !ok {
		return false
	}
	return lo.Contains([]string{"stun", "stuns", "turn", "turns"}, strings.ToLower(scheme))
}

func splitList(raw string) []string {
	parts := lo.Map(strings.Split(raw, ","), func(p string, _ int) string { return strings.TrimSpace(p) })
	return lo.Compact(parts)
}
