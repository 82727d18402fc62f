package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

// iceSources holds the raw ICE settings. ServersJSON wins over the
// convenience variables when both are set.
type iceSources struct {
	ServersJSON    string
	StunURLs       string
	TurnURLs       string
	TurnUsername   string
	TurnCredential string
}

func (s iceSources) parse(turnRESTEnabled bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(s.ServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, turnRESTEnabled)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServersFromConvenienceEnv(s.StunURLs, s.TurnURLs, s.TurnUsername, s.TurnCredential, turnRESTEnabled)
}

// urlList accepts the RTCIceServer "urls" member as a string or an array.
type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*l = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// ParseICEServersJSON parses and validates AERO_ICE_SERVERS_JSON, a JSON
// array of RTCIceServer dictionaries as handed to browsers.
//
// With turnRESTEnabled, TURN entries may omit credentials; /webrtc/ice fills
// them in per request.
func ParseICEServersJSON(raw string, turnRESTEnabled bool) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       urlList `json:"urls"`
		Username   string  `json:"username,omitempty"`
		Credential string  `json:"credential,omitempty"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, entry := range entries {
		server := newICEServer(splitNonEmpty(entry.URLs), entry.Username, entry.Credential)
		if err := validateICEServer(server, turnRESTEnabled); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// ParseICEServersFromConvenienceEnv builds at most one STUN and one TURN
// entry from comma-separated URL lists.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string, turnRESTEnabled bool) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if urls := splitNonEmpty(strings.Split(stunURLs, ",")); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls}
		if err := validateICEServer(server, turnRESTEnabled); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if urls := splitNonEmpty(strings.Split(turnURLs, ",")); len(urls) > 0 {
		server := newICEServer(urls, turnUsername, turnCredential)
		if !turnRESTEnabled && (server.Username == "" || server.Credential == nil) {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		if err := validateICEServer(server, turnRESTEnabled); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

// newICEServer trims its inputs. An empty credential stays nil so it is
// omitted from JSON.
func newICEServer(urls []string, username, credential string) webrtc.ICEServer {
	server := webrtc.ICEServer{URLs: urls, Username: strings.TrimSpace(username)}
	if credential = strings.TrimSpace(credential); credential != "" {
		server.Credential = credential
	}
	return server
}

func splitNonEmpty(parts []string) []string {
	var out []string
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateICEServer(server webrtc.ICEServer, turnRESTEnabled bool) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	needsCreds := false
	for _, url := range server.URLs {
		switch urlScheme(url) {
		case "stun", "stuns":
		case "turn", "turns":
			needsCreds = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}

	if needsCreds && !turnRESTEnabled {
		if server.Username == "" {
			return errors.New("turn urls require username")
		}
		if cred, _ := server.Credential.(string); cred == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}

// IsTURNURL reports whether url uses the turn: or turns: scheme, ignoring
// case.
func IsTURNURL(url string) bool {
	scheme := urlScheme(url)
	return scheme == "turn" || scheme == "turns"
}

func urlScheme(url string) string {
	scheme, _, found := strings.Cut(strings.TrimSpace(url), ":")
	if !found {
		return ""
	}
	return strings.ToLower(scheme)
}
