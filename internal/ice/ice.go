// Package ice advertises the STUN/TURN servers clients should use when they
// build their peer connection. The server itself never touches media.
package ice

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
)

// DefaultServers is used when nothing is configured.
var DefaultServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

type serverJSON struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

// urlList accepts either a single URL or a list, as browsers do.
type urlList []string

func (u *urlList) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*u = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*u = many
	return nil
}

// Parse reads an ICE server list. raw is either a JSON array in the
// RTCIceServer shape or a comma-separated list of STUN URLs. An empty value
// yields DefaultServers.
func Parse(raw string) ([]webrtc.ICEServer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultServers, nil
	}

	if strings.HasPrefix(raw, "[") {
		var servers []serverJSON
		if err := json.Unmarshal([]byte(raw), &servers); err != nil {
			return nil, fmt.Errorf("ice: %w", err)
		}

		out := make([]webrtc.ICEServer, 0, len(servers))
		for i, s := range servers {
			srv := webrtc.ICEServer{
				URLs:     lo.Compact(lo.Map(s.URLs, func(u string, _ int) string { return strings.TrimSpace(u) })),
				Username: strings.TrimSpace(s.Username),
			}
			if strings.TrimSpace(s.Credential) != "" {
				srv.Credential = s.Credential
			}
			if err := validate(srv); err != nil {
				return nil, fmt.Errorf("ice: servers[%d]: %w", i, err)
			}
			out = append(out, srv)
		}
		return out, nil
	}

	urls := lo.Compact(lo.Map(strings.Split(raw, ","), func(u string, _ int) string { return strings.TrimSpace(u) }))
	srv := webrtc.ICEServer{URLs: urls}
	if err := validate(srv); err != nil {
		return nil, fmt.Errorf("ice: %w", err)
	}
	return []webrtc.ICEServer{srv}, nil
}

func validate(s webrtc.ICEServer) error {
	if len(s.URLs) == 0 {
		return errors.New("missing urls")
	}

	needsCreds := false
	for _, u := range s.URLs {
		switch {
		case strings.HasPrefix(u, "stun:"), strings.HasPrefix(u, "stuns:"):
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			needsCreds = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}

	if needsCreds {
		cred, _ := s.Credential.(string)
		if s.Username == "" || cred == "" {
			return errors.New("turn urls require username and credential")
		}
	}
	return nil
}

// Handler serves the list as {"iceServers": [...]}.
func Handler(servers []webrtc.ICEServer) http.HandlerFunc {
	body, err := json.Marshal(map[string]interface{}{"iceServers": servers})
	if err != nil {
		log.Printf("[ice] marshal servers: %v", err)
		body = []byte(`{"iceServers":[]}`)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(body)
	}
}
