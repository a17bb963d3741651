package port

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/shinji-kodama/tunnelctl/internal/model"
)

// defaultDialTimeout bounds the loopback connect used by IsListening.
const defaultDialTimeout = 500 * time.Millisecond

// Scanner checks the state of local TCP ports.
//
// IsPortAvailable binds the port to see whether it is free. IsListening
// connects to it to see whether something serves it. Both touch only the
// loopback interface and hold nothing afterwards.
type Scanner struct {
	dialTimeout time.Duration
}

// NewScanner creates a new Scanner.
func NewScanner() *Scanner {
	return &Scanner{dialTimeout: defaultDialTimeout}
}

// IsPortAvailable reports whether port can be bound on the loopback
// interface. The listener is closed immediately, so the port stays free
// for the agent that needs it.
func (s *Scanner) IsPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// IsListening reports whether a server accepts connections on port.
func (s *Scanner) IsListening(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), s.dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Warning is a non-fatal preflight finding.
type Warning struct {
	// Code is a stable identifier: "local-port-idle" or "api-port-busy".
	Code string `json:"code"`

	// Provider names the provider the warning concerns. Empty for the
	// local port.
	Provider string `json:"provider,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// Preflight inspects the ports an Expose call depends on. It warns when
// nothing listens on localPort (the tunnel would serve errors) and when
// an api-strategy provider's status port is already bound (a stale agent
// could answer the readiness probe with its own URL).
func (s *Scanner) Preflight(localPort int, providers []model.Provider) []Warning {
	var warnings []Warning

	if !s.IsListening(localPort) {
		warnings = append(warnings, Warning{
			Code:    "local-port-idle",
			Message: fmt.Sprintf("nothing is listening on 127.0.0.1:%d yet; the tunnel will return errors until it is", localPort),
		})
	}

	seen := make(map[int]bool)
	for _, p := range providers {
		if p.Strategy != model.StrategyAPI {
			continue
		}
		apiPort, ok := LoopbackPort(p.EffectiveAPIURL())
		if !ok || seen[apiPort] {
			continue
		}
		seen[apiPort] = true
		if !s.IsPortAvailable(apiPort) {
			warnings = append(warnings, Warning{
				Code:     "api-port-busy",
				Provider: p.Name,
				Message: fmt.Sprintf("port %d is already in use; another %s agent may be running and could report a stale URL",
					apiPort, p.Name),
			})
		}
	}
	return warnings
}

// LoopbackPort extracts the port of a status API URL when the URL points
// at the local machine. Remote URLs report false.
func LoopbackPort(rawURL string) (int, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, false
	}
	host := u.Hostname()
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return 0, false
		}
	}

	portStr := u.Port()
	if portStr == "" {
		switch u.Scheme {
		case "http":
			return 80, true
		case "https":
			return 443, true
		default:
			return 0, false
		}
	}
	p, err := strconv.Atoi(portStr)
	if err != nil || model.ValidatePort(p) != nil {
		return 0, false
	}
	return p, true
}
