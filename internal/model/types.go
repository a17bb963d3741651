package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Runtime selects how a provider's agent is launched.
type Runtime string

const (
	// RuntimeExec runs the agent binary as a child process of tunnelctl.
	RuntimeExec Runtime = "exec"

	// RuntimeDocker runs the agent image as a container in host-network mode.
	RuntimeDocker Runtime = "docker"
)

// String returns the string representation of Runtime.
func (r Runtime) String() string {
	return string(r)
}

// IsValid checks whether the Runtime value is one of the predefined runtimes.
func (r Runtime) IsValid() bool {
	switch r {
	case RuntimeExec, RuntimeDocker:
		return true
	default:
		return false
	}
}

// ParseRuntime converts a string to a Runtime. An empty string maps to
// RuntimeExec.
func ParseRuntime(s string) (Runtime, error) {
	if s == "" {
		return RuntimeExec, nil
	}
	r := Runtime(strings.ToLower(s))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid runtime: %q (valid: exec, docker)", s)
	}
	return r, nil
}

// Strategy is the readiness-detection method used for a provider.
//
//   - StrategyAPI polls a local HTTP status endpoint exposed by the agent
//     and reads the public URL from the first tunnel record.
//   - StrategyLogScan re-scans the agent's captured output on every tick
//     and returns the first URL that matches the provider's pattern.
type Strategy string

const (
	StrategyAPI     Strategy = "api"
	StrategyLogScan Strategy = "log-scan"
)

// String returns the string representation of Strategy.
func (s Strategy) String() string {
	return string(s)
}

// IsValid checks whether the Strategy value is one of the predefined strategies.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyAPI, StrategyLogScan:
		return true
	default:
		return false
	}
}

// ParseStrategy converts a string to a Strategy. "logscan" and "log"
// are accepted as aliases of "log-scan".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "api":
		return StrategyAPI, nil
	case "log-scan", "logscan", "log":
		return StrategyLogScan, nil
	default:
		return "", fmt.Errorf("invalid strategy: %q (valid: api, log-scan)", s)
	}
}

// DefaultAPIURL is the loopback status endpoint polled by the API strategy
// when a provider does not name its own.
const DefaultAPIURL = "http://127.0.0.1:4040/api/tunnels"

// Provider is a named tunneling backend. It carries everything needed to
// check availability, launch the agent for a local port, and detect
// readiness.
type Provider struct {
	// Name identifies the provider in output and logs. Unique within a
	// provider list.
	Name string `json:"name" yaml:"name"`

	// Runtime selects the launcher (exec or docker).
	Runtime Runtime `json:"runtime" yaml:"runtime"`

	// Command is the agent executable name or path (exec runtime).
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Args are the launch arguments. "{{ port }}" and "{{ name }}" are
	// replaced before launch.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env holds extra environment variables for the agent. Values are
	// templated like Args.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Image is the container image for the docker runtime. The image must
	// already be present locally; it is never pulled implicitly.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	// Strategy selects the readiness detector.
	Strategy Strategy `json:"strategy" yaml:"strategy"`

	// APIURL is the status endpoint for StrategyAPI.
	APIURL string `json:"apiUrl,omitempty" yaml:"api_url,omitempty"`

	// URLPattern is the regular expression for StrategyLogScan. When it
	// has a capture group, the first group is the URL.
	URLPattern string `json:"urlPattern,omitempty" yaml:"url_pattern,omitempty"`

	// Timeout is the provider's own readiness window. Zero defers to the
	// orchestration call.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"-"`

	// CaptureFile, when set, receives a copy of the agent's output.
	CaptureFile string `json:"captureFile,omitempty" yaml:"capture_file,omitempty"`
}

// nameRegex validates provider names: alphanumeric, hyphens and
// underscores, starting with an alphanumeric character.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateName checks if the given name is a valid provider name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("provider name must not be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid provider name %q: must contain only alphanumeric characters, hyphens and underscores", name)
	}
	return nil
}

// Validate checks the provider definition for consistency. It does not
// touch the filesystem or the network.
func (p *Provider) Validate() error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	if !p.Runtime.IsValid() {
		return fmt.Errorf("provider %q: invalid runtime %q", p.Name, p.Runtime)
	}
	if !p.Strategy.IsValid() {
		return fmt.Errorf("provider %q: invalid strategy %q", p.Name, p.Strategy)
	}
	switch p.Runtime {
	case RuntimeExec:
		if p.Command == "" {
			return fmt.Errorf("provider %q: command must not be empty for the exec runtime", p.Name)
		}
	case RuntimeDocker:
		if p.Image == "" {
			return fmt.Errorf("provider %q: image must not be empty for the docker runtime", p.Name)
		}
	}
	if p.Strategy == StrategyLogScan && p.URLPattern != "" {
		if _, err := regexp.Compile(p.URLPattern); err != nil {
			return fmt.Errorf("provider %q: invalid url pattern: %w", p.Name, err)
		}
	}
	if p.Timeout < 0 {
		return fmt.Errorf("provider %q: timeout must not be negative", p.Name)
	}
	return nil
}

// EffectiveAPIURL returns the API status endpoint, falling back to
// DefaultAPIURL.
func (p *Provider) EffectiveAPIURL() string {
	if p.APIURL != "" {
		return p.APIURL
	}
	return DefaultAPIURL
}

// ValidateProviders checks every provider and enforces unique names.
func ValidateProviders(providers []Provider) error {
	seen := make(map[string]struct{}, len(providers))
	for i := range providers {
		if err := providers[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[providers[i].Name]; dup {
			return fmt.Errorf("provider %q is listed more than once", providers[i].Name)
		}
		seen[providers[i].Name] = struct{}{}
	}
	return nil
}

// ValidatePort checks that a local port is in the TCP range.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("local port %d out of range (1-65535)", port)
	}
	return nil
}
