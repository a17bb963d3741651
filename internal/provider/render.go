package provider

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shinji-kodama/tunnelctl/internal/model"
	"github.com/shinji-kodama/tunnelctl/internal/process"
)

// templatePattern matches template variables like {{ port }}.
var templatePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Templater replaces {{ variable }} placeholders in provider arguments
// and environment values.
type Templater struct {
	vars map[string]string
}

// NewTemplater creates a templater for the given provider and port. The
// variables available are "port", "name" and "run_id".
func NewTemplater(p model.Provider, localPort int, runID string) *Templater {
	return &Templater{vars: map[string]string{
		"port":   strconv.Itoa(localPort),
		"name":   p.Name,
		"run_id": runID,
	}}
}

// Replace substitutes every known placeholder in s. An unknown variable is
// an error rather than an empty string, so a typo in a config file does
// not launch an agent with a broken argument.
func (t *Templater) Replace(s string) (string, error) {
	var firstErr error
	out := templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := templatePattern.FindStringSubmatch(match)[1]
		value, ok := t.vars[strings.ToLower(name)]
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("template variable %q not defined", name)
			}
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Render builds the launch request for p bound to localPort. The capture
// sink is left for the caller to set.
func Render(p model.Provider, localPort int, runID string) (process.LaunchSpec, error) {
	t := NewTemplater(p, localPort, runID)

	args := make([]string, 0, len(p.Args))
	for _, a := range p.Args {
		rendered, err := t.Replace(a)
		if err != nil {
			return process.LaunchSpec{}, fmt.Errorf("provider %q: argument %q: %w", p.Name, a, err)
		}
		args = append(args, rendered)
	}

	env := make(map[string]string, len(p.Env))
	for k, v := range p.Env {
		rendered, err := t.Replace(v)
		if err != nil {
			return process.LaunchSpec{}, fmt.Errorf("provider %q: env %s: %w", p.Name, k, err)
		}
		env[k] = rendered
	}

	return process.LaunchSpec{
		Provider:  p,
		LocalPort: localPort,
		Args:      args,
		Env:       env,
		RunID:     runID,
	}, nil
}

// CommandLine renders the provider as a single display string, e.g.
// "ngrok http 5001 --log stdout". Unrenderable arguments are shown as-is.
func CommandLine(p model.Provider, localPort int) string {
	t := NewTemplater(p, localPort, "")
	head := p.Command
	if p.Runtime == model.RuntimeDocker {
		head = "docker:" + p.Image
	}
	parts := []string{head}
	for _, a := range p.Args {
		if r, err := t.Replace(a); err == nil {
			a = r
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
