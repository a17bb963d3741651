package config

import (
	"fmt"
	"strings"

	"github.com/shinji-kodama/tunnelctl/internal/model"
	"github.com/shinji-kodama/tunnelctl/internal/provider"
)

// Validate checks every setting and that every listed provider resolves
// to a valid definition.
//
// Returns a model.CLIError with ExitConfigInvalid, or
// ExitProviderNotFound when a listed name matches nothing.
func (c *Config) Validate() error {
	if err := model.ValidatePort(c.Port); err != nil {
		return model.WrapCLIError(model.ExitConfigInvalid, "invalid port", err)
	}
	if c.Timeout < 0 {
		return model.NewCLIError(model.ExitConfigInvalid, "timeout must not be negative")
	}
	if c.PollInterval < 0 {
		return model.NewCLIError(model.ExitConfigInvalid, "poll interval must not be negative")
	}
	if len(c.Providers) == 0 {
		return model.NewCLIError(model.ExitConfigInvalid, "no providers configured")
	}

	seen := make(map[string]bool, len(c.Definitions))
	for _, d := range c.Definitions {
		if err := model.ValidateName(d.Name); err != nil {
			return model.WrapCLIError(model.ExitConfigInvalid, "invalid provider definition", err)
		}
		if seen[d.Name] {
			return model.NewCLIError(model.ExitConfigInvalid,
				fmt.Sprintf("provider %q is defined more than once", d.Name))
		}
		seen[d.Name] = true
	}

	_, err := c.Resolve()
	return err
}

// Resolve turns the provider list into launchable providers, in order.
func (c *Config) Resolve() ([]model.Provider, error) {
	return c.ResolveNames(c.Providers)
}

// ResolveNames resolves the given names instead of the configured list.
func (c *Config) ResolveNames(names []string) ([]model.Provider, error) {
	providers := make([]model.Provider, 0, len(names))
	for _, name := range names {
		p, err := c.resolveOne(name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if err := model.ValidateProviders(providers); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigInvalid, "invalid provider", err)
	}
	return providers, nil
}

// KnownNames lists every name ResolveNames accepts: file definitions
// first, then presets and their docker variants.
func (c *Config) KnownNames() []string {
	var names []string
	seen := make(map[string]bool)
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, d := range c.Definitions {
		add(d.Name)
	}
	for _, n := range provider.PresetNames() {
		add(n)
		add(n + dockerSuffix)
	}
	return names
}

func (c *Config) resolveOne(name string) (model.Provider, error) {
	for _, d := range c.Definitions {
		if d.Name == name {
			return d.toProvider()
		}
	}

	if p, err := provider.Preset(name); err == nil {
		return p, nil
	}
	if base, ok := strings.CutSuffix(name, dockerSuffix); ok {
		if p, err := provider.Preset(base); err == nil {
			p.Name = name
			p.Runtime = model.RuntimeDocker
			return p, nil
		}
	}

	return model.Provider{}, model.NewCLIError(model.ExitProviderNotFound,
		fmt.Sprintf("provider %q not found (known: %s)", name, strings.Join(c.KnownNames(), ", ")))
}

// toProvider converts the definition, starting from its preset when it
// names one.
func (d ProviderDef) toProvider() (model.Provider, error) {
	invalid := func(err error) (model.Provider, error) {
		return model.Provider{}, model.WrapCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("invalid provider definition %q", d.Name), err)
	}

	override := model.Provider{
		Name:        d.Name,
		Command:     d.Command,
		Args:        d.Args,
		Env:         d.Env,
		Image:       d.Image,
		APIURL:      d.APIURL,
		URLPattern:  d.URLPattern,
		CaptureFile: d.CaptureFile,
	}
	if d.Runtime != "" {
		rt, err := model.ParseRuntime(d.Runtime)
		if err != nil {
			return invalid(err)
		}
		override.Runtime = rt
	}
	if d.Strategy != "" {
		st, err := model.ParseStrategy(d.Strategy)
		if err != nil {
			return invalid(err)
		}
		override.Strategy = st
	}
	if d.Timeout != "" {
		t, err := parseDuration("timeout", d.Timeout)
		if err != nil {
			return invalid(err)
		}
		override.Timeout = t
	}

	presetName := d.Preset
	if presetName == "" {
		if _, err := provider.Preset(d.Name); err == nil {
			presetName = d.Name
		}
	}
	if presetName == "" {
		if override.Runtime == "" {
			override.Runtime = model.RuntimeExec
		}
		return override, nil
	}

	base, err := provider.Preset(presetName)
	if err != nil {
		return invalid(err)
	}
	return provider.Merge(base, override), nil
}
