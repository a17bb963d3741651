// providers.go implements the "tunnelctl providers" command.
//
// The providers command shows each provider in fallback order with its
// runtime, readiness strategy, launch command and whether its agent can
// be launched on this machine. The availability check never starts an
// agent or pulls an image.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/tunnelctl/internal/docker"
	"github.com/shinji-kodama/tunnelctl/internal/model"
	"github.com/shinji-kodama/tunnelctl/internal/process"
	"github.com/shinji-kodama/tunnelctl/internal/provider"
)

// providersFlags holds the flag values for the providers command.
type providersFlags struct {
	all bool // --all: list every known provider, not just the configured order
}

// NewProvidersCommand creates the "providers" cobra command.
func NewProvidersCommand() *cobra.Command {
	flags := &providersFlags{}

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List providers and whether they can be launched",
		Long: `List the configured providers in fallback order.

Each provider is shown with its runtime, readiness strategy, launch
command and availability. Availability only looks for the agent binary
or the local image; nothing is started.

Examples:
  tunnelctl providers
  tunnelctl providers --all
  tunnelctl providers --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runProviders(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.all, "all", false, "List every known provider, including presets not configured")

	return cmd
}

// runProviders resolves the provider list and checks each one.
func runProviders(ctx context.Context, stdout io.Writer, flags *providersFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	names := cfg.Providers
	if flags.all {
		names = cfg.KnownNames()
	}
	providers, err := cfg.ResolveNames(names)
	if err != nil {
		return err
	}

	launchers := map[model.Runtime]process.Launcher{
		model.RuntimeExec: process.NewExecLauncher(),
	}
	var dockerErr error
	if needsDocker(providers) {
		cli, err := docker.NewClient()
		if err != nil {
			dockerErr = err
			VerboseLog("Docker unavailable: %v", err)
		} else {
			defer func() { _ = cli.Close() }()
			launchers[model.RuntimeDocker] = docker.NewContainerLauncher(cli)
		}
	}

	rows := make([]providerRow, 0, len(providers))
	for _, p := range providers {
		rows = append(rows, checkProvider(ctx, p, cfg.Port, launchers, dockerErr))
	}

	printProvidersResult(stdout, rows)
	return nil
}

// providerRow is one line of the providers output.
type providerRow struct {
	Name      string `json:"name"`
	Runtime   string `json:"runtime"`
	Strategy  string `json:"strategy"`
	Command   string `json:"command"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// checkProvider runs the launcher's Available check for p.
func checkProvider(ctx context.Context, p model.Provider, localPort int,
	launchers map[model.Runtime]process.Launcher, dockerErr error) providerRow {
	row := providerRow{
		Name:     p.Name,
		Runtime:  p.Runtime.String(),
		Strategy: p.Strategy.String(),
		Command:  provider.CommandLine(p, localPort),
	}

	l, ok := launchers[p.Runtime]
	switch {
	case !ok && dockerErr != nil:
		row.Reason = dockerErr.Error()
	case !ok:
		row.Reason = fmt.Sprintf("no launcher for runtime %q", p.Runtime)
	default:
		if err := l.Available(ctx, p); err != nil {
			row.Reason = availabilityReason(err)
		} else {
			row.Available = true
		}
	}
	return row
}

// availabilityReason strips the ErrUnavailable prefix, which every
// Available failure carries.
func availabilityReason(err error) string {
	msg := err.Error()
	if errors.Is(err, process.ErrUnavailable) {
		msg = strings.TrimPrefix(msg, process.ErrUnavailable.Error()+": ")
	}
	return msg
}

func printProvidersResult(w io.Writer, rows []providerRow) {
	if IsJSONOutput() {
		printProvidersResultJSON(w, rows)
	} else {
		printProvidersResultText(w, rows)
	}
}

func printProvidersResultJSON(w io.Writer, rows []providerRow) {
	result := struct {
		Providers []providerRow `json:"providers"`
	}{
		Providers: make([]providerRow, 0, len(rows)),
	}
	result.Providers = append(result.Providers, rows...)

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(w, string(data))
}

// printProvidersResultText prints a fixed-width table:
//
//	NAME                 RUNTIME  STRATEGY  AVAILABLE  COMMAND
//	ngrok                exec     api       no         ngrok http 5001 --log stdout
//	cloudflared          exec     log-scan  yes        cloudflared tunnel --url http://localhost:5001
func printProvidersResultText(w io.Writer, rows []providerRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No providers configured.")
		return
	}

	fmt.Fprintf(w, "%-20s %-8s %-9s %-10s %s\n", "NAME", "RUNTIME", "STRATEGY", "AVAILABLE", "COMMAND")
	for _, r := range rows {
		fmt.Fprintf(w, "%-20s %-8s %-9s %-10s %s\n", r.Name, r.Runtime, r.Strategy, yesNo(r.Available), r.Command)
	}

	if !hasReasons(rows) {
		return
	}
	fmt.Fprintln(w)
	for _, r := range rows {
		if r.Reason != "" {
			fmt.Fprintf(w, "%s: %s\n", r.Name, r.Reason)
		}
	}
}

func hasReasons(rows []providerRow) bool {
	for _, r := range rows {
		if r.Reason != "" {
			return true
		}
	}
	return false
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
