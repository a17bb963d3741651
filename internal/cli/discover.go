// discover.go implements the "tunnelctl discover" command.
//
// discover runs a single readiness probe against an agent that is already
// running, without launching anything. The probe target is either a
// status API URL or a log file, taken from flags or from a provider
// definition.

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/tunnelctl/internal/model"
	"github.com/shinji-kodama/tunnelctl/internal/readiness"
)

// defaultDiscoverTimeout bounds the single probe.
const defaultDiscoverTimeout = 5 * time.Second

// discoverFlags holds the flag values for the discover command.
type discoverFlags struct {
	provider string        // --provider: take strategy, URL and pattern from a provider
	apiURL   string        // --api-url: status endpoint to query
	logFile  string        // --log-file: agent output to scan
	pattern  string        // --pattern: URL pattern for --log-file
	timeout  time.Duration // --timeout: probe deadline
}

// NewDiscoverCommand creates the "discover" cobra command.
func NewDiscoverCommand() *cobra.Command {
	flags := &discoverFlags{}

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Read the public URL of an agent that is already running",
		Long: `Probe a running tunnel agent once and print its public URL.

Nothing is launched or stopped. With --provider, the probe uses that
provider's status URL or log pattern; --api-url, --log-file and --pattern
override it.

Examples:
  tunnelctl discover --provider ngrok
  tunnelctl discover --api-url http://127.0.0.1:4041/api/tunnels
  tunnelctl discover --provider cloudflared --log-file /tmp/cloudflared.log
  tunnelctl discover --log-file agent.log --pattern 'url: (https://\S+)'`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.provider, "provider", "", "Provider whose settings to use")
	cmd.Flags().StringVar(&flags.apiURL, "api-url", "", "Agent status API URL")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "Agent log file to scan")
	cmd.Flags().StringVar(&flags.pattern, "pattern", "", "URL regular expression for --log-file")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", defaultDiscoverTimeout, "Probe timeout")

	return cmd
}

// runDiscover builds the probe target and runs one detection.
func runDiscover(ctx context.Context, stdout io.Writer, flags *discoverFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p, logPath, err := discoverTarget(flags)
	if err != nil {
		return err
	}
	VerboseLog("Probing %s with strategy %s", p.Name, p.Strategy)

	det, err := readiness.ForProvider(p)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigInvalid, "invalid probe settings", err)
	}

	var src readiness.Snapshot
	if p.Strategy == model.StrategyLogScan {
		data, err := os.ReadFile(logPath)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to read log file", err)
		}
		src = readiness.Snapshot(data)
	}

	ctx, cancel := context.WithTimeout(ctx, flags.timeout)
	defer cancel()

	url, err := det.Detect(ctx, src)
	if err != nil {
		return model.WrapCLIError(model.ExitNoTunnel, "probe failed", err)
	}
	if url == "" {
		return model.NewCLIError(model.ExitNoTunnel, fmt.Sprintf("%s reports no public URL yet", p.Name))
	}

	printDiscoverResult(stdout, p, url)
	return nil
}

// discoverTarget turns the flags into a provider carrying the readiness
// settings, plus the log path for log scanning. --log-file selects log
// scanning and --api-url the status API; otherwise the provider's own
// strategy is used, reading its capture file when it scans logs.
func discoverTarget(flags *discoverFlags) (model.Provider, string, error) {
	invalid := func(msg string) (model.Provider, string, error) {
		return model.Provider{}, "", model.NewCLIError(model.ExitConfigInvalid, msg)
	}
	p := model.Provider{Name: "agent"}

	if flags.provider != "" {
		cfg, err := loadConfig()
		if err != nil {
			return model.Provider{}, "", err
		}
		resolved, err := cfg.ResolveNames([]string{flags.provider})
		if err != nil {
			return model.Provider{}, "", err
		}
		p = resolved[0]
	}

	logPath := ""
	switch {
	case flags.logFile != "":
		p.Strategy = model.StrategyLogScan
		logPath = flags.logFile
	case flags.apiURL != "":
		p.Strategy = model.StrategyAPI
		p.APIURL = flags.apiURL
	case flags.provider == "":
		return invalid("one of --provider, --api-url or --log-file is required")
	case p.Strategy == model.StrategyLogScan:
		if p.CaptureFile == "" {
			return invalid(fmt.Sprintf("%s scans agent output; pass its log with --log-file", p.Name))
		}
		logPath = p.CaptureFile
	}

	if p.Strategy == model.StrategyLogScan {
		if flags.pattern != "" {
			p.URLPattern = flags.pattern
		}
		if p.URLPattern == "" {
			return invalid("log scanning needs --pattern or a --provider with a URL pattern")
		}
	}
	return p, logPath, nil
}

func printDiscoverResult(w io.Writer, p model.Provider, url string) {
	if !IsJSONOutput() {
		fmt.Fprintln(w, url)
		return
	}

	result := struct {
		Provider  string `json:"provider"`
		Strategy  string `json:"strategy"`
		PublicURL string `json:"publicUrl"`
	}{
		Provider:  p.Name,
		Strategy:  p.Strategy.String(),
		PublicURL: url,
	}
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(w, string(data))
}
