// expose.go implements the "tunnelctl expose" command.
//
// Orchestration steps:
//  1. Load and validate the layered configuration
//  2. Resolve the provider list in fallback order
//  3. Run preflight port checks (unless --no-preflight)
//  4. Try providers in order until one reports a public URL
//  5. Print the URL (text or JSON)
//  6. Hold the tunnel until a signal arrives or the agent exits

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shinji-kodama/tunnelctl/internal/config"
	"github.com/shinji-kodama/tunnelctl/internal/docker"
	"github.com/shinji-kodama/tunnelctl/internal/metrics"
	"github.com/shinji-kodama/tunnelctl/internal/model"
	"github.com/shinji-kodama/tunnelctl/internal/orchestrator"
	"github.com/shinji-kodama/tunnelctl/internal/port"
)

// metricsShutdownTimeout bounds the graceful stop of the metrics server.
const metricsShutdownTimeout = 2 * time.Second

// errInterrupted is returned by the signal actor when SIGINT or SIGTERM
// arrives.
var errInterrupted = errors.New("interrupted")

// exposeFlags holds the flag values for the expose command.
type exposeFlags struct {
	port         int           // --port: local port to expose
	timeout      time.Duration // --timeout: per-provider readiness window
	pollInterval time.Duration // --poll-interval: pause between probes
	providers    []string      // --providers: fallback order
	metricsAddr  string        // --metrics-addr: serve Prometheus metrics
	noPreflight  bool          // --no-preflight: skip port checks
}

// NewExposeCommand creates the "expose" cobra command.
func NewExposeCommand() *cobra.Command {
	flags := &exposeFlags{}

	cmd := &cobra.Command{
		Use:   "expose",
		Short: "Expose the local port and print the public URL",
		Long: `Expose a local port through the first provider that comes up.

Providers are tried one at a time, in order. A provider whose agent is
not installed is skipped without launching anything. A provider that
does not report a public URL within its timeout is stopped before the
next one starts.

Once a URL is printed the tunnel is held open until Ctrl+C, SIGTERM, or
the agent exits.

Examples:
  tunnelctl expose
  tunnelctl expose --port 8080 --providers cloudflared,localtunnel
  tunnelctl expose --timeout 45s --json
  tunnelctl expose --providers ngrok-docker --metrics-addr 127.0.0.1:9464`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpose(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), flags)
		},
	}

	cmd.Flags().IntVarP(&flags.port, "port", "p", 0,
		fmt.Sprintf("Local port to expose (default: %d)", config.DefaultPort))
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0,
		fmt.Sprintf("Readiness timeout per provider (default: %s)", config.DefaultTimeout))
	cmd.Flags().DurationVar(&flags.pollInterval, "poll-interval", 0,
		fmt.Sprintf("Pause between readiness probes (default: %s)", config.DefaultPollInterval))
	cmd.Flags().StringSliceVar(&flags.providers, "providers", nil,
		"Providers to try, in order (default: ngrok,cloudflared)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while running")
	cmd.Flags().BoolVar(&flags.noPreflight, "no-preflight", false, "Skip local port checks")

	return cmd
}

// runExpose wires the orchestrator and runs it inside a run.Group next
// to the signal handler and the optional metrics server.
func runExpose(ctx context.Context, stdout, stderr io.Writer, flags *exposeFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Step 1: Load configuration and apply flag overrides.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Apply(config.Overrides{
		Port:         flags.port,
		Timeout:      flags.timeout,
		PollInterval: flags.pollInterval,
		Providers:    flags.providers,
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Step 2: Resolve providers in fallback order.
	providers, err := cfg.Resolve()
	if err != nil {
		return err
	}
	VerboseLog("Providers: %v, local port %d, timeout %s", cfg.Providers, cfg.Port, cfg.Timeout)

	// Step 3: Preflight port checks. Findings are warnings only.
	var warnings []port.Warning
	if !flags.noPreflight {
		warnings = port.NewScanner().Preflight(cfg.Port, providers)
		if !IsJSONOutput() {
			printWarnings(stderr, warnings)
		}
	}

	m := metrics.New()
	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithPollInterval(cfg.PollInterval),
		orchestrator.WithRecorder(m),
	}

	// The docker launcher is only wired when a provider needs it. Without
	// it, docker providers are recorded as unavailable and skipped.
	if needsDocker(providers) {
		cli, err := docker.NewClient()
		if err != nil {
			logger.Warn("docker client unavailable; docker providers will be skipped", zap.Error(err))
		} else {
			defer func() { _ = cli.Close() }()
			opts = append(opts, orchestrator.WithLauncher(model.RuntimeDocker, docker.NewContainerLauncher(cli)))
		}
	}

	e := &exposer{
		orch:      orchestrator.New(opts...),
		localPort: cfg.Port,
		timeout:   cfg.Timeout,
		providers: providers,
		warnings:  warnings,
		stdout:    stdout,
		stderr:    stderr,
		log:       logger,
	}

	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)

		g.Add(func() error {
			select {
			case s := <-sig:
				logger.Info("received signal, shutting down", zap.String("signal", s.String()))
				return errInterrupted
			case <-ctx.Done():
				return ctx.Err()
			}
		}, func(error) {
			cancel()
		})
	}
	if flags.metricsAddr != "" {
		ln, err := net.Listen("tcp", flags.metricsAddr)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError,
				fmt.Sprintf("failed to listen on %s", flags.metricsAddr), err)
		}
		srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		VerboseLog("Serving metrics on http://%s/metrics", ln.Addr())

		g.Add(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return model.WrapCLIError(model.ExitGeneralError, "metrics server failed", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	var result error
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			result = e.exposeAndHold(ctx)
			return result
		}, func(error) {
			cancel()
		})
	}

	if err := g.Run(); err != nil && !errors.Is(err, errInterrupted) && result == nil {
		return err
	}
	return result
}

// exposer runs one expose call and holds the resulting tunnel.
type exposer struct {
	orch      *orchestrator.Orchestrator
	localPort int
	timeout   time.Duration
	providers []model.Provider
	warnings  []port.Warning
	stdout    io.Writer
	stderr    io.Writer
	log       *zap.Logger
}

// exposeAndHold runs the fallback chain, prints the result, and blocks
// until ctx ends or the agent exits. A tunnel closed by ctx is a clean
// exit; an agent that dies on its own is an error.
func (e *exposer) exposeAndHold(ctx context.Context) error {
	outcome := e.orch.Expose(ctx, e.localPort, e.providers, e.timeout)
	if !outcome.Ready() {
		return e.failure(outcome)
	}

	tun := outcome.Tunnel
	defer func() {
		if err := tun.Close(); err != nil {
			e.log.Warn("failed to stop tunnel agent", zap.String("provider", tun.Provider()), zap.Error(err))
		}
	}()

	printExposeResult(e.stdout, outcome, e.localPort, e.warnings)
	if !IsJSONOutput() {
		fmt.Fprintf(e.stderr, "Tunnel ready via %s (local port %d). Press Ctrl+C to stop.\n",
			tun.Provider(), e.localPort)
	}

	return holdTunnel(ctx, tun)
}

// failure converts a failed outcome into a CLIError.
func (e *exposer) failure(outcome *orchestrator.Outcome) error {
	err := outcome.Err()
	if outcome.Cancelled() {
		return model.WrapCLIError(model.ExitCancelled, "cancelled", err)
	}
	if !IsJSONOutput() {
		printAttempts(e.stderr, outcome.Attempts)
	}
	return model.WrapCLIError(model.ExitNoTunnel, "no tunnel established", err)
}

// heldTunnel is the part of orchestrator.Tunnel that holdTunnel needs.
type heldTunnel interface {
	Wait(ctx context.Context) error
	Provider() string
}

// holdTunnel blocks until ctx ends (nil) or the agent exits on its own
// (ExitNoTunnel).
func holdTunnel(ctx context.Context, tun heldTunnel) error {
	err := tun.Wait(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = errors.New("agent exited")
	}
	return model.WrapCLIError(model.ExitNoTunnel,
		fmt.Sprintf("tunnel agent %s stopped", tun.Provider()), err)
}

func needsDocker(providers []model.Provider) bool {
	for _, p := range providers {
		if p.Runtime == model.RuntimeDocker {
			return true
		}
	}
	return false
}

// exposeResultJSON is the JSON output of a successful expose.
type exposeResultJSON struct {
	RunID     string          `json:"runId"`
	PublicURL string          `json:"publicUrl"`
	Provider  string          `json:"provider"`
	LocalPort int             `json:"localPort"`
	Attempts  []model.Attempt `json:"attempts"`
	Warnings  []port.Warning  `json:"warnings"`
}

// printExposeResult prints the public URL. Text mode prints the bare URL
// so that it can be captured by scripts.
func printExposeResult(w io.Writer, outcome *orchestrator.Outcome, localPort int, warnings []port.Warning) {
	if !IsJSONOutput() {
		fmt.Fprintln(w, outcome.Tunnel.URL())
		return
	}

	result := exposeResultJSON{
		RunID:     outcome.RunID,
		PublicURL: outcome.Tunnel.URL(),
		Provider:  outcome.Tunnel.Provider(),
		LocalPort: localPort,
		Attempts:  outcome.Attempts,
		Warnings:  make([]port.Warning, 0, len(warnings)),
	}
	result.Warnings = append(result.Warnings, warnings...)

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(w, string(data))
}

// printWarnings writes preflight warnings as "Warning: ..." lines.
func printWarnings(w io.Writer, warnings []port.Warning) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "Warning: %s\n", warn.Message)
	}
}

// printAttempts writes one line per attempt:
//
//	PROVIDER             STATE          DETAIL
//	ngrok                unavailable    ngrok not found in PATH
//	cloudflared          timed_out      no public URL within 30s
func printAttempts(w io.Writer, attempts []model.Attempt) {
	if len(attempts) == 0 {
		return
	}
	fmt.Fprintf(w, "%-20s %-14s %s\n", "PROVIDER", "STATE", "DETAIL")
	for _, a := range attempts {
		detail := a.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%-20s %-14s %s\n", a.Provider, a.State, detail)
	}
}
