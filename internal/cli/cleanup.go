// cleanup.go implements the "tunnelctl cleanup" command.
//
// The cleanup command removes tunnel containers left behind by a run that
// crashed before it could stop its agent. Containers are found through
// the "tunnelctl.managed-by" label, never by name, so containers created
// by anything else are never touched.
//
// By default only stopped containers are removed, since a running one may
// belong to a live "expose". --all includes running containers and
// --run-id limits the cleanup to one orchestration call.

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/tunnelctl/internal/docker"
	"github.com/shinji-kodama/tunnelctl/internal/model"
)

// cleanupFlags holds the flag values for the cleanup command.
type cleanupFlags struct {
	runID  string // --run-id: only containers from this run
	all    bool   // --all: include running containers
	dryRun bool   // --dry-run: list without removing
	force  bool   // --force: skip the confirmation prompt
}

// NewCleanupCommand creates the "cleanup" cobra command.
func NewCleanupCommand() *cobra.Command {
	flags := &cleanupFlags{}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove tunnel containers left behind by crashed runs",
		Long: `Remove Docker containers that tunnelctl started and did not stop.

Only containers labeled by tunnelctl are considered. Running containers
are kept unless --all is given, since they may belong to a live expose.

Unless --force or --dry-run is specified, the command prompts for
confirmation.

Examples:
  tunnelctl cleanup --dry-run
  tunnelctl cleanup --force
  tunnelctl cleanup --all --run-id 3f2a9c4e-...`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.runID, "run-id", "", "Only remove containers from this run")
	cmd.Flags().BoolVar(&flags.all, "all", false, "Also remove running containers")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "List the containers without removing them")
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Remove without confirmation")

	return cmd
}

// containerStore is the part of docker.Client the cleanup needs.
type containerStore interface {
	ListManagedContainers(ctx context.Context) ([]container.Summary, error)
	RemoveContainer(ctx context.Context, containerID string) error
}

// runCleanup connects to Docker and removes the selected containers.
func runCleanup(ctx context.Context, stdin io.Reader, stdout io.Writer, flags *cleanupFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Step 1: Connect to Docker daemon.
	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()
	if err := cli.Ping(ctx); err != nil {
		return err
	}
	VerboseLog("Connected to Docker daemon")

	// Step 2: Find candidate containers.
	targets, err := findLeftovers(ctx, cli, flags.runID, flags.all)
	if err != nil {
		return err
	}
	VerboseLog("Found %d container(s) to clean up", len(targets))

	if len(targets) == 0 || flags.dryRun {
		printCleanupResult(stdout, targets, flags.dryRun)
		return nil
	}

	// Step 3: Confirm unless --force is specified.
	if !flags.force {
		confirmed, err := promptConfirmation(stdin, stdout, targets)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to read user input", err)
		}
		if !confirmed {
			return model.NewCLIError(model.ExitCancelled, "operation cancelled by user")
		}
	}

	// Step 4: Remove.
	if err := removeContainers(ctx, cli, targets); err != nil {
		return err
	}
	printCleanupResult(stdout, targets, false)
	return nil
}

// findLeftovers lists managed containers, keeping stopped ones (or all
// with includeRunning) and, when runID is set, only that run's.
// The result is sorted by creation time.
func findLeftovers(ctx context.Context, store containerStore, runID string, includeRunning bool) ([]docker.TunnelContainer, error) {
	summaries, err := store.ListManagedContainers(ctx)
	if err != nil {
		return nil, err
	}

	targets := make([]docker.TunnelContainer, 0, len(summaries))
	for _, s := range summaries {
		tc := docker.ToTunnelContainer(s)
		if runID != "" && tc.RunID != runID {
			continue
		}
		if !includeRunning && tc.State == "running" {
			VerboseLog("Keeping running container %s", tc.ContainerName)
			continue
		}
		targets = append(targets, tc)
	}

	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].CreatedAt.Before(targets[j].CreatedAt)
	})
	return targets, nil
}

// removeContainers force-removes every target. It stops at the first
// failure.
func removeContainers(ctx context.Context, store containerStore, targets []docker.TunnelContainer) error {
	for _, tc := range targets {
		VerboseLog("Removing container %s (%s)...", tc.ContainerName, tc.ContainerID)
		if err := store.RemoveContainer(ctx, tc.ContainerID); err != nil {
			return model.WrapCLIError(model.ExitGeneralError,
				fmt.Sprintf("failed to remove container %q", tc.ContainerName), err)
		}
	}
	return nil
}

// promptConfirmation lists the targets and reads a y/N answer.
// A closed input counts as "no".
func promptConfirmation(in io.Reader, out io.Writer, targets []docker.TunnelContainer) (bool, error) {
	fmt.Fprintf(out, "About to remove %d tunnel container(s):\n", len(targets))
	for _, tc := range targets {
		fmt.Fprintf(out, "  - %s (%s, %s)\n", tc.ContainerName, tc.Provider, orDash(tc.State))
	}
	fmt.Fprint(out, "\nContinue? [y/N] ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes", nil
	}
	return false, scanner.Err()
}

func printCleanupResult(w io.Writer, targets []docker.TunnelContainer, dryRun bool) {
	if IsJSONOutput() {
		printCleanupResultJSON(w, targets, dryRun)
	} else {
		printCleanupResultText(w, targets, dryRun)
	}
}

func printCleanupResultJSON(w io.Writer, targets []docker.TunnelContainer, dryRun bool) {
	result := struct {
		DryRun     bool                     `json:"dryRun"`
		Containers []docker.TunnelContainer `json:"containers"`
	}{
		DryRun:     dryRun,
		Containers: make([]docker.TunnelContainer, 0, len(targets)),
	}
	result.Containers = append(result.Containers, targets...)

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(w, string(data))
}

// printCleanupResultText prints one line per container:
//
//	CONTAINER                          PROVIDER       PORT   STATE    RUN
//	tunnelctl-ngrok-5001-3f2a9c4e      ngrok          5001   exited   3f2a9c4e
func printCleanupResultText(w io.Writer, targets []docker.TunnelContainer, dryRun bool) {
	if len(targets) == 0 {
		fmt.Fprintln(w, "No leftover tunnel containers found.")
		return
	}

	fmt.Fprintf(w, "%-34s %-14s %-6s %-8s %s\n", "CONTAINER", "PROVIDER", "PORT", "STATE", "RUN")
	for _, tc := range targets {
		port := "-"
		if tc.LocalPort > 0 {
			port = fmt.Sprintf("%d", tc.LocalPort)
		}
		fmt.Fprintf(w, "%-34s %-14s %-6s %-8s %s\n",
			tc.ContainerName, orDash(tc.Provider), port, orDash(tc.State), orDash(shortRunID(tc.RunID)))
	}

	if dryRun {
		fmt.Fprintf(w, "\n%d container(s) would be removed.\n", len(targets))
	} else {
		fmt.Fprintf(w, "\nRemoved %d container(s).\n", len(targets))
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
