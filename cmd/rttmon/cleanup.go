package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethpandaops/rttmon/pkg/docker"
	"github.com/spf13/cobra"
)

var forceCleanup bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove dangling probe bridge containers",
	Long: `Remove all bridge containers created by rttmon with the docker runtime.
This is useful for cleaning up after a run was killed before it could stop
its bridge container.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVarP(&forceCleanup, "force", "f", false, "Skip confirmation prompt")
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	mgr, err := docker.NewManager(log)
	if err != nil {
		return err
	}

	if err := mgr.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := mgr.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close docker client")
		}
	}()

	return performCleanup(ctx, mgr, forceCleanup, os.Stdin, os.Stdout)
}

// performCleanup lists rttmon containers, asks for confirmation unless force
// is set and removes them.
func performCleanup(
	ctx context.Context,
	mgr docker.Manager,
	force bool,
	in io.Reader,
	out io.Writer,
) error {
	containers, err := mgr.ListContainers(ctx)
	if err != nil {
		return err
	}

	if len(containers) == 0 {
		log.Info("No rttmon containers found")

		return nil
	}

	fmt.Fprintf(out, "\nContainers to be removed (%d):\n", len(containers))

	for _, c := range containers {
		fmt.Fprintf(out, "  - %s (%s)\n", c.Name, shortContainerID(c.ID))
	}

	fmt.Fprintln(out)

	if !force {
		fmt.Fprint(out, "Are you sure you want to remove these containers? [y/N] ")

		response, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading response: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			log.Info("Cleanup cancelled")

			return nil
		}
	}

	var failed int

	for _, c := range containers {
		log.WithField("container", c.Name).Info("Removing container")

		if err := mgr.RemoveContainer(ctx, c.ID); err != nil {
			failed++

			log.WithError(err).WithField("container", c.Name).Warn("Failed to remove container")
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to remove %d of %d containers", failed, len(containers))
	}

	log.WithField("count", len(containers)).Info("Cleanup completed")

	return nil
}

func shortContainerID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}

	return id
}
