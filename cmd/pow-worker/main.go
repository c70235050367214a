// Command pow-worker is the per-device process ParallelController.Start
// spawns (spec.md §4.4, §5): one process per GPU, connecting to the
// queues and phase broadcast a pow-node control process has already
// bound, then looping generate/validate until Phase=STOP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	gonkalog "github.com/gonka-ai/gonka/internal/log"

	"github.com/gonka-ai/gonka/internal/config"
	"github.com/gonka-ai/gonka/internal/ipc"
	"github.com/gonka-ai/gonka/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "pow-worker",
	Short: "Run one device's share of a proof-of-work session",
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to a ParallelController's queues and dispatch generate/validate work",
		RunE:  runWorker,
	}

	cmd.Flags().Int("device-id", 0, "this worker's device index")
	cmd.Flags().Int("n-devices", 1, "total devices in this node's fleet")
	cmd.Flags().Int("node-id", 0, "this node's index among peer nodes")
	cmd.Flags().Int("n-nodes", 1, "total peer nodes sharing the nonce space")
	cmd.Flags().String("session", "", "JSON-encoded config.Session")
	cmd.Flags().String("generated", "", "generated queue endpoint")
	cmd.Flags().String("validated", "", "validated queue endpoint")
	cmd.Flags().String("to-validate", "", "to_validate queue endpoint")
	cmd.Flags().String("phase", "", "phase PUB endpoint")
	cmd.Flags().String("ready", "", "ready PUSH/PULL endpoint")
	cmd.Flags().String("log-level", "info", "log level")

	for _, name := range []string{"session", "generated", "validated", "to-validate", "phase", "ready"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	deviceID, _ := flags.GetInt("device-id")
	nDevices, _ := flags.GetInt("n-devices")
	nodeID, _ := flags.GetInt("node-id")
	nNodes, _ := flags.GetInt("n-nodes")
	sessionJSON, _ := flags.GetString("session")
	generated, _ := flags.GetString("generated")
	validated, _ := flags.GetString("validated")
	toValidate, _ := flags.GetString("to-validate")
	phaseEndpoint, _ := flags.GetString("phase")
	ready, _ := flags.GetString("ready")
	logLevel, _ := flags.GetString("log-level")

	var session config.Session
	if err := json.Unmarshal([]byte(sessionJSON), &session); err != nil {
		return fmt.Errorf("decode --session: %w", err)
	}

	logger := gonkalog.New(fmt.Sprintf("pow-worker-%d", deviceID), logLevel)

	endpoints := ipc.Endpoints{
		Generated:  generated,
		Validated:  validated,
		ToValidate: toValidate,
		PhasePub:   phaseEndpoint,
		Ready:      ready,
	}

	w, err := worker.New(worker.Config{
		DeviceID: deviceID,
		NDevices: nDevices,
		NodeID:   nodeID,
		NNodes:   nNodes,
		Session:  session,
		Log:      logger,
	}, endpoints)
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}
	defer w.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return w.Run(ctx)
}

func main() {
	rootCmd.AddCommand(runCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
