package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/splinter-dev/splinter/admin"
	"github.com/splinter-dev/splinter/authz"
	"github.com/splinter-dev/splinter/orchestrator"
	"github.com/splinter-dev/splinter/routing"
	"github.com/splinter-dev/splinter/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the admin service and block until interrupted",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// buildAdminService assembles a single-node AdminService: an in-memory
// store, routing table and orchestrator registry, an allow-all
// authorization stack, and admin.NoopNetwork for peer/protocol traffic
// (spec §1 excludes the transport stack; a real deployment injects a
// live peer manager connector here instead).
func buildAdminService(cfg admin.Config) (*admin.AdminService, error) {
	return admin.NewBuilder().
		WithNodeID(cfg.NodeID).
		WithPublicKeys(cfg.PublicKeys).
		WithCoordinatorTimeout(cfg.CoordinatorTimeout).
		WithCircuitProtocolVersion(cfg.CircuitProtocolVersion).
		WithDefaultHoldPeerSecs(cfg.DefaultHoldPeerSecs).
		WithAdminServiceStore(store.NewMemStore()).
		WithRoutingTableWriter(routing.NewTable()).
		WithServiceOrchestrator(orchestrator.NewRegistry()).
		WithAdminKeyVerifier(authz.AllowAllVerifier{}).
		WithKeyPermissionManager(authz.AllowAllPermissionManager{}).
		WithSignatureVerifier(authz.Secp256k1Verifier{}).
		WithPeerManagerConnector(admin.NoopNetwork{}).
		Build()
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := admin.LoadConfigFile(configFile)
	if err != nil {
		return fmt.Errorf("splinterd run: %w", err)
	}

	service, err := buildAdminService(cfg)
	if err != nil {
		return fmt.Errorf("splinterd run: build admin service: %w", err)
	}
	if err := service.Start(); err != nil {
		return fmt.Errorf("splinterd run: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	fmt.Fprintf(cmd.OutOrStdout(), "splinterd: node %q running, coordinator timeout %s\n", cfg.NodeID, cfg.CoordinatorTimeout)
	<-sigCh

	if err := service.BeginShutdown(); err != nil {
		return fmt.Errorf("splinterd run: %w", err)
	}
	return service.FinishShutdown()
}
