package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kmsync/kmsync/pkg/config"
	"github.com/kmsync/kmsync/pkg/kmetrics"
	"github.com/kmsync/kmsync/pkg/session"
)

var (
	managedRoot string
	configPath  string

	rootCmd = &cobra.Command{
		Use:   "kmsync",
		Short: "Checkpoint and download integrity engine for managed mod directories",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&managedRoot, "root", ".", "managed root directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a .jsonnet configuration document")

	rootCmd.AddCommand(
		startSessionCmd,
		createCheckpointCmd,
		restoreCmd,
		listSessionsCmd,
		listCheckpointsCmd,
		validateCheckpointCmd,
		validateSessionCmd,
		gcCmd,
		completeSessionCmd,
		deleteSessionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openManager builds a session.Manager over --root, taking the
// process-exclusive lock so only one kmsync invocation can mutate
// .kmsync/ at a time.
func openManager() (*session.Manager, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	metrics := kmetrics.NewUnregisteredRegistry()
	m, err := session.Open(managedRoot, cfg, metrics, logger)
	if err != nil {
		return nil, nil, err
	}
	lock, err := m.Lock()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = lock.Unlock()
		_ = logger.Sync()
	}
	return m, cleanup, nil
}
