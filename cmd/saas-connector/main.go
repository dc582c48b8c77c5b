package main

import (
	"os"

	"github.com/identity-sync/saas-connector/internal/platform/logger"

	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {

	var listenAddr string
	var mgmtAddr string
	var consumeFirstSyncs bool
	var scheduleNow bool

	// rootCmd represents the base command when called without any subcommands
	var rootCmd = &cobra.Command{
		Use: "saas-connector",
	}

	var syncEventConsumerCmd = &cobra.Command{
		Use:   "sync_event_consumer",
		Short: "Sync Event Consumer",
		Run: func(cmd *cobra.Command, args []string) {
			startSyncEventConsumer(mgmtAddr, consumeFirstSyncs)
		},
	}

	var syncSchedulerCmd = &cobra.Command{
		Use:   "sync_scheduler",
		Short: "Sync Scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			startSyncScheduler(mgmtAddr, scheduleNow)
		},
	}

	var apiServerCmd = &cobra.Command{
		Use:   "api_server",
		Short: "Install and management API server",
		Run: func(cmd *cobra.Command, args []string) {
			startApiServer(listenAddr)
		},
	}

	rootCmd.AddCommand(syncEventConsumerCmd)
	syncEventConsumerCmd.Flags().StringVarP(&mgmtAddr, "mgmt-addr", "m", ":9090", "Hostname:port of the management server")
	syncEventConsumerCmd.Flags().BoolVarP(&consumeFirstSyncs, "first-syncs", "f", false, "Consume the first-sync topic instead of the steady-state topic")

	rootCmd.AddCommand(syncSchedulerCmd)
	syncSchedulerCmd.Flags().StringVarP(&mgmtAddr, "mgmt-addr", "m", ":9090", "Hostname:port of the management server")
	syncSchedulerCmd.Flags().BoolVarP(&scheduleNow, "now", "n", false, "Run one scheduling pass immediately on startup")

	rootCmd.AddCommand(apiServerCmd)
	apiServerCmd.Flags().StringVarP(&listenAddr, "listen-addr", "l", ":8080", "Hostname:port")

	return rootCmd
}

func main() {
	logger.InitLogger()

	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
