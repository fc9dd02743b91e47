package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// jsonOutput switches command results to JSON.
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "inboundd",
	Short: "inboundd runs inbound protocol listeners in front of a mediation engine",
	Long: `inboundd deploys gRPC, MQTT, WebSocket, Secure WebSocket and HTTP WebSocket
listeners from a configuration file and hands every received message to a
mediation sequence.

Listeners can be paused, resumed, activated and deactivated at runtime through
the control API. On SIGINT or SIGTERM every listener drains its in-flight work
within the global shutdown budget before its transport is released.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}
