package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
	version    = "dev"
	commit     = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "arunika-device",
	Short: "Voice assistant endpoint for the Arunika session server",
	Long: `arunika-device captures microphone audio, streams it to the session
server over a persistent WebSocket, and plays back the speech it receives.

  arunika-device run --config device.yaml     # boot and run the session engine
  arunika-device check-update                 # ask the update service once
  arunika-device version`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file loaded before the environment overrides")

	rootCmd.AddCommand(runCmd, checkUpdateCmd, versionCmd)
}
