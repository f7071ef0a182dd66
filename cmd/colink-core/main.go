package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/colink-dev/colink-core/internal/corelog"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "colink-core",
	Short:   "colink-core - confederated multi-party compute server",
	Long:    `colink-core hosts a single party's key-value store, task coordination, and protocol operators, and speaks the core-to-core protocol that lets independently operated cores cooperate on a task without a shared database.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("colink-core version %s\ncommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	corelog.Init(corelog.Config{
		Level: corelog.Level(logLevel),
		JSON:  logJSON,
	})
}

// colinkHomeDir resolves the protocol-manifest directory the way
// original_source's run_server resolves its init_state directory:
// $COLINK_HOME if set, else $HOME/.colink.
func colinkHomeDir() string {
	if home := os.Getenv("COLINK_HOME"); home != "" {
		return home
	}
	return os.Getenv("HOME") + "/.colink"
}
