package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	goodColor  = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	badColor   = color.New(color.FgRed)
	titleColor = color.New(color.FgCyan, color.Bold)
)

var rootCmd = &cobra.Command{
	Use:   "hub",
	Short: "Credit-metered gateway for image and video generation providers",
	Long: `SynergyHub exposes a single HTTP API in front of several generation
providers. Every request is priced in credits, charged before the provider
is called and refunded when the provider or storage fails.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, quoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
