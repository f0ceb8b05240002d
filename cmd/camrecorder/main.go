// Command camrecorder records camera streams into trigger-filtered archives.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "camrecorder",
	Short:         "Record camera streams into trigger-filtered archives",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CAMREC_CONFIG"), "path to the YAML config file")
	rootCmd.AddCommand(runCmd, probeCmd, checkCmd, sealCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
