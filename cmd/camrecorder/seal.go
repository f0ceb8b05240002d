package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mikeyg42/camrecorder/internal/config"
	"github.com/mikeyg42/camrecorder/internal/crypto"
)

var sealCmd = &cobra.Command{
	Use:   "seal [value]",
	Short: "Encrypt a credential for the config file with " + config.MasterKeyEnv,
	Long: "Encrypt a credential for the config file. Without a value a new master key\n" +
		"is printed instead.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			key, err := crypto.NewKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		}
		key := os.Getenv(config.MasterKeyEnv)
		if key == "" {
			return errors.New(config.MasterKeyEnv + " is not set")
		}
		sealed, err := crypto.Seal(args[0], key)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}
