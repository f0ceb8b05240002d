package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mikeyg42/camrecorder/internal/config"
	"github.com/mikeyg42/camrecorder/internal/validate"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Print the duration and media type of a chunk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		p, err := newProbeFactory(cfg.Recording.FFprobePath).NewProbe(args[0])
		if err != nil {
			return err
		}
		d, err := p.Duration()
		if err != nil {
			return fmt.Errorf("read duration: %w", err)
		}
		t, err := p.MediaType()
		if err != nil {
			return fmt.Errorf("read media type: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "duration: %s\nmedia:    %s\n", d, t)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := validate.ValidateConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: %d device(s)\n", len(cfg.Devices))
		return nil
	},
}
