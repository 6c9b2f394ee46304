package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roffe/canterm/pkg/config"
)

// presetsCmd lists the configured presets without connecting.
var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List configured presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		for i := 1; i <= config.NumPresets; i++ {
			p, err := cfg.Preset(i)
			if err != nil {
				return err
			}
			data := p.Data
			if data == "" {
				data = "(empty)"
			}
			line := fmt.Sprintf("%2d  %-20s %-4s %s", i, p.Name, p.Format, data)
			if p.CANID != "" {
				line += fmt.Sprintf("  -> %s", p.CANID)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}
