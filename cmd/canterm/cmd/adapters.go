package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roffe/canterm"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List available transport adapters",
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range canterm.ListAdapters() {
			fmt.Println(a.String())
		}
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
