package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jpequegn/qlabbench/internal/diskinfo"
)

var disksCmd = &cobra.Command{
	Use:   "disks",
	Short: "List mounted volumes and whether they are suitable test targets",
	Args:  cobra.NoArgs,
	RunE:  runDisks,
}

func init() {
	rootCmd.AddCommand(disksCmd)
}

func runDisks(cmd *cobra.Command, args []string) error {
	disks, err := diskinfo.List()
	if err != nil {
		return err
	}
	return printJSON(disks)
}
