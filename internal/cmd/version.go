package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpequegn/qlabbench/internal/resolver"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print service and resolved worker version",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Println("qlabbench", rootCmd.Version)

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	worker, err := resolver.New().Resolve(ctx)
	if err != nil {
		fmt.Println("worker: unavailable -", err)
		return nil
	}
	fmt.Println("worker:", worker.Path, worker.Version)
	return nil
}
