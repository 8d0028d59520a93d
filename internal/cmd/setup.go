package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpequegn/qlabbench/internal/resolver"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Report worker installation status and hint",
	Long: `setup never installs or compiles the worker itself. It only
resolves whether a usable fio binary is already present and, if not,
prints the resolver's installation hint.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	worker, err := resolver.New().Resolve(ctx)
	if err != nil {
		fmt.Println("fio is not installed or not usable:")
		fmt.Println(" ", err)
		return nil
	}
	fmt.Println("fio already installed:", worker.Path, worker.Version)
	return nil
}
