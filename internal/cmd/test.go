package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jpequegn/qlabbench/internal/evaluator"
	"github.com/jpequegn/qlabbench/internal/model"
	"github.com/jpequegn/qlabbench/internal/orchestrator"
	"github.com/jpequegn/qlabbench/internal/store"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Start, stop, and inspect benchmark tests",
}

var testStartCmd = &cobra.Command{
	Use:   "start <profile> <disk-path>",
	Short: "Admit and launch a new benchmark test",
	Args:  cobra.ExactArgs(2),
	RunE:  runTestStart,
}

var testStopCmd = &cobra.Command{
	Use:   "stop <test-id>",
	Short: "Stop a running test",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestStop,
}

var testStopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop every non-terminal test",
	Args:  cobra.NoArgs,
	RunE:  runTestStopAll,
}

var testStatusCmd = &cobra.Command{
	Use:   "status <test-id>",
	Short: "Print a test's current record and progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestStatus,
}

var testBackgroundCmd = &cobra.Command{
	Use:   "background",
	Short: "List disconnected/unknown tests left over from a restart",
	Args:  cobra.NoArgs,
	RunE:  runTestBackground,
}

var testCleanupCmd = &cobra.Command{
	Use:   "cleanup [test-id]",
	Short: "Remove background test records, killing any orphaned workers",
	Long: `cleanup removes disconnected/unknown records left over from a service
restart. With a test id it removes just that record; with no arguments it
removes all of them. Any worker process still referencing a removed
record's output file is killed first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTestCleanup,
}

func init() {
	rootCmd.AddCommand(testCmd)
	testCmd.AddCommand(testStartCmd, testStopCmd, testStopAllCmd, testStatusCmd, testBackgroundCmd, testCleanupCmd)
	testStartCmd.Flags().Float64("size-gb", 1, "requested test size in GB")
}

func runTestStart(cmd *cobra.Command, args []string) error {
	orch, st, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer st.Close()

	sizeGB, _ := cmd.Flags().GetFloat64("size-gb")
	rec, err := orch.Start(cmd.Context(), args[0], args[1], sizeGB)
	if err != nil {
		return fmt.Errorf("%w", err)
	}
	return printJSON(rec)
}

func runTestStop(cmd *cobra.Command, args []string) error {
	orch, st, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := orch.Stop(cmd.Context(), model.TestId(args[0])); err != nil {
		return fmt.Errorf("%w", err)
	}
	fmt.Println("stopped")
	return nil
}

func runTestStopAll(cmd *cobra.Command, args []string) error {
	orch, st, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer st.Close()

	ids, err := orch.StopAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("%w", err)
	}
	return printJSON(ids)
}

func runTestStatus(cmd *cobra.Command, args []string) error {
	orch, st, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer st.Close()

	status, err := orch.Status(model.TestId(args[0]))
	if err != nil {
		return fmt.Errorf("%w", err)
	}
	return printJSON(status)
}

func runTestBackground(cmd *cobra.Command, args []string) error {
	orch, st, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := orch.Background()
	if err != nil {
		return fmt.Errorf("%w", err)
	}
	return printJSON(records)
}

func runTestCleanup(cmd *cobra.Command, args []string) error {
	orch, st, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer st.Close()

	var id model.TestId
	if len(args) == 1 {
		id = model.TestId(args[0])
	}
	removed, killed, err := orch.CleanupBackground(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("%w", err)
	}
	fmt.Printf("removed %d record(s), killed %d orphaned process(es)\n", removed, killed)
	return nil
}

// newOrchestrator opens the configured store and wires an Orchestrator to
// it for a single CLI invocation; the caller owns closing the store.
func newOrchestrator() (*orchestrator.Orchestrator, *store.Store, error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	eval := evaluator.NewWithThresholds(loadThresholds())
	orch := orchestrator.New(st, eval, viper.GetString("artifacts"), logger)
	return orch, st, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
