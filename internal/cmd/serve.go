package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jpequegn/qlabbench/internal/api"
	"github.com/jpequegn/qlabbench/internal/evaluator"
	"github.com/jpequegn/qlabbench/internal/orchestrator"
	"github.com/jpequegn/qlabbench/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/JSON bridge for the browser UI",
	Long: `serve starts the loopback-only HTTP/JSON API that exposes the
orchestrator's lifecycle operations to a browser UI. On startup
it runs the recovery pass over any test left non-terminal by a prior crash
or restart before accepting new admissions.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "127.0.0.1:8086", "address to listen on (loopback only)")
	serveCmd.Flags().String("db", "memory-bank/qlabbench.db", "path to the state store database file")
	serveCmd.Flags().String("artifacts", "memory-bank/artifacts", "directory for worker output artifacts")
	serveCmd.Flags().Int("retention-days", 30, "days of terminal test history to keep")
	_ = viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("db", serveCmd.Flags().Lookup("db"))
	_ = viper.BindPFlag("artifacts", serveCmd.Flags().Lookup("artifacts"))
	_ = viper.BindPFlag("retention-days", serveCmd.Flags().Lookup("retention-days"))
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	eval := evaluator.NewWithThresholds(loadThresholds())
	orch := orchestrator.New(st, eval, viper.GetString("artifacts"), logger)

	viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config changed, reloading thresholds", "file", e.Name)
		eval.SetThresholds(loadThresholds())
	})
	viper.WatchConfig()

	recoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.Recover(recoverCtx); err != nil {
		logger.Error("startup recovery failed", "error", err)
	}

	if removed, err := st.Prune(viper.GetInt("retention-days")); err != nil {
		logger.Warn("history prune failed", "error", err)
	} else if removed > 0 {
		logger.Info("pruned old test history", "removed", removed)
	}

	addr := viper.GetString("addr")
	handler := api.New(orch, st, logger)
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-sigCh:
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		os.Exit(130)
	}
	return nil
}

func openStore() (*store.Store, error) {
	path := viper.GetString("db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return store.Open(path)
}
