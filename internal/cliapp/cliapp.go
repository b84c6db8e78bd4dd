// Package cliapp builds the Cobra command tree for the tasklets engine.
//
// Root command carries a persistent --config flag and four subcommands —
// run/submit/stats/watch — each loading YAML config and shutting the engine
// down before it returns. Only run waits on SIGINT/SIGTERM.
package cliapp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gotasklets/tasklets"
	"github.com/gotasklets/tasklets/internal/config"
)

var configFile string

// BuildCLI assembles the root command.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "tasklets",
		Short:   "tasklets: an embeddable, self-tuning task execution engine",
		Version: "0.1.0",
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (YAML); defaults built in if omitted")

	root.AddCommand(buildRunCommand())
	root.AddCommand(buildSubmitCommand())
	root.AddCommand(buildStatsCommand())
	root.AddCommand(buildWatchCommand())

	return root
}

func loadConfig() (config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

func buildRunCommand() *cobra.Command {
	var count int
	var intervalMs int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine and submit a synthetic workload for demonstration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(count, time.Duration(intervalMs)*time.Millisecond)
		},
	}
	cmd.Flags().IntVar(&count, "count", 20, "number of synthetic tasks to submit")
	cmd.Flags().IntVar(&intervalMs, "interval-ms", 50, "simulated per-task work duration in milliseconds")
	return cmd
}

func runDemo(count int, perTask time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, err := tasklets.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	fmt.Printf("engine started: %d workers, autoscale=%v\n", engine.WorkerCount(), cfg.Autoscale.Enabled)

	ids := make([]tasklets.TaskID, 0, count)
	for i := 0; i < count; i++ {
		n := i
		id, err := engine.Submit(func(ctx context.Context) (string, error) {
			select {
			case <-time.After(perTask):
				return fmt.Sprintf("task-%d-done", n), nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		})
		if err != nil {
			fmt.Printf("submit %d failed: %v\n", i, err)
			continue
		}
		ids = append(ids, id)
	}

	joinCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.JoinBatch(joinCtx, ids); err != nil {
		fmt.Printf("join batch: %v\n", err)
	}

	printStats(engine)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-time.After(200 * time.Millisecond):
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return engine.Shutdown(shutdownCtx)
}

func buildSubmitCommand() *cobra.Command {
	var sleepMs int

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Start the engine, submit one task that sleeps, and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := tasklets.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Shutdown(context.Background())

			id, err := engine.Submit(func(ctx context.Context) (string, error) {
				select {
				case <-time.After(time.Duration(sleepMs) * time.Millisecond):
					return "ok", nil
				case <-ctx.Done():
					return "", ctx.Err()
				}
			})
			if err != nil {
				return fmt.Errorf("submit failed: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := engine.Join(ctx, id); err != nil {
				return fmt.Errorf("join failed: %w", err)
			}

			if engine.HasError(id) {
				fmt.Printf("task %d failed: %s\n", id, engine.Error(id))
				return nil
			}
			result, _ := engine.Result(id)
			fmt.Printf("task %d result: %s\n", id, result)
			return nil
		},
	}
	cmd.Flags().IntVar(&sleepMs, "sleep-ms", 100, "how long the submitted task sleeps")
	return cmd
}

func buildStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Start the engine idle, print its initial statistics, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := tasklets.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Shutdown(context.Background())
			printStats(engine)
			return nil
		},
	}
}

func buildWatchCommand() *cobra.Command {
	var seconds int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Start the engine and print its recommendation set every second",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := tasklets.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Shutdown(context.Background())

			deadline := time.Now().Add(time.Duration(seconds) * time.Second)
			for time.Now().Before(deadline) {
				rec := engine.Recommendations()
				fmt.Printf("overall_confidence=%.2f workers(apply=%v,value=%d)\n",
					rec.OverallConfidence, rec.WorkerCount.ShouldApply, rec.WorkerCount.Value)
				time.Sleep(time.Second)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&seconds, "seconds", 10, "how long to watch recommendations for")
	return cmd
}

func printStats(engine *tasklets.Engine) {
	s := engine.Stats()
	m := engine.MemoryStats()
	fmt.Printf("workers=%d active=%d created=%d completed=%d failed=%d success_rate=%.1f%%\n",
		s.Workers, s.Active, s.Created, s.Completed, s.Failed, s.SuccessRatePercent)
	fmt.Printf("memory: used=%.1f%% active_tasks=%d pending_cleanup=%d\n",
		m.SystemUsagePercent, m.ActiveTasks, m.PendingCleanup)
}
