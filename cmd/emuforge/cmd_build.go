package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/emuforge/emuforge/internal/dataset"
	"github.com/emuforge/emuforge/internal/logging"
	"github.com/emuforge/emuforge/internal/pipeline"
	"github.com/emuforge/emuforge/internal/solver"
	"github.com/emuforge/emuforge/internal/spec"
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <spec.yaml>",
		Short: "Build an emulator from a spec",
		Long: `Build an emulator from a spec.

The build samples the parameter domain, invokes the solver once per
sample to assemble the training set, fits the declared model, evaluates
it on the held-out subset, and packages the artifact. Solver results
are cached, so re-running a build after a crash or a model re-tune only
invokes the solver for points it has not seen.

The solver is an external launcher that reads one JSON request on stdin
and writes a JSON result to stdout, typically a wrapper around
'docker run <container>'.

Examples:
  emuforge build specs/pk.yaml --solver ./run-class.sh
  emuforge build specs/pk.yaml --solver docker --solver-arg run --solver-arg cosmo/class:3.2
  emuforge build specs/pk.yaml --solver ./run-class.sh --workers 8 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			solverPath, _ := cmd.Flags().GetString("solver")
			solverArgs, _ := cmd.Flags().GetStringArray("solver-arg")
			solverEnv, _ := cmd.Flags().GetStringArray("solver-env")
			solverTimeout, _ := cmd.Flags().GetDuration("solver-timeout")
			outDir, _ := cmd.Flags().GetString("out")
			workers, _ := cmd.Flags().GetInt("workers")
			noRegister, _ := cmd.Flags().GetBool("no-register")
			datasetPath, _ := cmd.Flags().GetString("dataset")

			cfg, dir, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			s, err := spec.Load(args[0])
			if err != nil {
				return err
			}

			adapter := &solver.Command{
				Container: s.Container,
				Path:      solverPath,
				Args:      solverArgs,
				Env:       solverEnv,
				Timeout:   solverTimeout,
			}

			solveCache, err := openCache(cfg, dir)
			if err != nil {
				return err
			}
			defer solveCache.Close()

			if outDir == "" {
				outDir = cfg.Build.OutDir
			}
			if workers == 0 {
				workers = cfg.Build.Workers
			}

			trace := logging.NewRunTrace(filepath.Join(dir, ".emuforge", "runs"), cfg.Logging.Level)
			defer trace.Close()

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			var cachedCount, failedCount int
			sink := pipeline.SinkFunc(func(ev pipeline.Event) {
				trace.Emit(ev)
				if jsonOut {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				switch ev.Kind {
				case pipeline.EventStageEnter:
					fmt.Fprintf(out, "==> %s\n", stageLabel(ev.Stage))
				case pipeline.EventSample:
					if ev.Cached {
						cachedCount++
					}
					if ev.Failed {
						failedCount++
					}
					step := ev.Total / 10
					if step == 0 {
						step = 1
					}
					if ev.Done%step == 0 || ev.Done == ev.Total {
						fmt.Fprintf(out, "    %d/%d samples (%d cached, %d failed)\n",
							ev.Done, ev.Total, cachedCount, failedCount)
					}
				case pipeline.EventEpoch:
					if ev.Epoch%100 == 0 {
						fmt.Fprintf(out, "    epoch %d  loss %.4g\n", ev.Epoch, ev.Loss)
					}
				}
			})

			p := &pipeline.Pipeline{
				Adapter:        adapter,
				Cache:          solveCache,
				OutDir:         resolvePath(dir, outDir),
				Workers:        workers,
				MaxRetries:     cfg.Build.MaxRetries,
				Backoff:        cfg.Build.Backoff,
				MaxFailureRate: cfg.Build.MaxFailureRate,
				ZeroThreshold:  cfg.Evaluate.ZeroThreshold,
				GradientProbes: cfg.Build.GradientProbes,
				Sink:           sink,
				Logger:         logger,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := p.Run(ctx, s)
			if err != nil {
				return err
			}

			if !noRegister {
				lib, err := openHubStore(cfg, dir)
				if err != nil {
					return err
				}
				defer lib.Close()
				if err := lib.Put(ctx, s.Name, res.Artifact); err != nil {
					return fmt.Errorf("failed to register artifact: %w", err)
				}
			}

			if datasetPath != "" {
				datasetPath = resolvePath(dir, datasetPath)
				if err := writeDatasetFile(datasetPath, s, res.Set); err != nil {
					return fmt.Errorf("failed to export dataset: %w", err)
				}
			}

			if jsonOut {
				result := map[string]interface{}{
					"status":        "built",
					"run_id":        res.RunID,
					"name":          s.Name,
					"digest":        res.Digest,
					"path":          res.Path,
					"max_rel_error": res.Report.MaxRelError,
					"examples":      res.Examples,
					"cached":        res.Cached,
					"failures":      res.Failures,
					"epochs":        res.Stats.Epochs,
					"final_loss":    res.Stats.FinalLoss,
					"registered":    !noRegister,
					"elapsed_ms":    res.Elapsed.Milliseconds(),
				}
				if datasetPath != "" {
					result["dataset"] = datasetPath
				}
				return json.NewEncoder(out).Encode(result)
			}

			fmt.Fprintf(out, "\nBuilt %s in %s\n", s.Name, res.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "  Examples: %d (%d cached, %d failures)\n", res.Examples, res.Cached, res.Failures)
			fmt.Fprintf(out, "  Accuracy: max relative error %.3g (bound %g)\n",
				res.Report.MaxRelError, s.Accuracy.MaxRelativeError)
			fmt.Fprintf(out, "  Artifact: %s\n", res.Path)
			fmt.Fprintf(out, "  Digest:   %s\n", res.Digest.Short())
			if datasetPath != "" {
				fmt.Fprintf(out, "  Dataset:  %s\n", datasetPath)
			}
			if !noRegister {
				fmt.Fprintf(out, "  Registered as %q in the local store\n", s.Name)
			}
			return nil
		},
	}

	cmd.Flags().String("solver", "", "Solver launcher executable (required)")
	cmd.Flags().StringArray("solver-arg", nil, "Extra solver launcher argument (repeatable)")
	cmd.Flags().StringArray("solver-env", nil, "Extra KEY=VALUE in the solver environment (repeatable)")
	cmd.Flags().Duration("solver-timeout", 0, "Per-invocation solver timeout (0 = no limit)")
	cmd.Flags().String("out", "", "Artifact output directory (default from config)")
	cmd.Flags().Int("workers", 0, "Concurrent solver invocations (default from config)")
	cmd.Flags().Bool("no-register", false, "Skip registering the artifact in the local store")
	cmd.Flags().String("dataset", "", "Also export the labeled training set as an Arrow IPC file")
	cmd.MarkFlagRequired("solver")

	return cmd
}

// writeDatasetFile exports the labeled set as an Arrow IPC stream for
// analysis outside Go.
func writeDatasetFile(path string, s *spec.Spec, set *dataset.Set) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dataset.WriteArrow(f, s, set); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// stageLabel renders a pipeline stage name for humans.
func stageLabel(s pipeline.Stage) string {
	return strings.ReplaceAll(string(s), "_", " ")
}
