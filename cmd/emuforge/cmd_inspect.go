package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emuforge/emuforge/internal/artifact"
	"github.com/emuforge/emuforge/internal/emulator"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <name|artifact>",
		Short: "Show an emulator's spec and certified accuracy",
		Long: `Show an emulator's spec and certified accuracy.

The argument is either a name resolved against the local store (and the
hub, when one is configured) or a path to an ` + artifact.Ext + ` file.

Examples:
  emuforge inspect pk_emulator
  emuforge inspect artifacts/a1b2c3d4e5f6` + artifact.Ext + `  # by file`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ref := args[0]

			cfg, dir, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var em *emulator.Emulator
			if strings.HasSuffix(ref, artifact.Ext) {
				a, openErr := artifact.Open(ref)
				if openErr != nil {
					return openErr
				}
				em, err = emulator.FromArtifact(a)
				if err != nil {
					return err
				}
			} else {
				loader, loadErr := newLoader(cfg, dir, newLogger(cfg))
				if loadErr != nil {
					return loadErr
				}
				defer loader.Store.Close()
				em, err = loader.Load(cmd.Context(), ref)
				if err != nil {
					return err
				}
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"name":      em.Spec.Name,
					"digest":    em.Digest,
					"container": em.Spec.Container,
					"model":     em.Spec.EmulatorFn.Type,
					"training":  em.Spec.Training.Type,
					"spec":      em.Spec,
					"report":    em.Report,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Emulator: %s\n", em.Spec.Name)
			fmt.Fprintf(out, "Digest: %s\n", em.Digest)
			fmt.Fprintf(out, "Container: %s\n", em.Spec.Container)
			fmt.Fprintf(out, "Model: %s (training: %s)\n", em.Spec.EmulatorFn.Type, em.Spec.Training.Type)
			fmt.Fprintln(out)

			fmt.Fprintf(out, "Parameters (%d):\n", len(em.Spec.Parameters))
			for _, p := range em.Spec.Parameters {
				fmt.Fprintf(out, "  %s [%g, %g]\n", p.Name, p.Min, p.Max)
			}
			fmt.Fprintf(out, "Outputs (%d):\n", len(em.Spec.Outputs))
			for _, o := range em.Spec.Outputs {
				fmt.Fprintf(out, "  %s (grid %d)\n", o.Name, o.GridSize())
				for _, ax := range o.Axes {
					spacing := ax.Spacing
					if spacing == "" {
						spacing = "linear"
					}
					fmt.Fprintf(out, "    %s [%g, %g] %d points, %s\n", ax.Name, ax.Min, ax.Max, ax.Points, spacing)
				}
			}
			fmt.Fprintln(out)

			if em.Report != nil {
				fmt.Fprintf(out, "Report:\n")
				fmt.Fprintf(out, "  Held-out examples: %d\n", em.Report.Examples)
				fmt.Fprintf(out, "  Max rel error: %.3g\n", em.Report.MaxRelError)
				names := make([]string, 0, len(em.Report.Outputs))
				for name := range em.Report.Outputs {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					st := em.Report.Outputs[name]
					fmt.Fprintf(out, "  %s: max %.3g, mean %.3g (%d compared, %d skipped near zero)\n",
						name, st.MaxRelError, st.MeanRelError, st.Compared, st.SkippedZero)
				}
			}
			return nil
		},
	}
}
