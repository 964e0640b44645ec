package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emuforge/emuforge/internal/spec"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <spec.yaml>",
		Short: "Validate an emulator spec without building it",
		Long: `Validate an emulator spec without building it.

The spec is parsed, normalized and checked against the domain rules
(non-empty domain, ordered intervals, positive grids, holdout fraction,
declared accuracy bound). On success the spec fingerprint is printed;
this is the identity any artifact built from the spec will carry.

Examples:
  emuforge validate specs/pk.yaml
  emuforge validate specs/pk.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			s, err := spec.Load(args[0])
			if err != nil {
				return err
			}

			specFP, err := s.Fingerprint()
			if err != nil {
				return err
			}
			solverFP, err := s.SolverFingerprint()
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"valid":              true,
					"name":               s.Name,
					"container":          s.Container,
					"fingerprint":        specFP,
					"solver_fingerprint": solverFP,
					"parameters":         len(s.Parameters),
					"outputs":            s.OutputNames(),
					"samples":            s.Sampling.Count,
					"holdout":            s.Sampling.Holdout,
					"max_relative_error": s.Accuracy.MaxRelativeError,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ %s is valid\n\n", args[0])
			fmt.Fprintf(out, "Name:        %s\n", s.Name)
			fmt.Fprintf(out, "Container:   %s\n", s.Container)
			fmt.Fprintf(out, "Fingerprint: %s\n", specFP.Short())
			fmt.Fprintf(out, "Model:       %s / %s\n", s.EmulatorFn.Type, s.Training.Type)
			fmt.Fprintf(out, "Parameters (%d):\n", len(s.Parameters))
			for _, p := range s.Parameters {
				fmt.Fprintf(out, "  %s [%g, %g]\n", p.Name, p.Min, p.Max)
			}
			fmt.Fprintf(out, "Outputs (%d):\n", len(s.Outputs))
			for _, o := range s.Outputs {
				fmt.Fprintf(out, "  %s (grid %d)\n", o.Name, o.GridSize())
			}
			fmt.Fprintf(out, "Sampling:    %d points, holdout %.2f, seed %d\n",
				s.Sampling.Count, s.Sampling.Holdout, s.Sampling.Seed)
			fmt.Fprintf(out, "Accuracy:    max relative error %g\n", s.Accuracy.MaxRelativeError)
			return nil
		},
	}
}
