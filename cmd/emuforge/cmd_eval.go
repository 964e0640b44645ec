package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <name>",
		Short: "Evaluate an emulator at a parameter point",
		Long: `Evaluate an emulator at a parameter point.

Every domain parameter must be given as a --param name=value pair and
must lie inside its trained range. By default the full output grid is
printed; --at interpolates the output at the given axis coordinates
instead. --grad prints the derivative of the output with respect to
each parameter rather than the value.

Examples:
  emuforge eval pk_emulator --param Omega_b=0.0224
  emuforge eval pk_emulator --param Omega_b=0.0224 --output pk --at 1.5
  emuforge eval pk_emulator --param Omega_b=0.0224 --grad`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			paramFlags, _ := cmd.Flags().GetStringArray("param")
			outputName, _ := cmd.Flags().GetString("output")
			atFlag, _ := cmd.Flags().GetString("at")
			grad, _ := cmd.Flags().GetBool("grad")

			if len(paramFlags) == 0 {
				return fmt.Errorf("at least one --param name=value is required")
			}
			params, err := parseParams(paramFlags)
			if err != nil {
				return err
			}
			coords, err := parseCoords(atFlag)
			if err != nil {
				return err
			}

			cfg, dir, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			loader, err := newLoader(cfg, dir, newLogger(cfg))
			if err != nil {
				return err
			}
			defer loader.Store.Close()

			em, err := loader.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			decl, err := em.Output(outputName)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			paramNames := em.Spec.Parameters.Names()

			switch {
			case grad && coords != nil:
				g, err := em.GradientAt(params, outputName, coords)
				if err != nil {
					return err
				}
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]interface{}{
						"name": args[0], "output": decl.Name, "params": params,
						"at": coords, "parameters": paramNames, "gradient": g,
					})
				}
				for i, name := range paramNames {
					fmt.Fprintf(out, "d/d%s: %g\n", name, g[i])
				}

			case grad:
				g, err := em.Gradient(params, outputName)
				if err != nil {
					return err
				}
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]interface{}{
						"name": args[0], "output": decl.Name, "params": params,
						"parameters": paramNames, "gradients": g,
					})
				}
				fmt.Fprintf(out, "# grid point")
				for _, name := range paramNames {
					fmt.Fprintf(out, "\td/d%s", name)
				}
				fmt.Fprintln(out)
				for i, row := range g {
					fmt.Fprintf(out, "%d", i)
					for _, v := range row {
						fmt.Fprintf(out, "\t%g", v)
					}
					fmt.Fprintln(out)
				}

			case coords != nil:
				v, err := em.EvaluateAt(params, outputName, coords)
				if err != nil {
					return err
				}
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]interface{}{
						"name": args[0], "output": decl.Name, "params": params,
						"at": coords, "value": v,
					})
				}
				fmt.Fprintf(out, "%g\n", v)

			default:
				values, err := em.Evaluate(params, outputName)
				if err != nil {
					return err
				}
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]interface{}{
						"name": args[0], "output": decl.Name, "params": params,
						"values": values, "count": len(values),
					})
				}
				// Single-axis outputs print gnuplot-friendly two-column
				// rows; higher-rank tensors print flattened values.
				if len(decl.Axes) == 1 {
					grid := decl.Axes[0].Grid()
					fmt.Fprintf(out, "# %s\t%s\n", decl.Axes[0].Name, decl.Name)
					for i, v := range values {
						fmt.Fprintf(out, "%g\t%g\n", grid[i], v)
					}
				} else {
					for _, v := range values {
						fmt.Fprintf(out, "%g\n", v)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArray("param", nil, "Parameter as name=value (repeatable, required)")
	cmd.Flags().String("output", "", "Output to evaluate (default: the sole declared output)")
	cmd.Flags().String("at", "", "Axis coordinates to interpolate at, comma-separated")
	cmd.Flags().Bool("grad", false, "Print the gradient with respect to each parameter")

	return cmd
}
