// Package mcp provides an MCP (Model Context Protocol) server for emuforge.
package mcp

import (
	"time"
)

// EmulatorListInput defines the input for the emulator_list tool.
type EmulatorListInput struct{}

// EmulatorListOutput defines the output for the emulator_list tool.
type EmulatorListOutput struct {
	Emulators []EmulatorListItem `json:"emulators" jsonschema:"Built emulators known to the store"`
	Count     int                `json:"count" jsonschema:"Number of emulators"`
}

// EmulatorListItem provides a list view of one built emulator.
type EmulatorListItem struct {
	Name        string    `json:"name"`
	Digest      string    `json:"digest"`
	MaxRelError float64   `json:"max_rel_error"`
	CreatedAt   time.Time `json:"created_at"`
}

// EmulatorInspectInput defines the input for the emulator_inspect tool.
type EmulatorInspectInput struct {
	Name string `json:"name" jsonschema:"Emulator name to inspect"`
}

// EmulatorInspectOutput defines the output for the emulator_inspect tool.
type EmulatorInspectOutput struct {
	Name        string          `json:"name"`
	Digest      string          `json:"digest"`
	Container   string          `json:"container" jsonschema:"Solver environment the emulator was trained against"`
	ModelFamily string          `json:"model_family"`
	Parameters  []ParameterInfo `json:"parameters"`
	Outputs     []OutputInfo    `json:"outputs"`
	MaxRelError float64         `json:"max_rel_error" jsonschema:"Certified worst-case relative error on held-out samples"`
	Examples    int             `json:"examples" jsonschema:"Held-out examples the certification is based on"`
}

// ParameterInfo describes one input parameter and its trained range.
type ParameterInfo struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// OutputInfo describes one emulated quantity and its grid.
type OutputInfo struct {
	Name     string     `json:"name"`
	Axes     []AxisInfo `json:"axes"`
	GridSize int        `json:"grid_size"`
}

// AxisInfo describes one output axis.
type AxisInfo struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Points  int     `json:"points"`
	Spacing string  `json:"spacing"`
}

// EmulatorEvaluateInput defines the input for the emulator_evaluate tool.
type EmulatorEvaluateInput struct {
	Name   string             `json:"name" jsonschema:"Emulator name"`
	Params map[string]float64 `json:"params" jsonschema:"Parameter point keyed by parameter name; every trained parameter must be given"`
	Output string             `json:"output,omitempty" jsonschema:"Output quantity to evaluate; may be omitted when the emulator has exactly one"`
	Coords []float64          `json:"coords,omitempty" jsonschema:"Axis coordinates to interpolate at (one per axis in axis order); omit to get the full grid"`
}

// EmulatorEvaluateOutput defines the output for the emulator_evaluate tool.
type EmulatorEvaluateOutput struct {
	Output string    `json:"output" jsonschema:"Output quantity evaluated"`
	Values []float64 `json:"values" jsonschema:"Tensor values over the grid in row-major axis order; a single interpolated value when coords were given"`
	Count  int       `json:"count" jsonschema:"Number of values"`
}

// EmulatorGradientInput defines the input for the emulator_gradient tool.
type EmulatorGradientInput struct {
	Name   string             `json:"name" jsonschema:"Emulator name"`
	Params map[string]float64 `json:"params" jsonschema:"Parameter point keyed by parameter name"`
	Output string             `json:"output,omitempty" jsonschema:"Output quantity to differentiate; may be omitted when the emulator has exactly one"`
	Coords []float64          `json:"coords,omitempty" jsonschema:"Axis coordinates to interpolate at; omit to differentiate over the full grid"`
}

// EmulatorGradientOutput defines the output for the emulator_gradient tool.
type EmulatorGradientOutput struct {
	Output     string      `json:"output"`
	Parameters []string    `json:"parameters" jsonschema:"Parameter names in the order gradient columns are reported"`
	Gradients  [][]float64 `json:"gradients" jsonschema:"Derivatives indexed [grid element][parameter]; a single row when coords were given"`
}
