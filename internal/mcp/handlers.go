package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emuforge/emuforge/internal/hub"
)

const emulatorsResourceURI = "emuforge://emulators"

// registerTools registers all emuforge MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "emulator_list",
		Description: "List built emulators with their certified accuracy",
	}, s.handleEmulatorList)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "emulator_inspect",
		Description: "Show an emulator's parameter domain, output grids and certified accuracy",
	}, s.handleEmulatorInspect)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "emulator_evaluate",
		Description: "Evaluate an emulator at a parameter point, over the full output grid or interpolated at given axis coordinates",
	}, s.handleEmulatorEvaluate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "emulator_gradient",
		Description: "Differentiate an emulator's output with respect to its input parameters",
	}, s.handleEmulatorGradient)

	return nil
}

// registerResources registers MCP resources for auto-loading into context.
func (s *Server) registerResources() error {
	s.server.AddResource(&sdk.Resource{
		URI:         emulatorsResourceURI,
		Name:        "emuforge-emulators",
		Description: "Built emulators available for evaluation, with their trained domains and accuracy.",
		MIMEType:    "text/markdown",
	}, s.handleEmulatorsResource)

	return nil
}

// listEntries merges the local index with the hub's, local names first.
func (s *Server) listEntries(ctx context.Context) ([]hub.Entry, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list local store: %w", err)
	}
	if s.loader.Hub != nil {
		remote, err := s.loader.Hub.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list hub: %w", err)
		}
		have := make(map[string]bool, len(entries))
		for _, e := range entries {
			have[e.Name] = true
		}
		for _, e := range remote {
			if !have[e.Name] {
				entries = append(entries, e)
			}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	}
	return entries, nil
}

func (s *Server) handleEmulatorList(ctx context.Context, req *sdk.CallToolRequest, args EmulatorListInput) (*sdk.CallToolResult, EmulatorListOutput, error) {
	entries, err := s.listEntries(ctx)
	if err != nil {
		return nil, EmulatorListOutput{}, err
	}

	items := make([]EmulatorListItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, EmulatorListItem{
			Name:        e.Name,
			Digest:      string(e.Digest),
			MaxRelError: e.MaxRelError,
			CreatedAt:   e.CreatedAt,
		})
	}

	return nil, EmulatorListOutput{Emulators: items, Count: len(items)}, nil
}

func (s *Server) handleEmulatorInspect(ctx context.Context, req *sdk.CallToolRequest, args EmulatorInspectInput) (*sdk.CallToolResult, EmulatorInspectOutput, error) {
	if args.Name == "" {
		return nil, EmulatorInspectOutput{}, fmt.Errorf("name is required")
	}

	em, err := s.load(ctx, args.Name)
	if err != nil {
		return nil, EmulatorInspectOutput{}, err
	}

	out := EmulatorInspectOutput{
		Name:        args.Name,
		Digest:      string(em.Digest),
		Container:   em.Spec.Container,
		ModelFamily: em.Spec.EmulatorFn.Type,
		MaxRelError: em.MaxRelError(),
	}
	if em.Report != nil {
		out.Examples = em.Report.Examples
	}
	for _, p := range em.Spec.Parameters {
		out.Parameters = append(out.Parameters, ParameterInfo{Name: p.Name, Min: p.Min, Max: p.Max})
	}
	for _, o := range em.Spec.Outputs {
		info := OutputInfo{Name: o.Name, GridSize: o.GridSize()}
		for _, a := range o.Axes {
			info.Axes = append(info.Axes, AxisInfo{
				Name:    a.Name,
				Min:     a.Min,
				Max:     a.Max,
				Points:  a.Points,
				Spacing: string(a.Spacing),
			})
		}
		out.Outputs = append(out.Outputs, info)
	}

	return nil, out, nil
}

func (s *Server) handleEmulatorEvaluate(ctx context.Context, req *sdk.CallToolRequest, args EmulatorEvaluateInput) (*sdk.CallToolResult, EmulatorEvaluateOutput, error) {
	if args.Name == "" {
		return nil, EmulatorEvaluateOutput{}, fmt.Errorf("name is required")
	}
	if len(args.Params) == 0 {
		return nil, EmulatorEvaluateOutput{}, fmt.Errorf("params are required")
	}

	em, err := s.load(ctx, args.Name)
	if err != nil {
		return nil, EmulatorEvaluateOutput{}, err
	}
	outDecl, err := em.Output(args.Output)
	if err != nil {
		return nil, EmulatorEvaluateOutput{}, err
	}

	if len(args.Coords) > 0 {
		v, err := em.EvaluateAt(args.Params, outDecl.Name, args.Coords)
		if err != nil {
			return nil, EmulatorEvaluateOutput{}, err
		}
		return nil, EmulatorEvaluateOutput{Output: outDecl.Name, Values: []float64{v}, Count: 1}, nil
	}

	values, err := em.Evaluate(args.Params, outDecl.Name)
	if err != nil {
		return nil, EmulatorEvaluateOutput{}, err
	}
	return nil, EmulatorEvaluateOutput{Output: outDecl.Name, Values: values, Count: len(values)}, nil
}

func (s *Server) handleEmulatorGradient(ctx context.Context, req *sdk.CallToolRequest, args EmulatorGradientInput) (*sdk.CallToolResult, EmulatorGradientOutput, error) {
	if args.Name == "" {
		return nil, EmulatorGradientOutput{}, fmt.Errorf("name is required")
	}
	if len(args.Params) == 0 {
		return nil, EmulatorGradientOutput{}, fmt.Errorf("params are required")
	}

	em, err := s.load(ctx, args.Name)
	if err != nil {
		return nil, EmulatorGradientOutput{}, err
	}
	outDecl, err := em.Output(args.Output)
	if err != nil {
		return nil, EmulatorGradientOutput{}, err
	}

	out := EmulatorGradientOutput{
		Output:     outDecl.Name,
		Parameters: em.Spec.Parameters.Names(),
	}

	if len(args.Coords) > 0 {
		g, err := em.GradientAt(args.Params, outDecl.Name, args.Coords)
		if err != nil {
			return nil, EmulatorGradientOutput{}, err
		}
		out.Gradients = [][]float64{g}
		return nil, out, nil
	}

	grad, err := em.Gradient(args.Params, outDecl.Name)
	if err != nil {
		return nil, EmulatorGradientOutput{}, err
	}
	out.Gradients = grad
	return nil, out, nil
}

// handleEmulatorsResource renders the emulator index as markdown for
// context injection.
func (s *Server) handleEmulatorsResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	entries, err := s.listEntries(ctx)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return &sdk.ReadResourceResult{
			Contents: []*sdk.ResourceContents{
				{
					URI:      emulatorsResourceURI,
					MIMEType: "text/markdown",
					Text:     "# Emulators\n\nNo emulators built yet. Build one with `emuforge build <spec.yaml>`.\n",
				},
			},
		}, nil
	}

	var sb strings.Builder
	sb.WriteString("# Emulators\n\n")
	sb.WriteString("Certified surrogate models, queryable with the emulator_evaluate and emulator_gradient tools.\n\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- **%s** (`%s`): max relative error %.3g\n",
			e.Name, e.Digest.Short(), e.MaxRelError)
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      emulatorsResourceURI,
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}
