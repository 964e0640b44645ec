package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied while loading a spec file.
const (
	DefaultPoints   = 128
	DefaultSeed     = 1
	DefaultHoldout  = 0.2
	DefaultAccuracy = 1e-3
)

// yamlInterval accepts the compact `[min, max]` form.
type yamlInterval Interval

func (iv *yamlInterval) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var pair []float64
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("interval must be [min, max], got %d values", len(pair))
		}
		iv.Min, iv.Max = pair[0], pair[1]
		return nil
	}
	var full struct {
		Min float64 `yaml:"min"`
		Max float64 `yaml:"max"`
	}
	if err := node.Decode(&full); err != nil {
		return err
	}
	iv.Min, iv.Max = full.Min, full.Max
	return nil
}

// yamlAxis accepts either `[min, max]` or the full mapping form.
type yamlAxis struct {
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Points  int     `yaml:"points"`
	Spacing string  `yaml:"spacing"`
}

func (a *yamlAxis) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var pair []float64
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("axis range must be [min, max], got %d values", len(pair))
		}
		a.Min, a.Max = pair[0], pair[1]
		return nil
	}
	type plain yamlAxis
	return node.Decode((*plain)(a))
}

// yamlConfig keeps solver configuration values as their raw scalar
// text, so that "precision: 3" and "precision: high" round-trip the
// same way into canonical bytes.
type yamlConfig map[string]string

func (c *yamlConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("config must be a mapping")
	}
	out := make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("config value for %q must be a scalar", key.Value)
		}
		out[key.Value] = val.Value
	}
	*c = out
	return nil
}

type yamlSpec struct {
	Name       string                         `yaml:"name"`
	Author     string                         `yaml:"author"`
	Container  string                         `yaml:"container"`
	Config     yamlConfig                     `yaml:"config"`
	EmulatorFn Declaration                    `yaml:"emulator_fn"`
	Training   Declaration                    `yaml:"training"`
	Parameters map[string]yamlInterval        `yaml:"parameters"`
	Outputs    map[string]map[string]yamlAxis `yaml:"outputs"`
	Sampling   struct {
		Count   int     `yaml:"count"`
		Seed    *uint64 `yaml:"seed"`
		Holdout float64 `yaml:"holdout"`
	} `yaml:"sampling"`
	Accuracy struct {
		MaxRelativeError float64 `yaml:"max_relative_error"`
	} `yaml:"accuracy"`
}

// Load reads, parses and validates a spec file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates spec YAML.
func Parse(data []byte) (*Spec, error) {
	var raw yamlSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding spec: %w", err)
	}

	s := &Spec{
		Name:       raw.Name,
		Author:     raw.Author,
		Container:  raw.Container,
		Config:     map[string]string(raw.Config),
		EmulatorFn: raw.EmulatorFn,
		Training:   raw.Training,
		Sampling: Sampling{
			Count:   raw.Sampling.Count,
			Seed:    DefaultSeed,
			Holdout: raw.Sampling.Holdout,
		},
		Accuracy: Accuracy{MaxRelativeError: raw.Accuracy.MaxRelativeError},
	}
	if raw.Sampling.Seed != nil {
		s.Sampling.Seed = *raw.Sampling.Seed
	}
	if s.Sampling.Holdout == 0 {
		s.Sampling.Holdout = DefaultHoldout
	}
	if s.Accuracy.MaxRelativeError == 0 {
		s.Accuracy.MaxRelativeError = DefaultAccuracy
	}

	for name, iv := range raw.Parameters {
		s.Parameters = append(s.Parameters, Parameter{Name: name, Interval: Interval(iv)})
	}
	for name, axes := range raw.Outputs {
		out := Output{Name: name}
		for axName, ax := range axes {
			points := ax.Points
			if points == 0 {
				points = DefaultPoints
			}
			spacing := Spacing(ax.Spacing)
			if spacing == "" {
				spacing = SpacingLinear
			}
			out.Axes = append(out.Axes, Axis{
				Name:    axName,
				Min:     ax.Min,
				Max:     ax.Max,
				Points:  points,
				Spacing: spacing,
			})
		}
		s.Outputs = append(s.Outputs, out)
	}

	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
