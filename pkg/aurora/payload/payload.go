package payload

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// Version is the payload schema version this package emits.
const Version = "0.2"

// DefaultOutputPrefix names the results files when the settings leave the
// prefix empty.
const DefaultOutputPrefix = "results"

// OutputSettings controls where the instrument writes results.
type OutputSettings struct {
	Path   string `yaml:"path,omitempty"`
	Prefix string `yaml:"prefix"`
}

// SnapshotSettings enables periodic snapshots of the running measurement,
// the data source for live monitoring.
type SnapshotSettings struct {
	Frequency int    `yaml:"frequency"` // seconds
	Prefix    string `yaml:"prefix"`
}

// TomatoSettings is the daemon control section of the payload.
type TomatoSettings struct {
	UnlockWhenDone bool              `yaml:"unlock_when_done"`
	Verbosity      string            `yaml:"verbosity"`
	Output         OutputSettings    `yaml:"output"`
	Snapshot       *SnapshotSettings `yaml:"snapshot,omitempty"`
}

func (s *TomatoSettings) validate() error {
	switch s.Verbosity {
	case "", "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		return fmt.Errorf("unknown verbosity %q", s.Verbosity)
	}
	if s.Snapshot != nil && s.Snapshot.Frequency <= 0 {
		return fmt.Errorf("snapshot frequency must be positive, got %d", s.Snapshot.Frequency)
	}
	return nil
}

// Payload is one complete tomato job description.
type Payload struct {
	Sample BatterySample
	Method Sequence
	Tomato TomatoSettings
}

// Validate checks all three sections and applies the output prefix default.
func (p *Payload) Validate() error {
	if err := p.Sample.Validate(); err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	if err := p.Method.Validate(); err != nil {
		return fmt.Errorf("method: %w", err)
	}
	if err := p.Tomato.validate(); err != nil {
		return fmt.Errorf("tomato: %w", err)
	}
	if p.Tomato.Output.Prefix == "" {
		p.Tomato.Output.Prefix = DefaultOutputPrefix
	}
	if p.Tomato.Verbosity == "" {
		p.Tomato.Verbosity = "INFO"
	}
	return nil
}

// Render validates the payload and serializes it to the YAML document
// "ketchup submit" consumes.
func (p *Payload) Render() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	doc := map[string]interface{}{
		"version": Version,
		"sample":  p.Sample.sampleDoc(),
		"method":  p.Method.methodDocs(),
		"tomato":  p.tomatoDoc(),
	}
	return yaml.Marshal(doc)
}

func (p *Payload) tomatoDoc() map[string]interface{} {
	doc := map[string]interface{}{
		"unlock_when_done": p.Tomato.UnlockWhenDone,
		"verbosity":        p.Tomato.Verbosity,
		"output": map[string]interface{}{
			"prefix": p.Tomato.Output.Prefix,
		},
	}
	if p.Tomato.Output.Path != "" {
		doc["output"].(map[string]interface{})["path"] = p.Tomato.Output.Path
	}
	if p.Tomato.Snapshot != nil {
		doc["snapshot"] = map[string]interface{}{
			"frequency": p.Tomato.Snapshot.Frequency,
			"prefix":    p.Tomato.Snapshot.Prefix,
		}
	}
	return doc
}
