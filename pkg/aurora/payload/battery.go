package payload

import (
	"fmt"
	"strings"
)

// Composition describes the cell chemistry. Either the three components or
// the combined "cathode|electrolyte|anode" description may be given; the
// other form is derived.
type Composition struct {
	Description string `yaml:"description"`
	Cathode     string `yaml:"cathode"`
	Electrolyte string `yaml:"electrolyte"`
	Anode       string `yaml:"anode"`
}

// Normalize fills in whichever of the two composition forms is missing.
// Giving both at once is an error since they could disagree.
func (c *Composition) Normalize() error {
	hasComponents := c.Cathode != "" || c.Electrolyte != "" || c.Anode != ""

	if c.Description != "" {
		if hasComponents {
			return fmt.Errorf("specify either a composition description or its components, not both")
		}
		c.Description = strings.TrimSpace(c.Description)
		parts := strings.Split(c.Description, "|")
		if len(parts) == 3 {
			c.Cathode = strings.TrimSpace(parts[0])
			c.Electrolyte = strings.TrimSpace(parts[1])
			c.Anode = strings.TrimSpace(parts[2])
		}
		return nil
	}

	if !hasComponents {
		return fmt.Errorf("composition needs a description or its components")
	}
	c.Cathode = strings.TrimSpace(c.Cathode)
	c.Electrolyte = strings.TrimSpace(c.Electrolyte)
	c.Anode = strings.TrimSpace(c.Anode)
	c.Description = fmt.Sprintf("%s|%s|%s", c.Cathode, c.Electrolyte, c.Anode)
	return nil
}

// Capacity is the rated cell capacity.
type Capacity struct {
	Nominal float64  `yaml:"nominal"`
	Actual  *float64 `yaml:"actual,omitempty"`
	Units   string   `yaml:"units"`
}

func (c Capacity) validate() error {
	if c.Nominal <= 0 {
		return fmt.Errorf("nominal capacity must be positive, got %v", c.Nominal)
	}
	if c.Actual != nil && *c.Actual < 0 {
		return fmt.Errorf("actual capacity must be non-negative, got %v", *c.Actual)
	}
	if c.Units != "mAh" && c.Units != "Ah" {
		return fmt.Errorf("capacity units must be mAh or Ah, got %q", c.Units)
	}
	return nil
}

// BatterySample identifies one physical cell in the inventory.
type BatterySample struct {
	BatteryID    int         `yaml:"battery_id"`
	Name         string      `yaml:"name"`
	Manufacturer string      `yaml:"manufacturer"`
	FormFactor   string      `yaml:"form_factor"`
	Composition  Composition `yaml:"composition"`
	Capacity     Capacity    `yaml:"capacity"`
}

// Validate normalizes the composition and checks the capacity record.
func (s *BatterySample) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("battery sample needs a name")
	}
	if err := s.Composition.Normalize(); err != nil {
		return err
	}
	return s.Capacity.validate()
}

// sampleDoc is the reduced sample section of the payload document: tomato
// only needs the name and the nominal capacity.
func (s *BatterySample) sampleDoc() map[string]interface{} {
	return map[string]interface{}{
		"name":     s.Name,
		"capacity": s.Capacity.Nominal,
	}
}
