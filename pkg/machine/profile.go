// Machine profiles
//
// Geometry and rate constants live in a YAML profile; the built-in
// defaults describe a Kossel-class delta. The kinematics name selects
// one of a closed set of machine kinds.
package machine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind is the closed kinematics enum.
type Kind int

const (
	KindDelta Kind = iota
	KindCartesian
)

// KindFromString parses the profile's kinematics field.
func KindFromString(s string) (Kind, error) {
	switch s {
	case "delta", "":
		return KindDelta, nil
	case "cartesian":
		return KindCartesian, nil
	default:
		return 0, fmt.Errorf("unsupported kinematics %q", s)
	}
}

// DeltaGeometry is the delta machine section of a profile.
type DeltaGeometry struct {
	Radius      float64 `yaml:"radius"`
	RodLength   float64 `yaml:"rod_length"`
	BuildHeight float64 `yaml:"build_height"`
	PrintRadius float64 `yaml:"print_radius"`
}

// CartesianGeometry is the cartesian machine section of a profile.
type CartesianGeometry struct {
	SizeX float64 `yaml:"size_x"`
	SizeY float64 `yaml:"size_y"`
	SizeZ float64 `yaml:"size_z"`
}

// Rates bound machine speeds, all in mm/s.
type Rates struct {
	DefaultMove float64 `yaml:"default_move"`
	MaxMove     float64 `yaml:"max_move"`
	MaxExtrude  float64 `yaml:"max_extrude"`
	MaxRetract  float64 `yaml:"max_retract"`
	Home        float64 `yaml:"home"`
}

// Pins assigns opaque backend pin numbers.
type Pins struct {
	Step    []uint32 `yaml:"step"`
	Enable  []uint32 `yaml:"enable"`
	Endstop []uint32 `yaml:"endstop"`
	Hotend  uint32   `yaml:"hotend"`
	Bed     uint32   `yaml:"bed"`
	Fan     uint32   `yaml:"fan"`
}

// Heaters bounds the thermal targets.
type Heaters struct {
	HotendMaxTemp float64 `yaml:"hotend_max_temp"`
	BedMaxTemp    float64 `yaml:"bed_max_temp"`
}

// Profile is a full machine description.
type Profile struct {
	Kinematics string            `yaml:"kinematics"`
	Delta      DeltaGeometry     `yaml:"delta"`
	Cartesian  CartesianGeometry `yaml:"cartesian"`
	StepsPerMM []float64         `yaml:"steps_per_mm"` // per axis, len 4
	Rates      Rates             `yaml:"rates"`
	MaxAccel   float64           `yaml:"max_accel"` // 0 disables the accel transform
	Pins       Pins              `yaml:"pins"`
	Heaters    Heaters           `yaml:"heaters"`

	// BedPoints holds three probed bed points for plane leveling;
	// empty disables leveling.
	BedPoints [][3]float64 `yaml:"bed_points"`
}

// DefaultProfile describes a mid-size delta printer.
func DefaultProfile() *Profile {
	return &Profile{
		Kinematics: "delta",
		Delta: DeltaGeometry{
			Radius:      100,
			RodLength:   250,
			BuildHeight: 200,
			PrintRadius: 90,
		},
		StepsPerMM: []float64{100, 100, 100, 150},
		Rates: Rates{
			DefaultMove: 30,
			MaxMove:     150,
			MaxExtrude:  10,
			MaxRetract:  10,
			Home:        10,
		},
		Pins: Pins{
			Step:    []uint32{0, 1, 2, 3},
			Enable:  []uint32{4, 5, 6, 7},
			Endstop: []uint32{8, 9, 10},
			Hotend:  11,
			Bed:     12,
			Fan:     13,
		},
		Heaters: Heaters{HotendMaxTemp: 280, BedMaxTemp: 120},
	}
}

// LoadProfile reads a YAML profile, layered over the defaults.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Validate rejects incoherent profiles early.
func (p *Profile) Validate() error {
	if _, err := KindFromString(p.Kinematics); err != nil {
		return err
	}
	if len(p.StepsPerMM) != 4 {
		return fmt.Errorf("steps_per_mm needs 4 entries, got %d", len(p.StepsPerMM))
	}
	for i, s := range p.StepsPerMM {
		if s <= 0 {
			return fmt.Errorf("steps_per_mm[%d] must be positive", i)
		}
	}
	if len(p.Pins.Step) != 4 {
		return fmt.Errorf("pins.step needs 4 entries, got %d", len(p.Pins.Step))
	}
	if len(p.Pins.Endstop) != 3 {
		return fmt.Errorf("pins.endstop needs 3 entries, got %d", len(p.Pins.Endstop))
	}
	if n := len(p.BedPoints); n != 0 && n != 3 {
		return fmt.Errorf("bed_points needs exactly 3 points, got %d", n)
	}
	return nil
}

// mmSteps converts the profile's steps-per-mm into mm-per-step.
func (p *Profile) mmSteps() [4]float64 {
	var out [4]float64
	for i, s := range p.StepsPerMM {
		out[i] = 1 / s
	}
	return out
}
