package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type LeafType uint8

const (
	LeafUnspecified LeafType = iota
	LeafSensor
	LeafActuator
)

func (l LeafType) String() string {
	switch l {
	case LeafSensor:
		return "sensor"
	case LeafActuator:
		return "actuator"
	default:
		return "unspecified"
	}
}

func (l LeafType) MarshalJSON() ([]byte, error) {
	if l != LeafSensor && l != LeafActuator {
		return nil, fmt.Errorf("cannot marshal leaf type %d", l)
	}
	return json.Marshal(l.String())
}

func (l *LeafType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("leaf type must be a string: %w", err)
	}
	parsed, err := ParseLeafType(name)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func ParseLeafType(name string) (LeafType, error) {
	switch strings.ToLower(name) {
	case "sensor":
		return LeafSensor, nil
	case "actuator":
		return LeafActuator, nil
	default:
		return LeafUnspecified, fmt.Errorf("unknown leaf type %q", name)
	}
}

// State is the frequently updated part of a signal.
type State struct {
	Value        Value `json:"value"`
	Capability   bool  `json:"capability"`   // producer supports the signal
	Availability bool  `json:"availability"` // current data is trustworthy
}

// StatePatch carries the fields a Set request provides. Absent fields keep
// their current value.
type StatePatch struct {
	Value        *Value `json:"value,omitempty"`
	Capability   *bool  `json:"capability,omitempty"`
	Availability *bool  `json:"availability,omitempty"`
}

func (p StatePatch) Apply(s State) State {
	if p.Value != nil {
		s.Value = *p.Value
	}
	if p.Capability != nil {
		s.Capability = *p.Capability
	}
	if p.Availability != nil {
		s.Availability = *p.Availability
	}
	return s
}

// PatchFromState builds a patch that overwrites every field.
func PatchFromState(s State) StatePatch {
	value := s.Value
	capability := s.Capability
	availability := s.Availability
	return StatePatch{Value: &value, Capability: &capability, Availability: &availability}
}

// Config is fixed when the signal is registered.
type Config struct {
	LeafType    LeafType  `json:"leaf_type"`
	DataType    ValueType `json:"data_type"`
	Description string    `json:"description,omitempty"`
	EndPoint    string    `json:"end_point,omitempty"`
	Unit        string    `json:"unit,omitempty"`
}

type Signal struct {
	Path   string `json:"path"`
	State  State  `json:"state"`
	Config Config `json:"config"`
}

func (s *Signal) Validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("signal path is required")
	}
	if s.Config.LeafType != LeafSensor && s.Config.LeafType != LeafActuator {
		return fmt.Errorf("signal %q: leaf type must be sensor or actuator", s.Path)
	}
	if !s.Config.DataType.Valid() {
		return fmt.Errorf("signal %q: invalid data type %s", s.Path, s.Config.DataType)
	}
	if s.State.Value.Type() != s.Config.DataType {
		return fmt.Errorf("signal %q: default value is %s, data type is %s", s.Path, s.State.Value.Type(), s.Config.DataType)
	}
	return nil
}
