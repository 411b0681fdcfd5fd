package settings

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Override is a per-origin visibility rule. On disk it is stored as the
// boolean mapping users expect: true, false, or no entry.
type Override int

const (
	Inherit Override = iota
	ForceOn
	ForceOff
)

func (o Override) String() string {
	switch o {
	case ForceOn:
		return "on"
	case ForceOff:
		return "off"
	default:
		return "inherit"
	}
}

// Next cycles inherit → on → off → inherit.
func (o Override) Next() Override {
	switch o {
	case Inherit:
		return ForceOn
	case ForceOn:
		return ForceOff
	default:
		return Inherit
	}
}

// ParseOverride accepts on/off/inherit and the boolean spellings.
func ParseOverride(v string) (Override, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "show", "enable":
		return ForceOn, nil
	case "off", "false", "hide", "disable":
		return ForceOff, nil
	case "inherit", "default", "", "clear":
		return Inherit, nil
	}
	return Inherit, fmt.Errorf("%w: %q", ErrUnknownOverride, v)
}

func (o Override) MarshalYAML() (interface{}, error) {
	return o == ForceOn, nil
}

func (o *Override) UnmarshalYAML(node *yaml.Node) error {
	var b bool
	if err := node.Decode(&b); err != nil {
		return err
	}
	*o = fromBool(b)
	return nil
}

func (o Override) MarshalJSON() ([]byte, error) {
	return json.Marshal(o == ForceOn)
}

func (o *Override) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	*o = fromBool(b)
	return nil
}

func fromBool(b bool) Override {
	if b {
		return ForceOn
	}
	return ForceOff
}
