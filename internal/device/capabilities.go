package device

import (
	"fmt"
	"strconv"
)

// ValueKind classifies a capability's value type.
type ValueKind string

// ValueKind constants.
const (
	KindBool   ValueKind = "bool"
	KindNumber ValueKind = "number"
	KindEnum   ValueKind = "enum"
	KindString ValueKind = "string"
)

// Capability describes a named controllable or read-only device parameter.
//
// Capabilities are fixed per device type at discovery time. The Key is the
// vendor wire key; Name is the canonical capability name exposed to
// consumers. Scale converts raw wire numbers to canonical units (the vendor
// reports most temperatures and humidities in tenths).
type Capability struct {
	Name     string    `json:"name"`
	Key      string    `json:"key"`
	Kind     ValueKind `json:"kind"`
	Writable bool      `json:"writable"`

	// Numeric constraints (Kind == KindNumber, writable only)
	Min float64 `json:"min,omitempty"`
	Max float64 `json:"max,omitempty"`

	// Scale divides raw wire values; zero means no scaling.
	Scale float64 `json:"scale,omitempty"`

	// Enum values (Kind == KindEnum)
	Enum []string `json:"enum,omitempty"`
}

func (c Capability) clone() Capability {
	cpy := c
	if c.Enum != nil {
		cpy.Enum = make([]string, len(c.Enum))
		copy(cpy.Enum, c.Enum)
	}
	return cpy
}

// Canonical capability names.
const (
	CapPower          = "power"
	CapFanSpeed       = "fan_speed"
	CapFanMode        = "fan_mode"
	CapMode           = "mode"
	CapSetup          = "setup"
	CapTargetTemp     = "target_temperature"
	CapTargetHumidity = "target_humidity"
	CapFilterLife     = "filter_life"
	CapOutdoorTemp    = "outdoor_temperature"
	CapIndoorTemp     = "indoor_temperature"
	CapExhaustTemp    = "exhaust_temperature"
	CapCurrentTemp    = "current_temperature"
	CapIndoorHumidity = "indoor_humidity"
	CapCurrentHum     = "current_humidity"
	CapAirPressure    = "air_pressure"
	CapCO2Level       = "co2_level"
	CapFireplace      = "fireplace"
	CapHumidifier     = "humidifier"
	CapRelay1         = "relay_1"
	CapRelay1Name     = "relay_1_name"
	CapRelay2         = "relay_2"
	CapRelay2Name     = "relay_2_name"
)

// Mode values accepted by the vendor firmware.
const (
	ModeOff     = "0"
	ModeHeating = "1"
	ModeCooling = "2"
)

// baseCapabilities are shared by every known device type.
func baseCapabilities() []Capability {
	return []Capability{
		{Name: CapPower, Key: "on", Kind: KindBool, Writable: true},
		{Name: CapFanSpeed, Key: "fan_speed", Kind: KindEnum, Writable: true,
			Enum: []string{"auto", "0", "1", "2", "3"}},
		{Name: CapFanMode, Key: "fan_mode", Kind: KindString},
		{Name: CapMode, Key: "mode", Kind: KindEnum, Writable: true,
			Enum: []string{ModeOff, ModeHeating, ModeCooling}},
		{Name: CapSetup, Key: "setup", Kind: KindString},
		{Name: CapTargetTemp, Key: "temp_sp", Kind: KindNumber, Writable: true, Min: 15, Max: 50},
		{Name: CapFilterLife, Key: "filter", Kind: KindNumber},
		{Name: CapOutdoorTemp, Key: "out_temp", Kind: KindNumber, Scale: 10},
		{Name: CapIndoorTemp, Key: "in_temp", Kind: KindNumber, Scale: 10},
		{Name: CapExhaustTemp, Key: "exh_temp", Kind: KindNumber, Scale: 10},
		{Name: CapAirPressure, Key: "air_pres", Kind: KindNumber},
		{Name: CapCO2Level, Key: "CO2_level", Kind: KindNumber},
	}
}

// capsuleCapabilities extends the base set with the humidification and
// relay hardware present on Capsule units.
func capsuleCapabilities() []Capability {
	return append(baseCapabilities(), []Capability{
		{Name: CapCurrentTemp, Key: "temp_curr", Kind: KindNumber, Scale: 10},
		{Name: CapCurrentHum, Key: "hum_curr", Kind: KindNumber, Scale: 10},
		{Name: CapIndoorHumidity, Key: "in_humid", Kind: KindNumber, Scale: 10},
		{Name: CapTargetHumidity, Key: "hum_sp", Kind: KindNumber, Writable: true, Min: 40, Max: 100},
		{Name: CapFireplace, Key: "firep", Kind: KindBool, Writable: true},
		{Name: CapHumidifier, Key: "humib", Kind: KindBool, Writable: true},
		{Name: CapRelay1, Key: "relay_1", Kind: KindBool, Writable: true},
		{Name: CapRelay1Name, Key: "relay_1_name", Kind: KindString, Writable: true},
		{Name: CapRelay2, Key: "relay_2", Kind: KindBool, Writable: true},
		{Name: CapRelay2Name, Key: "relay_2_name", Kind: KindString, Writable: true},
	}...)
}

// CapabilitiesForType returns the advertised capability set for a device
// type. Unknown types get the base set.
func CapabilitiesForType(deviceType string) []Capability {
	switch deviceType {
	case "Capsule":
		return capsuleCapabilities()
	default:
		return baseCapabilities()
	}
}

// DecodeState converts a raw vendor state object into canonical capability
// values using the device's capability set. Unknown keys are ignored;
// numeric values are scaled into canonical units. Both channels return the
// same wire shape, so this is the single decode path.
func DecodeState(caps []Capability, raw map[string]any) map[string]any {
	values := make(map[string]any, len(raw))

	for _, c := range caps {
		rv, ok := raw[c.Key]
		if !ok {
			continue
		}

		v, err := decodeValue(c, rv)
		if err != nil {
			// Malformed single values are dropped rather than failing
			// the whole snapshot; the vendor firmware is not strict.
			continue
		}
		values[c.Name] = v
	}

	return values
}

// decodeValue converts a single raw wire value to its canonical form.
func decodeValue(c Capability, raw any) (any, error) {
	switch c.Kind {
	case KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return v == "true" || v == "1", nil
		case float64:
			return v != 0, nil
		}
		return nil, fmt.Errorf("capability %s: unexpected bool encoding %T", c.Name, raw)

	case KindNumber:
		var n float64
		switch v := raw.(type) {
		case float64:
			n = v
		case string:
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("capability %s: %w", c.Name, err)
			}
			n = parsed
		default:
			return nil, fmt.Errorf("capability %s: unexpected number encoding %T", c.Name, raw)
		}
		if c.Scale > 0 {
			n /= c.Scale
		}
		return n, nil

	case KindEnum, KindString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			// The firmware sometimes reports enum values as numbers.
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
		return nil, fmt.Errorf("capability %s: unexpected string encoding %T", c.Name, raw)
	}

	return nil, fmt.Errorf("capability %s: unknown kind %q", c.Name, c.Kind)
}

// ValidateValue normalises and validates a value for a writable capability.
// The returned value is in canonical form (bool, float64 or string) and is
// what gets encoded on the wire.
func ValidateValue(c Capability, value any) (any, error) {
	switch c.Kind {
	case KindBool:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a boolean", ErrValueRejected, c.Name)
		}
		return v, nil

	case KindNumber:
		var n float64
		switch v := value.(type) {
		case float64:
			n = v
		case int:
			n = float64(v)
		default:
			return nil, fmt.Errorf("%w: %s expects a number", ErrValueRejected, c.Name)
		}
		if (c.Min != 0 || c.Max != 0) && (n < c.Min || n > c.Max) {
			return nil, fmt.Errorf("%w: %s must be within [%g:%g], got %g",
				ErrValueRejected, c.Name, c.Min, c.Max, n)
		}
		return n, nil

	case KindEnum:
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string", ErrValueRejected, c.Name)
		}
		for _, allowed := range c.Enum {
			if v == allowed {
				return v, nil
			}
		}
		return nil, fmt.Errorf("%w: %s must be one of %v, got %q",
			ErrValueRejected, c.Name, c.Enum, v)

	case KindString:
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string", ErrValueRejected, c.Name)
		}
		return v, nil
	}

	return nil, fmt.Errorf("%w: unknown capability kind %q", ErrValueRejected, c.Kind)
}
